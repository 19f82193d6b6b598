package frame

import (
	"errors"
	"fmt"
)

// ErrDecode is returned when a status response is too short to carry
// feedback.
var ErrDecode = errors.New("frame: cannot decode feedback")

// Byte offsets within a status response. Power and zone positions have only
// been observed on a single firmware and may shift on others.
const (
	offPower  = 6
	offVolume = 7
	offSource = 8
	offZone   = 9
	offMute   = 10

	// MinFeedbackLen is the shortest response that carries every field.
	MinFeedbackLen = 11
)

// Feedback holds the raw fields of a status response.
type Feedback struct {
	Power  bool
	Volume byte
	Source byte
	Zone   byte
	Muted  bool
}

// DecodeFeedback extracts status fields from a raw response. The response
// is read as-is; no prefix or checksum validation is applied because the
// amplifier's reply framing is not documented.
func DecodeFeedback(resp []byte) (Feedback, error) {
	if len(resp) < MinFeedbackLen {
		return Feedback{}, fmt.Errorf("%w: %d bytes, need %d", ErrDecode, len(resp), MinFeedbackLen)
	}
	return Feedback{
		Power:  resp[offPower] != 0,
		Volume: resp[offVolume],
		Source: resp[offSource],
		Zone:   resp[offZone],
		Muted:  resp[offMute] != 0,
	}, nil
}
