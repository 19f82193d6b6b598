// Package frame implements the Dynaudio Connect control frame format:
//
//	FF 55 <len> <payload...> <checksum>
//
// It is pure byte manipulation with no I/O.
package frame

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	sync0 = 0xFF
	sync1 = 0x55

	headerSize = 3 // sync(2) + len(1)

	// MaxPayload is the longest payload the length byte can express.
	MaxPayload = 99
)

var (
	ErrPayloadTooLong = errors.New("frame: payload too long")
	ErrBadPrefix      = errors.New("frame: bad prefix")
	ErrLength         = errors.New("frame: length mismatch")
	ErrChecksum       = errors.New("frame: checksum mismatch")
)

// Checksum returns the trailing checksum byte for payload.
//
// With s the byte sum, n the byte count and x = ceil(s/255):
//
//	checksum = (x*255 - s - (n - x)) mod 256
func Checksum(payload []byte) byte {
	sum := 0
	for _, b := range payload {
		sum += int(b)
	}
	x := (sum + 254) / 255
	v := x*255 - sum - (len(payload) - x)
	return byte(v & 0xFF)
}

// lengthByte writes n as two decimal digits packed into one byte, which is
// how the amplifier firmware expects the length field. For n < 10 this is
// simply n.
func lengthByte(n int) byte {
	return byte((n/10)<<4 | n%10)
}

func parseLengthByte(b byte) (int, bool) {
	hi, lo := int(b>>4), int(b&0x0F)
	if hi > 9 || lo > 9 {
		return 0, false
	}
	return hi*10 + lo, true
}

// Encode wraps payload into a complete frame.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(payload))
	}
	out := make([]byte, 0, headerSize+len(payload)+1)
	out = append(out, sync0, sync1, lengthByte(len(payload)))
	out = append(out, payload...)
	out = append(out, Checksum(payload))
	return out, nil
}

// MustEncode is Encode for payloads known to fit, such as the fixed command
// templates.
func MustEncode(payload []byte) []byte {
	f, err := Encode(payload)
	if err != nil {
		panic(err)
	}
	return f
}

// Decode verifies a complete frame and returns its payload.
func Decode(data []byte) ([]byte, error) {
	if len(data) < headerSize+1 {
		return nil, fmt.Errorf("%w: frame too short: %d bytes", ErrLength, len(data))
	}
	if data[0] != sync0 || data[1] != sync1 {
		return nil, fmt.Errorf("%w: 0x%02X%02X", ErrBadPrefix, data[0], data[1])
	}
	n, ok := parseLengthByte(data[2])
	if !ok {
		return nil, fmt.Errorf("%w: invalid length byte 0x%02X", ErrLength, data[2])
	}
	if want := headerSize + n + 1; len(data) != want {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrLength, want, len(data))
	}
	payload := data[headerSize : headerSize+n]
	if got, want := data[len(data)-1], Checksum(payload); got != want {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, got, want)
	}
	return payload, nil
}

// ParseHex parses the space separated hex form used in logs and the API,
// e.g. "2F A0 01 00 F1".
func ParseHex(s string) ([]byte, error) {
	fields := strings.Fields(s)
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		if len(f) != 2 {
			return nil, fmt.Errorf("frame: bad hex byte %q", f)
		}
		b, err := hex.DecodeString(f)
		if err != nil {
			return nil, fmt.Errorf("frame: bad hex byte %q: %w", f, err)
		}
		out = append(out, b[0])
	}
	return out, nil
}

// FormatHex renders b as uppercase two-digit hex separated by spaces.
func FormatHex(b []byte) string {
	return fmt.Sprintf("% X", b)
}
