package frame

import (
	"errors"
	"testing"
)

func TestDecodeFeedback(t *testing.T) {
	resp := []byte{0xFF, 0x55, 0x08, 0x2F, 0xA0, 0x12, 0x01, 0x10, 0x03, 0x02, 0x01, 0x00}
	fb, err := DecodeFeedback(resp)
	if err != nil {
		t.Fatal(err)
	}
	want := Feedback{Power: true, Volume: 0x10, Source: 3, Zone: 2, Muted: true}
	if fb != want {
		t.Errorf("got %+v, want %+v", fb, want)
	}
}

func TestDecodeFeedbackZeroFlags(t *testing.T) {
	resp := make([]byte, MinFeedbackLen)
	fb, err := DecodeFeedback(resp)
	if err != nil {
		t.Fatal(err)
	}
	if fb.Power || fb.Muted {
		t.Errorf("zero bytes decoded as %+v", fb)
	}
}

func TestDecodeFeedbackShort(t *testing.T) {
	for _, n := range []int{0, 5, MinFeedbackLen - 1} {
		_, err := DecodeFeedback(make([]byte, n))
		if !errors.Is(err, ErrDecode) {
			t.Errorf("len %d: err = %v, want ErrDecode", n, err)
		}
	}
}
