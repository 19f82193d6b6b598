package frame

import (
	"bytes"
	"errors"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := ParseHex(s)
	if err != nil {
		t.Fatalf("ParseHex(%q): %v", s, err)
	}
	return b
}

func TestChecksumKnownValues(t *testing.T) {
	tests := []struct {
		payload string
		want    byte
	}{
		{"2F A0 12 00 72", 0xA8},
		{"2F A0 12 00 71", 0xA9},
		{"2F A0 01 00 F1", 0x3A},
		{"2F A0 01 00 F2", 0x39},
		{"2F A0 02 01 F1", 0x38},
		{"2F A0 02 01 F3", 0x36},
		{"2F A0 13 10 51", 0xB8},
		{"2F A0 13 1F 51", 0xA9},
		{"2F A0 13 00 51", 0xC8},
		{"2F A0 12 01 31", 0xE8},
		{"2F A0 12 01 51", 0xC8},
		{"2F A0 15 03 52", 0xC2},
		{"2F A0 15 06 52", 0xBF},
		{"00", 0xFF},
		{"FF", 0x00},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			if got := Checksum(mustHex(t, tt.payload)); got != tt.want {
				t.Errorf("Checksum = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

func TestChecksumEmpty(t *testing.T) {
	if got := Checksum(nil); got != 0x00 {
		t.Errorf("Checksum(nil) = 0x%02X, want 0x00", got)
	}
}

func TestEncodeStatusProbe(t *testing.T) {
	got, err := Encode(mustHex(t, "2F A0 12 00 72"))
	if err != nil {
		t.Fatal(err)
	}
	want := mustHex(t, "FF 55 05 2F A0 12 00 72 A8")
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = %s, want %s", FormatHex(got), FormatHex(want))
	}
}

func TestEncodeShape(t *testing.T) {
	for n := 0; n <= MaxPayload; n++ {
		payload := bytes.Repeat([]byte{0x01}, n)
		f, err := Encode(payload)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if len(f) != n+4 {
			t.Fatalf("n=%d: len = %d, want %d", n, len(f), n+4)
		}
		if f[0] != 0xFF || f[1] != 0x55 {
			t.Fatalf("n=%d: prefix = %02X %02X", n, f[0], f[1])
		}
		if !bytes.Equal(f[3:3+n], payload) {
			t.Fatalf("n=%d: payload not copied verbatim", n)
		}
		if f[len(f)-1] != Checksum(payload) {
			t.Fatalf("n=%d: trailing byte is not the checksum", n)
		}
	}
}

func TestEncodeLengthByte(t *testing.T) {
	tests := []struct {
		n    int
		want byte
	}{
		{0, 0x00},
		{5, 0x05},
		{9, 0x09},
		{10, 0x10},
		{12, 0x12},
		{99, 0x99},
	}
	for _, tt := range tests {
		f, err := Encode(make([]byte, tt.n))
		if err != nil {
			t.Fatalf("n=%d: %v", tt.n, err)
		}
		if f[2] != tt.want {
			t.Errorf("n=%d: length byte = 0x%02X, want 0x%02X", tt.n, f[2], tt.want)
		}
	}
}

func TestEncodeTooLong(t *testing.T) {
	_, err := Encode(make([]byte, MaxPayload+1))
	if !errors.Is(err, ErrPayloadTooLong) {
		t.Fatalf("err = %v, want ErrPayloadTooLong", err)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	payloads := []string{"2F A0 01 00 F1", "2F A0 15 03 52", "00"}
	for _, p := range payloads {
		payload := mustHex(t, p)
		got, err := Decode(MustEncode(payload))
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("%s: decoded %s", p, FormatHex(got))
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"short", "FF 55", ErrLength},
		{"prefix", "FE 55 01 00 FF", ErrBadPrefix},
		{"length", "FF 55 03 00 FF", ErrLength},
		{"bad length digit", "FF 55 0A 00 FF", ErrLength},
		{"checksum", "FF 55 05 2F A0 12 00 72 A9", ErrChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(mustHex(t, tt.in))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseHex(t *testing.T) {
	got, err := ParseHex("2f  A0 12\t00 72")
	if err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x2F, 0xA0, 0x12, 0x00, 0x72}; !bytes.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, bad := range []string{"2", "2F0", "ZZ"} {
		if _, err := ParseHex(bad); err == nil {
			t.Errorf("ParseHex(%q) succeeded", bad)
		}
	}
}

func TestFormatHex(t *testing.T) {
	if got := FormatHex([]byte{0xFF, 0x55, 0x05, 0x0a}); got != "FF 55 05 0A" {
		t.Errorf("FormatHex = %q", got)
	}
	if got := FormatHex(nil); got != "" {
		t.Errorf("FormatHex(nil) = %q", got)
	}
}
