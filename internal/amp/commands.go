package amp

import (
	"fmt"
	"math"
)

// Command payloads all start with the same two-byte header followed by an
// opcode, an argument and a zone byte. The high nibble of the zone byte
// selects a channel group; the low nibble is the zone number.
const (
	hdr0 = 0x2F
	hdr1 = 0xA0

	opPowerOn  = 0x01
	opPowerOff = 0x02
	opMute     = 0x12
	opVolume   = 0x13
	opSource   = 0x15

	chanPower = 0xF
	chanAudio = 0x5

	// MuteChannelDefault is the channel nibble used by current firmware for
	// the mute toggle. Older firmware used chanAudio.
	MuteChannelDefault = 0x3
)

// Command is a named payload ready to be framed.
type Command struct {
	Name    string
	Payload []byte
}

func (c Command) String() string {
	return fmt.Sprintf("%s[% X]", c.Name, c.Payload)
}

func zoneByte(channel byte, zone int) byte {
	return channel<<4 | byte(zone)&0x0F
}

func payload(op, arg, zb byte) []byte {
	return []byte{hdr0, hdr1, op, arg, zb}
}

// PowerOnCommand switches zone on.
func PowerOnCommand(zone int) Command {
	return Command{Name: "turn_on", Payload: payload(opPowerOn, 0x00, zoneByte(chanPower, zone))}
}

// PowerOffCommand switches zone off.
func PowerOffCommand(zone int) Command {
	return Command{Name: "turn_off", Payload: payload(opPowerOff, 0x01, zoneByte(chanPower, zone))}
}

// VolumeCommand sets the absolute volume step of zone.
func VolumeCommand(zone int, step byte) Command {
	return Command{Name: "set_volume", Payload: payload(opVolume, step, zoneByte(chanAudio, zone))}
}

// MuteToggleCommand flips the mute state of zone. The amplifier offers no
// absolute mute.
func MuteToggleCommand(zone int, channel byte) Command {
	return Command{Name: "toggle_mute", Payload: payload(opMute, 0x01, zoneByte(channel, zone))}
}

// SourceCommand selects the input with the given wire code on zone.
func SourceCommand(zone int, code byte) Command {
	return Command{Name: "select_source", Payload: payload(opSource, code, zoneByte(chanAudio, zone))}
}

// StatusProbe returns the payload used to solicit a status response. No
// dedicated status query is known, so a harmless mute command addressed to a
// zone other than the active one is sent and its reply read as feedback.
// This assumes only one zone is in use.
func StatusProbe(zone int) Command {
	target := byte(0x72)
	if zone != 1 {
		target = 0x71
	}
	return Command{Name: "poll", Payload: payload(opMute, 0x00, target)}
}

// VolumeStep converts a level in [0,1] to the device's step scale, rounding
// halves to even.
func VolumeStep(level float64, maxVolume int) byte {
	return byte(math.RoundToEven(level * float64(maxVolume)))
}
