//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"
)

const manufacturer = "Dynaudio"

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/switch/dynaudio_living/power/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	CommandTemplate   string   `json:"command_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	StateOn           string   `json:"state_on,omitempty"`
	StateOff          string   `json:"state_off,omitempty"`
	Options           []string `json:"options,omitempty"`
	Min               *float64 `json:"min,omitempty"`
	Max               *float64 `json:"max,omitempty"`
	Step              *float64 `json:"step,omitempty"`
	Mode              string   `json:"mode,omitempty"`
	Device            haDevice `json:"device"`
}

// deviceInfo is what discovery needs to know about an amplifier.
type deviceInfo struct {
	ID      string
	Name    string
	Sources []string
}

// deviceIdentifier returns the unique identifier for HA device registry.
func deviceIdentifier(id string) string {
	return "dynaudio_" + deviceTopicName(id)
}

// deviceTopicName sanitizes a device id for use in MQTT topics.
func deviceTopicName(id string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, strings.ToLower(id))
}

func stateTopic(prefix, id string) string {
	return prefix + "/" + deviceTopicName(id)
}

func commandTopic(prefix, id string) string {
	return stateTopic(prefix, id) + "/set"
}

func num(v float64) *float64 { return &v }

// entity is one discovered HA entity of an amplifier.
type entity struct {
	component string
	object    string
	suffix    string
	fill      func(*haDiscovery, deviceInfo)
}

var entities = []entity{
	{"switch", "power", "Power", func(d *haDiscovery, _ deviceInfo) {
		d.ValueTemplate = "{{ value_json.state }}"
		d.PayloadOn = `{"state":"ON"}`
		d.PayloadOff = `{"state":"OFF"}`
		d.StateOn = "ON"
		d.StateOff = "OFF"
		d.Icon = "mdi:amplifier"
	}},
	{"number", "volume", "Volume", func(d *haDiscovery, _ deviceInfo) {
		d.ValueTemplate = "{{ (value_json.volume * 100) | round(0) }}"
		d.CommandTemplate = `{"volume": {{ value / 100 }}}`
		d.UnitOfMeasurement = "%"
		d.Min, d.Max, d.Step = num(0), num(100), num(1)
		d.Mode = "slider"
		d.Icon = "mdi:volume-high"
	}},
	{"switch", "mute", "Mute", func(d *haDiscovery, _ deviceInfo) {
		d.ValueTemplate = "{{ 'ON' if value_json.muted else 'OFF' }}"
		d.PayloadOn = `{"mute":true}`
		d.PayloadOff = `{"mute":false}`
		d.StateOn = "ON"
		d.StateOff = "OFF"
		d.Icon = "mdi:volume-off"
	}},
	{"select", "source", "Source", func(d *haDiscovery, dev deviceInfo) {
		d.ValueTemplate = "{{ value_json.source }}"
		d.CommandTemplate = `{"source": "{{ value }}"}`
		d.Options = dev.Sources
		d.Icon = "mdi:import"
	}},
	{"number", "zone", "Zone", func(d *haDiscovery, _ deviceInfo) {
		d.ValueTemplate = "{{ value_json.zone }}"
		d.CommandTemplate = `{"zone": {{ value | int }}}`
		d.Min, d.Max, d.Step = num(1), num(3), num(1)
		d.Mode = "box"
		d.Icon = "mdi:speaker-multiple"
	}},
	{"sensor", "media_title", "Now Playing", func(d *haDiscovery, _ deviceInfo) {
		d.ValueTemplate = "{{ value_json.media_title }}"
		d.Icon = "mdi:music"
	}},
}

// buildDiscovery generates HA discovery messages for an amplifier.
func buildDiscovery(dev deviceInfo, prefix, discoveryPrefix string) []discoveryMsg {
	nodeID := deviceIdentifier(dev.ID)
	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: manufacturer,
		Model:        "Connect",
		Name:         dev.Name,
	}

	msgs := make([]discoveryMsg, 0, len(entities))
	for _, e := range entities {
		payload := haDiscovery{
			Name:              dev.Name + " " + e.suffix,
			UniqueID:          nodeID + "_" + e.object,
			StateTopic:        stateTopic(prefix, dev.ID),
			AvailabilityTopic: prefix + "/bridge/state",
			Device:            haDev,
		}
		if e.component != "sensor" {
			payload.CommandTopic = commandTopic(prefix, dev.ID)
		}
		e.fill(&payload, dev)
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, e.component, nodeID, e.object),
			Payload: mustJSON(payload),
		})
	}
	return msgs
}

// buildRemoveDiscovery generates empty retained messages to remove an
// amplifier from HA.
func buildRemoveDiscovery(id, discoveryPrefix string) []discoveryMsg {
	nodeID := deviceIdentifier(id)
	msgs := make([]discoveryMsg, 0, len(entities))
	for _, e := range entities {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, e.component, nodeID, e.object),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}
