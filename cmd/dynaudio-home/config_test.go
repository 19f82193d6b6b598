package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dynaudio-go-home/internal/amp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
amplifiers:
  - id: living
    host: 192.168.1.40
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}

	a := cfg.Amplifiers[0]
	if a.Port != 1901 || time.Duration(a.Timeout) != 2*time.Second || a.FailureThreshold != 3 {
		t.Errorf("amplifier defaults = %+v", a)
	}
	if time.Duration(*cfg.Poll.Interval) != 10*time.Second || !*cfg.Poll.Initial {
		t.Errorf("poll = %v %v", *cfg.Poll.Interval, *cfg.Poll.Initial)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" || cfg.ScriptsDir != "scripts" {
		t.Errorf("web/scripts defaults: %q %q", cfg.Web.Listen, cfg.ScriptsDir)
	}
	if cfg.MQTT.TopicPrefix != "dynaudio" || cfg.MQTT.DiscoveryPrefix != "homeassistant" {
		t.Errorf("mqtt defaults: %q %q", cfg.MQTT.TopicPrefix, cfg.MQTT.DiscoveryPrefix)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log defaults: %q %q", cfg.Log.Level, cfg.Log.Format)
	}

	if got, want := a.controllerConfig(), amp.DefaultConfig("living"); got != want {
		t.Errorf("controller config = %+v, want %+v", got, want)
	}
}

func TestLoadConfigFull(t *testing.T) {
	t.Setenv("AMP_API_KEY", "s3cret")
	cfg, err := loadConfig(writeConfig(t, `
amplifiers:
  - id: den
    name: Den Xeo
    host: den.local
    port: 1902
    max_volume: 20
    greedy_state: false
    default_zone: 2
    timeout: 500ms
    failure_threshold: 5
    mute_channel: 5
poll:
  interval: 0s
  initial: false
web:
  listen: ":9000"
  api_key: ${AMP_API_KEY}
mqtt:
  enabled: true
  broker: tcp://broker:1883
  retired: [old_amp]
log:
  level: debug
  format: json
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}

	if cfg.Web.APIKey != "s3cret" {
		t.Errorf("api key = %q, want expanded env", cfg.Web.APIKey)
	}
	if *cfg.Poll.Interval != 0 || *cfg.Poll.Initial {
		t.Errorf("poll = %v %v", *cfg.Poll.Interval, *cfg.Poll.Initial)
	}
	if len(cfg.MQTT.Retired) != 1 || cfg.MQTT.Retired[0] != "old_amp" {
		t.Errorf("retired = %v", cfg.MQTT.Retired)
	}

	a := cfg.Amplifiers[0]
	if a.Port != 1902 || time.Duration(a.Timeout) != 500*time.Millisecond || a.FailureThreshold != 5 {
		t.Errorf("amplifier = %+v", a)
	}
	want := amp.Config{ID: "den", Name: "Den Xeo", MaxVolume: 20, Greedy: false, Zone: 2, MuteChannel: 5}
	if got := a.controllerConfig(); got != want {
		t.Errorf("controller config = %+v, want %+v", got, want)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := loadConfig(writeConfig(t, "amplifiers: [")); err == nil {
		t.Error("malformed yaml should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no amplifiers", `web: {listen: ":1"}`, "at least one amplifier"},
		{"missing id", "amplifiers: [{host: a}]", "id is required"},
		{"bad id", "amplifiers: [{id: Living Room, host: a}]", "must match"},
		{"duplicate", "amplifiers: [{id: a, host: x}, {id: a, host: y}]", "duplicate"},
		{"missing host", "amplifiers: [{id: a}]", "host is required"},
		{"port", "amplifiers: [{id: a, host: x, port: 70000}]", "port"},
		{"max volume", "amplifiers: [{id: a, host: x, max_volume: -1}]", "max_volume"},
		{"zone", "amplifiers: [{id: a, host: x, default_zone: -1}]", "default_zone"},
		{"timeout", "amplifiers: [{id: a, host: x, timeout: -1s}]", "timeout"},
		{"mute channel", "amplifiers: [{id: a, host: x, mute_channel: 4}]", "mute_channel"},
		{"poll interval", "amplifiers: [{id: a, host: x}]\npoll: {interval: -1s}", "poll.interval"},
		{"mqtt broker", "amplifiers: [{id: a, host: x}]\nmqtt: {enabled: true}", "mqtt.broker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestBuildDevices(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
amplifiers:
  - id: living
    host: 127.0.0.1
  - id: den
    name: Den
    host: 127.0.0.2
`))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Log.Level = "error"
	devices, err := buildDevices(cfg, newLogger(cfg))
	if err != nil {
		t.Fatal(err)
	}

	list := devices.List()
	if len(list) != 2 || list[0].ID() != "living" || list[1].Name() != "Den" {
		t.Fatalf("devices = %v", list)
	}
	if h := list[0].Health(); h.Threshold != 3 || h.ConsecutiveFailures != 0 {
		t.Errorf("health = %+v", h)
	}
	if targets := pollTargets(devices)(); len(targets) != 2 || targets[1].ID() != "den" {
		t.Errorf("poll targets = %v", targets)
	}
}

func TestLoadConfigClampsAmplifierLimits(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "amplifiers: [{id: a, host: x, max_volume: 40, default_zone: 4}]"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate() = %v, want values above the limits accepted", err)
	}

	devices, err := buildDevices(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	c, err := devices.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	if c.MaxVolume() != amp.MaxVolumeLimit {
		t.Errorf("MaxVolume = %d, want %d", c.MaxVolume(), amp.MaxVolumeLimit)
	}
	if c.Zone() != amp.MaxZone {
		t.Errorf("Zone = %d, want %d", c.Zone(), amp.MaxZone)
	}
}

func TestDurationAcceptsBareNumbers(t *testing.T) {
	tests := []struct {
		yaml string
		want time.Duration
	}{
		{"0", 0},
		{"0s", 0},
		{"15", 15 * time.Second},
		{"1.5", 1500 * time.Millisecond},
		{"250ms", 250 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.yaml, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, "amplifiers: [{id: a, host: x, timeout: "+tt.yaml+"}]\npoll: {interval: "+tt.yaml+"}"))
			if err != nil {
				t.Fatal(err)
			}
			if got := time.Duration(*cfg.Poll.Interval); got != tt.want {
				t.Errorf("poll.interval = %v, want %v", got, tt.want)
			}
			if tt.want == 0 {
				return
			}
			if got := time.Duration(cfg.Amplifiers[0].Timeout); got != tt.want {
				t.Errorf("timeout = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := loadConfig(writeConfig(t, "poll: {interval: soon}")); err == nil {
		t.Error("non-duration interval should fail")
	}
}
