package main

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"dynaudio-go-home/internal/amp"
	"dynaudio-go-home/internal/transport"
)

// Duration is a time.Duration that also accepts a bare number, read as
// seconds, so "interval: 0" works as well as "interval: 0s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	switch n.ShortTag() {
	case "!!int", "!!float":
		var secs float64
		if err := n.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	var v time.Duration
	if err := n.Decode(&v); err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type AmplifierConfig struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	MaxVolume        int      `yaml:"max_volume"`
	GreedyState      *bool    `yaml:"greedy_state"`
	DefaultZone      int      `yaml:"default_zone"`
	Timeout          Duration `yaml:"timeout"`
	FailureThreshold int      `yaml:"failure_threshold"`
	MuteChannel      int      `yaml:"mute_channel"`
}

// controllerConfig maps the YAML entry onto the controller's settings.
func (a AmplifierConfig) controllerConfig() amp.Config {
	cfg := amp.DefaultConfig(a.ID)
	if a.Name != "" {
		cfg.Name = a.Name
	}
	if a.MaxVolume != 0 {
		cfg.MaxVolume = a.MaxVolume
	}
	if a.GreedyState != nil {
		cfg.Greedy = *a.GreedyState
	}
	if a.DefaultZone != 0 {
		cfg.Zone = a.DefaultZone
	}
	if a.MuteChannel != 0 {
		cfg.MuteChannel = byte(a.MuteChannel)
	}
	return cfg
}

type Config struct {
	Amplifiers []AmplifierConfig `yaml:"amplifiers"`
	Poll       struct {
		// Interval 0 disables periodic polling; unset means the default.
		Interval *Duration `yaml:"interval"`
		Initial  *bool     `yaml:"initial"`
	} `yaml:"poll"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	MQTT struct {
		Enabled         bool     `yaml:"enabled"`
		Broker          string   `yaml:"broker"`
		Username        string   `yaml:"username"`
		Password        string   `yaml:"password"`
		TopicPrefix     string   `yaml:"topic_prefix"`
		DiscoveryPrefix string   `yaml:"discovery_prefix"`
		Retired         []string `yaml:"retired"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

const defaultPollInterval = 10 * time.Second

var idRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

func (c *Config) validate() error {
	if len(c.Amplifiers) == 0 {
		return fmt.Errorf("at least one amplifier is required")
	}
	seen := make(map[string]bool, len(c.Amplifiers))
	for i, a := range c.Amplifiers {
		switch {
		case a.ID == "":
			return fmt.Errorf("amplifiers[%d].id is required", i)
		case !idRe.MatchString(a.ID):
			return fmt.Errorf("amplifiers[%d].id %q must match %s", i, a.ID, idRe)
		case seen[a.ID]:
			return fmt.Errorf("amplifiers[%d].id %q is a duplicate", i, a.ID)
		case a.Host == "":
			return fmt.Errorf("amplifiers[%d].host is required", i)
		case a.Port < 1 || a.Port > 65535:
			return fmt.Errorf("amplifiers[%d].port must be 1-65535, got %d", i, a.Port)
		case a.MaxVolume < 0:
			return fmt.Errorf("amplifiers[%d].max_volume must not be negative, got %d", i, a.MaxVolume)
		case a.DefaultZone < 0:
			return fmt.Errorf("amplifiers[%d].default_zone must not be negative, got %d", i, a.DefaultZone)
		case a.Timeout < 0:
			return fmt.Errorf("amplifiers[%d].timeout must not be negative", i)
		case a.MuteChannel != 0 && a.MuteChannel != 3 && a.MuteChannel != 5:
			return fmt.Errorf("amplifiers[%d].mute_channel must be 3 or 5, got %d", i, a.MuteChannel)
		}
		seen[a.ID] = true
	}
	if c.Poll.Interval != nil && *c.Poll.Interval < 0 {
		return fmt.Errorf("poll.interval must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// loadConfig reads path, expands ${VAR} references from the environment and
// applies defaults.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for i := range cfg.Amplifiers {
		a := &cfg.Amplifiers[i]
		if a.Port == 0 {
			a.Port = transport.DefaultPort
		}
		if a.Timeout == 0 {
			a.Timeout = Duration(transport.DefaultTimeout)
		}
		if a.FailureThreshold == 0 {
			a.FailureThreshold = transport.DefaultFailureThreshold
		}
	}
	if cfg.Poll.Interval == nil {
		interval := Duration(defaultPollInterval)
		cfg.Poll.Interval = &interval
	}
	if cfg.Poll.Initial == nil {
		initial := true
		cfg.Poll.Initial = &initial
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "dynaudio"
	}
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}
