//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"dynaudio-go-home/internal/amp"
)

const (
	DefaultTopicPrefix     = "dynaudio"
	DefaultDiscoveryPrefix = "homeassistant"

	commandTimeout = 10 * time.Second
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string
	// Retired lists ids of amplifiers no longer configured whose discovery
	// entries should be removed from Home Assistant.
	Retired []string
}

// Bridge exposes amplifiers over MQTT with HA autodiscovery.
type Bridge struct {
	client          pahomqtt.Client
	devices         *amp.Manager
	prefix          string
	discoveryPrefix string
	retired         []string
	logger          *slog.Logger
	unsub           func()
	ctx             context.Context
	cancel          context.CancelFunc
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(devices *amp.Manager, cfg Config, logger *slog.Logger) (*Bridge, error) {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		devices:         devices,
		prefix:          cfg.TopicPrefix,
		discoveryPrefix: cfg.DiscoveryPrefix,
		retired:         cfg.Retired,
		logger:          logger.With("component", "mqtt"),
		ctx:             ctx,
		cancel:          cancel,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID()).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAllDiscovery()
			b.publishAllStates()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// clientID is unique per process so two bridges on one broker do not kick
// each other off.
func clientID() string {
	return "dynaudio-go-home-" + uuid.NewString()[:8]
}

// Start subscribes to controller events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.devices.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event amp.Event) {
	switch event.Type {
	case amp.EventStateChanged, amp.EventPresumedOff:
		b.publishState(event.Device())
	}
}

// statePayload is the JSON published on a device's state topic.
type statePayload struct {
	State      string  `json:"state"`
	Volume     float64 `json:"volume"`
	Muted      bool    `json:"muted"`
	Source     string  `json:"source"`
	Zone       int     `json:"zone"`
	MediaTitle string  `json:"media_title"`
}

func newStatePayload(s amp.State, mediaTitle string) statePayload {
	p := statePayload{
		State:      "OFF",
		Volume:     s.Volume,
		Muted:      s.Muted,
		Source:     s.Source,
		Zone:       s.Zone,
		MediaTitle: mediaTitle,
	}
	if s.Power {
		p.State = "ON"
	}
	return p
}

func (b *Bridge) publishState(id string) {
	c, err := b.devices.Get(id)
	if err != nil {
		return
	}
	payload := mustJSON(newStatePayload(c.State(), c.MediaTitle()))
	b.publish(stateTopic(b.prefix, id), payload, true)
}

func (b *Bridge) publishAllStates() {
	for _, c := range b.devices.List() {
		b.publishState(c.ID())
	}
}

func (b *Bridge) publishBridgeState(state string) {
	topic := b.prefix + "/bridge/state"
	b.publish(topic, []byte(state), true)
}

func (b *Bridge) publishAllDiscovery() {
	for _, id := range b.retired {
		for _, msg := range buildRemoveDiscovery(id, b.discoveryPrefix) {
			b.publish(msg.Topic, msg.Payload, true)
		}
		b.logger.Info("removed HA discovery", "device", id)
	}
	for _, c := range b.devices.List() {
		dev := deviceInfo{ID: c.ID(), Name: c.Name(), Sources: c.Sources()}
		for _, msg := range buildDiscovery(dev, b.prefix, b.discoveryPrefix) {
			b.publish(msg.Topic, msg.Payload, true)
		}
		b.logger.Info("published HA discovery", "device", dev.ID, "name", dev.Name)
	}
}

func (b *Bridge) subscribeCommands() {
	for _, c := range b.devices.List() {
		id := c.ID()
		b.client.Subscribe(commandTopic(b.prefix, id), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleCommand(id, msg.Payload())
		})
	}
}

func (b *Bridge) handleCommand(id string, payload []byte) {
	c, err := b.devices.Get(id)
	if err != nil {
		b.logger.Warn("command for unknown device", "device", id)
		return
	}

	var cmd map[string]interface{}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "device", id, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := applyCommand(ctx, c, cmd); err != nil {
		b.logger.Warn("command failed", "device", id, "err", err)
	}
	// Greedy updates and feedback already produced events; this covers
	// commands that changed nothing locally so HA resyncs its optimistic UI.
	b.publishState(id)
}

// commander is the subset of *amp.Controller that MQTT commands drive.
type commander interface {
	State() amp.State
	TurnOn(ctx context.Context, zone int) error
	TurnOff(ctx context.Context, zone int) error
	SetVolume(ctx context.Context, zone int, level float64) error
	ToggleMute(ctx context.Context, zone int) error
	SetMute(ctx context.Context, zone int, muted bool) error
	SelectSource(ctx context.Context, zone int, name string) error
	SelectZone(zone int) error
	Poll(ctx context.Context) error
}

// applyCommand executes every recognised key of a command message. Zone is
// applied first so the other keys address the new zone.
func applyCommand(ctx context.Context, c commander, cmd map[string]interface{}) error {
	var errs []error

	if z, ok := toFloat64(cmd["zone"]); ok {
		errs = append(errs, c.SelectZone(int(z)))
	}

	if state, ok := cmd["state"].(string); ok {
		switch strings.ToUpper(state) {
		case "ON":
			errs = append(errs, c.TurnOn(ctx, 0))
		case "OFF":
			errs = append(errs, c.TurnOff(ctx, 0))
		case "TOGGLE":
			if c.State().Power {
				errs = append(errs, c.TurnOff(ctx, 0))
			} else {
				errs = append(errs, c.TurnOn(ctx, 0))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown state %q", state))
		}
	}

	if source, ok := cmd["source"].(string); ok {
		errs = append(errs, c.SelectSource(ctx, 0, source))
	}

	if level, ok := toFloat64(cmd["volume"]); ok {
		errs = append(errs, c.SetVolume(ctx, 0, level))
	}

	switch m := cmd["mute"].(type) {
	case bool:
		errs = append(errs, c.SetMute(ctx, 0, m))
	case string:
		switch strings.ToUpper(m) {
		case "TOGGLE":
			errs = append(errs, c.ToggleMute(ctx, 0))
		case "ON":
			errs = append(errs, c.SetMute(ctx, 0, true))
		case "OFF":
			errs = append(errs, c.SetMute(ctx, 0, false))
		default:
			errs = append(errs, fmt.Errorf("unknown mute %q", m))
		}
	}

	if poll, _ := cmd["poll"].(bool); poll {
		errs = append(errs, c.Poll(ctx))
	}

	return errors.Join(errs...)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
