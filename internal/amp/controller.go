// Package amp models a Dynaudio Connect amplifier: the command set, the
// source catalog and a controller that keeps a local view of the device
// state.
package amp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"dynaudio-go-home/internal/frame"
	"dynaudio-go-home/internal/transport"
)

const (
	DefaultName      = "Dynaudio"
	DefaultMaxVolume = 31
	// MaxVolumeLimit is the highest volume step the amplifier accepts.
	MaxVolumeLimit = 31
	MinZone        = 1
	MaxZone        = 3

	mediaTitleOff = "Off"
)

var (
	ErrInvalidVolume = errors.New("amp: volume level out of range")
	ErrInvalidZone   = errors.New("amp: invalid zone")
)

// Features lists what a controller supports, using Home Assistant media
// player feature names.
var Features = []string{"volume_set", "volume_mute", "turn_on", "turn_off", "select_source"}

// Link sends frames to the amplifier. *transport.Transport implements it.
type Link interface {
	Exchange(ctx context.Context, frame []byte) ([]byte, error)
	Health() transport.Health
}

// Config holds per-amplifier controller settings.
type Config struct {
	ID        string
	Name      string
	MaxVolume int
	// Greedy applies the expected result of a command locally without
	// waiting for the next poll to confirm it.
	Greedy bool
	// Zone is the zone used when an operation is called with zone 0.
	Zone int
	// MuteChannel is the high nibble of the mute toggle's zone byte, 3 or 5
	// depending on firmware.
	MuteChannel byte
}

// DefaultConfig returns a config with every optional field set.
func DefaultConfig(id string) Config {
	return Config{
		ID:          id,
		Name:        DefaultName,
		MaxVolume:   DefaultMaxVolume,
		Greedy:      true,
		Zone:        MinZone,
		MuteChannel: MuteChannelDefault,
	}
}

// normalize fills zero fields with defaults, clamps values the amplifier
// cannot represent and rejects the rest.
func (c Config) normalize() (Config, error) {
	if c.ID == "" {
		return c, errors.New("amp: config: id is required")
	}
	if c.Name == "" {
		c.Name = DefaultName
	}
	switch {
	case c.MaxVolume == 0:
		c.MaxVolume = DefaultMaxVolume
	case c.MaxVolume < 0:
		return c, fmt.Errorf("amp: config: max_volume %d must be at least 1", c.MaxVolume)
	case c.MaxVolume > MaxVolumeLimit:
		c.MaxVolume = MaxVolumeLimit
	}
	switch {
	case c.Zone == 0:
		c.Zone = MinZone
	case c.Zone < MinZone:
		return c, fmt.Errorf("amp: config: zone %d must be at least %d", c.Zone, MinZone)
	case c.Zone > MaxZone:
		c.Zone = MaxZone
	}
	switch c.MuteChannel {
	case 0:
		c.MuteChannel = MuteChannelDefault
	case 3, 5:
	default:
		return c, fmt.Errorf("amp: config: mute_channel %d must be 3 or 5", c.MuteChannel)
	}
	return c, nil
}

// Option configures a Controller.
type Option func(*Controller)

// WithCatalog replaces the default source catalog.
func WithCatalog(cat *Catalog) Option {
	return func(c *Controller) { c.catalog = cat }
}

// WithEventBus makes the controller publish its events on bus.
func WithEventBus(bus *EventBus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller drives one amplifier. All operations are serialized; it is safe
// for concurrent use.
type Controller struct {
	cfg     Config
	link    Link
	catalog *Catalog
	bus     *EventBus
	logger  *slog.Logger

	mu        sync.Mutex
	confirmed State
	pending   overlay
}

// NewController creates a controller. The initial state is off, unmuted,
// volume 0, no source, on the configured zone.
func NewController(cfg Config, link Link, opts ...Option) (*Controller, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, errors.New("amp: nil link")
	}
	c := &Controller{
		cfg:     cfg,
		link:    link,
		catalog: DefaultCatalog(),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "amp", "device", cfg.ID)
	c.confirmed = State{Zone: cfg.Zone}
	return c, nil
}

// ID returns the configured device id.
func (c *Controller) ID() string { return c.cfg.ID }

// Name returns the display name.
func (c *Controller) Name() string { return c.cfg.Name }

// MaxVolume returns the step that corresponds to level 1.0.
func (c *Controller) MaxVolume() int { return c.cfg.MaxVolume }

// Greedy reports whether optimistic updates are enabled.
func (c *Controller) Greedy() bool { return c.cfg.Greedy }

// State returns the observable state: confirmed feedback with pending
// optimistic changes applied.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) Power() bool     { return c.State().Power }
func (c *Controller) Volume() float64 { return c.State().Volume }
func (c *Controller) Muted() bool     { return c.State().Muted }
func (c *Controller) Source() string  { return c.State().Source }
func (c *Controller) Zone() int       { return c.State().Zone }

// Sources lists the selectable source names.
func (c *Controller) Sources() []string { return c.catalog.Names() }

// Health returns the transport failure counter.
func (c *Controller) Health() transport.Health { return c.link.Health() }

// MediaTitle is the selected source while on and "Off" otherwise.
func (c *Controller) MediaTitle() string {
	s := c.State()
	if !s.Power {
		return mediaTitleOff
	}
	return s.Source
}

// Pending reports whether optimistic changes await confirmation by a poll.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.pending.empty()
}

// TurnOn powers the zone on. The device state is only updated by the next
// poll.
func (c *Controller) TurnOn(ctx context.Context, zone int) error {
	z, err := c.resolveZone(zone)
	if err != nil {
		return err
	}
	return c.do(ctx, PowerOnCommand(z), nil)
}

// TurnOff powers the zone off.
func (c *Controller) TurnOff(ctx context.Context, zone int) error {
	z, err := c.resolveZone(zone)
	if err != nil {
		return err
	}
	return c.do(ctx, PowerOffCommand(z), func(_ State, o *overlay) {
		o.power = ptr(false)
	})
}

// SetVolume sets the volume to level in [0,1].
func (c *Controller) SetVolume(ctx context.Context, zone int, level float64) error {
	if math.IsNaN(level) || level < 0 || level > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidVolume, level)
	}
	z, err := c.resolveZone(zone)
	if err != nil {
		return err
	}
	return c.do(ctx, VolumeCommand(z, VolumeStep(level, c.cfg.MaxVolume)), nil)
}

// ToggleMute flips mute on the zone.
func (c *Controller) ToggleMute(ctx context.Context, zone int) error {
	z, err := c.resolveZone(zone)
	if err != nil {
		return err
	}
	return c.do(ctx, MuteToggleCommand(z, c.cfg.MuteChannel), toggleMuted)
}

// SetMute toggles mute only when the observable state differs from muted.
// The comparison and the toggle run under one lock.
func (c *Controller) SetMute(ctx context.Context, zone int, muted bool) error {
	z, err := c.resolveZone(zone)
	if err != nil {
		return err
	}
	c.mu.Lock()
	before := c.viewLocked()
	if before.Muted == muted {
		c.mu.Unlock()
		return nil
	}
	events, err := c.runLocked(ctx, MuteToggleCommand(z, c.cfg.MuteChannel), before, toggleMuted)
	c.mu.Unlock()
	c.emit(events)
	return err
}

func toggleMuted(view State, o *overlay) {
	o.muted = ptr(!view.Muted)
}

// SelectSource switches the zone to the named input. Unknown names are
// rejected before anything is sent.
func (c *Controller) SelectSource(ctx context.Context, zone int, name string) error {
	code, ok := c.catalog.Code(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidSource, name)
	}
	z, err := c.resolveZone(zone)
	if err != nil {
		return err
	}
	return c.do(ctx, SourceCommand(z, code), func(_ State, o *overlay) {
		o.source = ptr(name)
	})
}

// SelectZone changes the zone used by operations called with zone 0 and by
// Poll. Nothing is sent.
func (c *Controller) SelectZone(zone int) error {
	if zone < MinZone || zone > MaxZone {
		return fmt.Errorf("%w: %d", ErrInvalidZone, zone)
	}
	c.mu.Lock()
	before := c.viewLocked()
	c.confirmed.Zone = zone
	events := c.changeEvents(before, c.viewLocked())
	c.mu.Unlock()
	c.emit(events)
	return nil
}

// Poll solicits a status response and folds it into the confirmed state.
// An empty response leaves the state untouched. If the response names an
// unknown source the rest of it is still applied and ErrUnknownSourceCode
// is returned.
func (c *Controller) Poll(ctx context.Context) error {
	c.mu.Lock()
	before := c.viewLocked()
	resp, events, err := c.sendLocked(ctx, StatusProbe(c.confirmed.Zone))
	if err == nil && len(resp) > 0 {
		events = append(events, c.event(EventFeedback, map[string]interface{}{
			"raw": frame.FormatHex(resp),
		}))
		var fb frame.Feedback
		fb, err = frame.DecodeFeedback(resp)
		if err == nil {
			err = c.applyFeedbackLocked(fb)
		}
		if err != nil {
			c.logger.Warn("feedback", "raw", frame.FormatHex(resp), "err", err)
		}
	}
	events = append(events, c.changeEvents(before, c.viewLocked())...)
	c.mu.Unlock()
	c.emit(events)
	return err
}

// do sends cmd and then applies greedy, if enabled, whatever the outcome of
// the send.
func (c *Controller) do(ctx context.Context, cmd Command, greedy func(view State, o *overlay)) error {
	c.mu.Lock()
	events, err := c.runLocked(ctx, cmd, c.viewLocked(), greedy)
	c.mu.Unlock()
	c.emit(events)
	return err
}

// runLocked is the body of do for callers that already hold the lock and
// took the before view themselves.
func (c *Controller) runLocked(ctx context.Context, cmd Command, before State, greedy func(view State, o *overlay)) ([]Event, error) {
	_, events, err := c.sendLocked(ctx, cmd)
	if greedy != nil && c.cfg.Greedy {
		greedy(before, &c.pending)
	}
	return append(events, c.changeEvents(before, c.viewLocked())...), err
}

// sendLocked frames and sends cmd. On a non-refusal transport failure that
// exhausts the failure threshold, power is inferred off.
func (c *Controller) sendLocked(ctx context.Context, cmd Command) ([]byte, []Event, error) {
	data, err := frame.Encode(cmd.Payload)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.link.Exchange(ctx, data)
	if err == nil {
		c.logger.Debug("command sent", "command", cmd.Name, "frame", frame.FormatHex(data))
		return resp, []Event{c.event(EventCommandSent, map[string]interface{}{
			"command": cmd.Name,
			"frame":   frame.FormatHex(data),
		})}, nil
	}

	events := []Event{c.event(EventCommandFailed, map[string]interface{}{
		"command": cmd.Name,
		"error":   err.Error(),
	})}
	switch {
	case errors.Is(err, transport.ErrRefused):
		c.logger.Warn("connection refused", "name", c.cfg.Name, "command", cmd.Name)
	case errors.Is(err, transport.ErrTransport):
		c.logger.Warn("command failed", "command", cmd.Name, "err", err)
		if h := c.link.Health(); h.Exhausted() && c.inferOffLocked() {
			c.logger.Info("presumed off", "failures", h.ConsecutiveFailures)
			events = append(events, c.event(EventPresumedOff, map[string]interface{}{
				"failures": h.ConsecutiveFailures,
			}))
		}
	default:
		c.logger.Debug("command aborted", "command", cmd.Name, "err", err)
	}
	return nil, events, err
}

// inferOffLocked marks the device off after repeated unreachability and
// reports whether that changed anything.
func (c *Controller) inferOffLocked() bool {
	wasOn := c.viewLocked().Power
	c.confirmed.Power = false
	c.pending.power = nil
	return wasOn
}

func (c *Controller) applyFeedbackLocked(fb frame.Feedback) error {
	view := c.viewLocked()
	next := State{
		Power:  fb.Power,
		Volume: math.Min(float64(fb.Volume)/float64(c.cfg.MaxVolume), 1),
		Muted:  fb.Muted,
		Source: view.Source,
		Zone:   view.Zone,
	}
	if z := int(fb.Zone); z >= MinZone && z <= MaxZone {
		next.Zone = z
	}
	var err error
	if name, ok := c.catalog.Name(fb.Source); ok {
		next.Source = name
	} else {
		err = fmt.Errorf("%w: %d", ErrUnknownSourceCode, fb.Source)
	}
	c.confirmed = next
	c.pending = overlay{}
	return err
}

func (c *Controller) resolveZone(zone int) (int, error) {
	if zone == 0 {
		return c.Zone(), nil
	}
	if zone < MinZone || zone > MaxZone {
		return 0, fmt.Errorf("%w: %d", ErrInvalidZone, zone)
	}
	return zone, nil
}

func (c *Controller) viewLocked() State {
	return c.pending.apply(c.confirmed)
}

func (c *Controller) event(typ string, data map[string]interface{}) Event {
	data["device"] = c.cfg.ID
	return Event{Type: typ, Data: data}
}

func (c *Controller) changeEvents(prev, next State) []Event {
	changes := diff(prev, next)
	if len(changes) == 0 {
		return nil
	}
	events := make([]Event, 0, len(changes))
	state := next.Map()
	for _, ch := range changes {
		events = append(events, c.event(EventStateChanged, map[string]interface{}{
			"property": ch.property,
			"value":    ch.value,
			"state":    state,
		}))
	}
	return events
}

func (c *Controller) emit(events []Event) {
	if c.bus == nil {
		return
	}
	for _, ev := range events {
		c.bus.Emit(ev)
	}
}
