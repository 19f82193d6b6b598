package amp

import (
	"log/slog"
	"sync"
)

// Controller event types. Every event's Data is a map[string]interface{}
// holding the amplifier id under "device", plus:
//
//	state_changed   "property" (power, volume, muted, source or zone),
//	                "value" (its new value) and "state" (State.Map of the
//	                whole observable state after the change)
//	command_sent    "command" and "frame" (hex of the bytes written)
//	command_failed  "command" and "error"
//	feedback        "raw" (hex of the status response)
//	presumed_off    "failures", the consecutive transport failures that
//	                led to power being inferred off
const (
	EventStateChanged  = "state_changed"
	EventCommandSent   = "command_sent"
	EventCommandFailed = "command_failed"
	EventFeedback      = "feedback"
	EventPresumedOff   = "presumed_off"
)

type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Device returns the id of the amplifier the event is about, or "" when
// Data carries none.
func (e Event) Device() string {
	if m, ok := e.Data.(map[string]interface{}); ok {
		id, _ := m["device"].(string)
		return id
	}
	return ""
}

type EventHandler func(Event)

// EventBus fans controller events out to the web stream, the MQTT bridge and
// automation scripts. All controllers of a Manager share one bus.
type EventBus struct {
	mu       sync.RWMutex
	byType   map[string]map[uint64]EventHandler
	wildcard map[uint64]EventHandler
	seq      uint64
	logger   *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		byType:   make(map[string]map[uint64]EventHandler),
		wildcard: make(map[uint64]EventHandler),
		logger:   logger,
	}
}

// On subscribes handler to one event type. Calling the returned function
// unsubscribes it.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	set := eb.byType[eventType]
	if set == nil {
		set = make(map[uint64]EventHandler)
		eb.byType[eventType] = set
	}
	id := eb.add(set, handler)
	return eb.remover(set, id)
}

// OnAll subscribes handler to every event type.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.add(eb.wildcard, handler)
	return eb.remover(eb.wildcard, id)
}

// add registers handler in set. Callers hold the write lock.
func (eb *EventBus) add(set map[uint64]EventHandler, handler EventHandler) uint64 {
	eb.seq++
	set[eb.seq] = handler
	return eb.seq
}

func (eb *EventBus) remover(set map[uint64]EventHandler, id uint64) func() {
	return func() {
		eb.mu.Lock()
		delete(set, id)
		eb.mu.Unlock()
	}
}

// Emit delivers event to its subscribers on the caller's goroutine.
// Controllers emit after releasing their lock, so a handler may call back
// into the controller. A panicking handler is logged and skipped.
func (eb *EventBus) Emit(event Event) {
	for _, h := range eb.subscribers(event.Type) {
		eb.deliver(h, event)
	}
}

func (eb *EventBus) subscribers(eventType string) []EventHandler {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	hs := make([]EventHandler, 0, len(eb.byType[eventType])+len(eb.wildcard))
	for _, h := range eb.byType[eventType] {
		hs = append(hs, h)
	}
	for _, h := range eb.wildcard {
		hs = append(hs, h)
	}
	return hs
}

func (eb *EventBus) deliver(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", event.Type, "device", event.Device(), "panic", r)
		}
	}()
	h(event)
}
