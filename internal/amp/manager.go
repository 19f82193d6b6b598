package amp

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when no controller has the requested id.
var ErrNotFound = errors.New("amp: device not found")

// Manager is the registry of configured amplifiers. All controllers it holds
// publish on the same EventBus.
type Manager struct {
	bus *EventBus

	mu          sync.RWMutex
	controllers map[string]*Controller
	order       []string
}

// NewManager creates an empty registry publishing on bus.
func NewManager(bus *EventBus) *Manager {
	return &Manager{
		bus:         bus,
		controllers: make(map[string]*Controller),
	}
}

// Events returns the shared event bus.
func (m *Manager) Events() *EventBus { return m.bus }

// Add registers c. Ids must be unique.
func (m *Manager) Add(c *Controller) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.controllers[c.ID()]; dup {
		return fmt.Errorf("amp: duplicate device id %q", c.ID())
	}
	m.controllers[c.ID()] = c
	m.order = append(m.order, c.ID())
	return nil
}

// Get returns the controller with the given id.
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controllers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// List returns controllers in registration order.
func (m *Manager) List() []*Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Controller, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.controllers[id])
	}
	return out
}
