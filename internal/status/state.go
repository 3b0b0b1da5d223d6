// Package status tracks the connection session's lifecycle state and
// publishes every transition on the bus.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/corpchat/chatsync/internal/bus"
)

// State is a connection session state.
type State string

const (
	// Disconnected means no socket exists; a reconnect may be pending.
	Disconnected State = "DISCONNECTED"
	// Connecting means the dial is in flight.
	Connecting State = "CONNECTING"
	// AwaitingHandshake means the socket is open but the establishment
	// frame has not arrived; application events may not flow yet.
	AwaitingHandshake State = "AWAITING_HANDSHAKE"
	// Connected means the session is established and usable.
	Connected State = "CONNECTED"
)

var validTransitions = map[State][]State{
	Disconnected:      {Connecting},
	Connecting:        {AwaitingHandshake, Connected, Disconnected},
	AwaitingHandshake: {Connected, Disconnected},
	Connected:         {Disconnected},
}

// Machine enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// Change is the payload published on "session.state".
type Change struct {
	From State
	To   State
}

// NewMachine creates a machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsConnected reports whether the session is established.
func (m *Machine) IsConnected() bool {
	return m.Current() == Connected
}

// Transition attempts to move to a new state. Moving to the current state
// is a no-op; an unreachable state is an error.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current = to
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish("session.state", Change{From: from, To: to})
		m.bus.Publish("session.connected", to == Connected)
	}
	return nil
}
