package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/crmsync/internal/bus"
)

// State represents the state of the sync run lifecycle.
type State string

const (
	Idle      State = "IDLE"
	Running   State = "RUNNING"
	Succeeded State = "SUCCEEDED"
	Failed    State = "FAILED"
)

// validTransitions defines allowed state transitions. Terminal states may
// start a new run.
var validTransitions = map[State][]State{
	Idle:      {Running},
	Running:   {Succeeded, Failed},
	Succeeded: {Running},
	Failed:    {Running},
}

// Machine tracks and enforces run state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	m.bus.Publish(bus.Event{
		Kind:      bus.KindStatusChanged,
		Timestamp: m.since,
		Payload: StatusChange{
			From: from,
			To:   to,
		},
	})
	return nil
}

// Finish moves a running machine to Succeeded or Failed.
func (m *Machine) Finish(success bool) error {
	if success {
		return m.Transition(Succeeded)
	}
	return m.Transition(Failed)
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
