package status

import (
	"testing"

	"github.com/matheus3301/crmsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Running},
		{Running, Succeeded},
		{Running, Failed},
		{Succeeded, Running},
		{Failed, Running},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Succeeded},
		{Idle, Failed},
		{Running, Running},
		{Running, Idle},
		{Succeeded, Failed},
		{Failed, Idle},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want unchanged %s", m.Current(), tt.from)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("run.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Running); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Idle || change.To != Running {
		t.Errorf("change = %v -> %v, want IDLE -> RUNNING", change.From, change.To)
	}
}

// TestRepeatedRuns walks several runs back to back:
// IDLE → RUNNING → FAILED → RUNNING → SUCCEEDED → RUNNING → SUCCEEDED
func TestRepeatedRuns(t *testing.T) {
	m := NewMachine(nil)
	for _, success := range []bool{false, true, true} {
		if err := m.Transition(Running); err != nil {
			t.Fatalf("start run: %v (current: %s)", err, m.Current())
		}
		if err := m.Finish(success); err != nil {
			t.Fatalf("finish run: %v (current: %s)", err, m.Current())
		}
	}
	if m.Current() != Succeeded {
		t.Errorf("final state = %s, want SUCCEEDED", m.Current())
	}
}

func TestFinishRequiresRunning(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Finish(true); err == nil {
		t.Error("Finish() from IDLE should fail")
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:      {},
		Running:   {Running},
		Succeeded: {Running, Succeeded},
		Failed:    {Running, Failed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
