package pipeline

import (
	"fmt"
	"sync"
)

// State is the orchestrator lifecycle. Transitions only ever move forward:
// Idle → Starting → Running → Stopping → Stopped, with Starting allowed to
// fail straight to Stopped.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

var legalTransitions = map[State][]State{
	StateIdle:     {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateStopped},
	StateRunning:  {StateStopping},
	StateStopping: {StateStopped},
	StateStopped:  {},
}

// stateMachine guards the lifecycle transitions of a pipeline side.
type stateMachine struct {
	mu    sync.Mutex
	state State
}

// transition moves to next if legal. Re-entering the current state is a
// no-op with ok=false, which is what makes Stop idempotent.
func (m *stateMachine) transition(next State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == next {
		return false, nil
	}
	for _, legal := range legalTransitions[m.state] {
		if legal == next {
			m.state = next
			return true, nil
		}
	}
	return false, fmt.Errorf("illegal state transition %s -> %s", m.state, next)
}

// current returns the current state.
func (m *stateMachine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
