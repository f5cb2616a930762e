package turn

import (
	"sync"
	"time"
)

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// ListenerFunc adapts a function to StateListener.
type ListenerFunc func(StateChange)

func (f ListenerFunc) OnStateChange(event StateChange) { f(event) }

var validTransitions = map[State][]State{
	StateHandshaking:     {StateIdle},
	StateIdle:            {StatePlayingGreeting, StateListening},
	StatePlayingGreeting: {StateListening},
	StateListening:       {StateProcessing},
	StateProcessing:      {StatePlayingResponse, StateListening},
	StatePlayingResponse: {StateListening},
}

// Machine is the call turn-taking state machine. Any state may move to
// StateClosed, which is terminal.
type Machine struct {
	mu        sync.RWMutex
	current   State
	enteredAt time.Time
	now       func() time.Time

	listeners []StateListener
}

// NewMachine starts in StateHandshaking. now may be nil.
func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{current: StateHandshaking, enteredAt: now(), now: now}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since reports how long the machine has been in its current state.
func (m *Machine) Since() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now().Sub(m.enteredAt)
}

// CanTransition checks a move without performing it.
func CanTransition(from, to State) bool {
	if from == StateClosed {
		return false
	}
	if to == StateClosed {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (m *Machine) Transition(state State, reason string) error {
	m.mu.Lock()
	if !CanTransition(m.current, state) {
		from := m.current
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: state}
	}
	event := StateChange{
		FromState: m.current,
		ToState:   state,
		Timestamp: m.now(),
		Reason:    reason,
	}
	m.current = state
	m.enteredAt = event.Timestamp

	// Notify without the lock so listeners may read the machine.
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
