package model

import "fmt"

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StatePaused    State = "paused"
)

// allStates fixes the enumeration order used by ValidTransitions.
var allStates = []State{
	StatePending,
	StateRunning,
	StateCompleted,
	StateFailed,
	StateCancelled,
	StatePaused,
}

// completed and cancelled have no outgoing transitions; failed keeps one
// edge back to pending so a retry can re-dispatch the task.
var terminalStates = map[State]bool{
	StateCompleted: true,
	StateCancelled: true,
}

// validTransitions is the single source of truth for task lifecycle changes.
// Every state mutation must be checked here before it is applied.
var validTransitions = map[State]map[State]bool{
	StatePending: {
		StateRunning:   true,
		StateCancelled: true,
	},
	StateRunning: {
		StateCompleted: true,
		StateFailed:    true,
		StateCancelled: true,
		StatePaused:    true,
	},
	StatePaused: {
		StateRunning:   true,
		StateCancelled: true,
	},
	StateFailed: {
		StatePending:   true,
		StateCancelled: true,
	},
}

// InvalidTransitionError reports a (from, to) pair outside the transition table.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task state transition: %q → %q", e.From, e.To)
}

func IsTerminal(s State) bool {
	return terminalStates[s]
}

// ValidateTransition checks whether from → to is allowed. It performs no
// mutation; callers apply the change only after a nil return.
func ValidateTransition(from, to State) error {
	if !validTransitions[from][to] {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// ValidTransitions returns the exhaustive set of states reachable from the
// given state, in declaration order. Terminal states yield an empty slice.
func ValidTransitions(from State) []State {
	allowed := validTransitions[from]
	targets := make([]State, 0, len(allowed))
	for _, s := range allStates {
		if allowed[s] {
			targets = append(targets, s)
		}
	}
	return targets
}

func (s State) Display() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	case StatePaused:
		return "PAUSED"
	default:
		return string(s)
	}
}
