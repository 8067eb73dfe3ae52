package cart

import "fmt"

// Status is the lifecycle state of a cart.
type Status string

const (
	StatusOpened      Status = "OPENED"
	StatusLocked      Status = "LOCKED"
	StatusCompleted   Status = "COMPLETED"
	StatusDeactivated Status = "DEACTIVATED"
)

// transitions lists the allowed target states for every source state.
// COMPLETED and DEACTIVATED are terminal.
var transitions = map[Status][]Status{
	StatusOpened: {StatusLocked, StatusDeactivated},
	StatusLocked: {StatusOpened, StatusCompleted, StatusDeactivated},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a stored status value into a Status.
func ParseStatus(v string) (Status, error) {
	switch s := Status(v); s {
	case StatusOpened, StatusLocked, StatusCompleted, StatusDeactivated:
		return s, nil
	default:
		return "", fmt.Errorf("unknown cart status %q", v)
	}
}
