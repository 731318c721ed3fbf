package booking

import "fmt"

type transitionRule int

const (
	privilegedOnly transitionRule = iota + 1
	ownerOrPrivileged
)

var transitions = map[Status]map[Status]transitionRule{
	StatusPending: {
		StatusConfirmed: privilegedOnly,
		StatusCancelled: ownerOrPrivileged,
	},
	StatusConfirmed: {
		StatusCompleted: privilegedOnly,
		StatusCancelled: privilegedOnly,
	},
}

// CheckTransition reports whether req may move b to status to. Undefined
// transitions, including any move out of a terminal status, fail with
// ErrInvalidTransition; defined ones the requester may not perform fail
// with ErrForbidden.
func CheckTransition(b Booking, to Status, req Requester) error {
	if b.Status.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, b.Status)
	}
	rule, ok := transitions[b.Status][to]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	switch {
	case req.Privileged():
		return nil
	case rule == ownerOrPrivileged && req.Owns(b):
		return nil
	default:
		return fmt.Errorf("%w: %s may not move booking %s from %s to %s", ErrForbidden, req.Role, b.ID, b.Status, to)
	}
}
