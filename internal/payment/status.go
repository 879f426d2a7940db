package payment

import "fmt"

// Status is a payment ledger state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
)

// ErrInvalidTransition is returned when a status change would violate the
// terminal-state rules.
var ErrInvalidTransition = fmt.Errorf("invalid payment status transition")

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition (other than
// COMPLETED -> REFUNDED) is possible from s.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

// Transition validates a status change. PENDING may move to COMPLETED,
// FAILED, or be reaffirmed as PENDING; COMPLETED may move to REFUNDED.
// Everything else is rejected. Re-deliveries of provider webhooks are
// expected, so reaffirming the current PENDING state is not an error.
func Transition(current, next Status) (Status, error) {
	if !next.Valid() {
		return current, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	switch current {
	case StatusPending:
		switch next {
		case StatusPending, StatusCompleted, StatusFailed:
			return next, nil
		}
	case StatusCompleted:
		if next == StatusRefunded {
			return next, nil
		}
	}
	return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}

// AllowedFrom returns the set of current states from which a transition to
// next is legal. Stores use this to build conditional UPDATE clauses so the
// check-then-act is a single atomic statement.
func AllowedFrom(next Status) []Status {
	switch next {
	case StatusPending:
		return []Status{StatusPending}
	case StatusCompleted, StatusFailed:
		return []Status{StatusPending}
	case StatusRefunded:
		return []Status{StatusCompleted}
	}
	return nil
}
