package domain

import "fmt"

// validTransitions maps from-state to allowed to-states. Removal from the
// store is not a status transition and is checked separately.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusProcessing: true,
	},
	JobStatusProcessing: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	},
	JobStatusCompleted: {},
	JobStatusFailed:    {},
}

// ValidateTransition checks if a state transition is valid.
func ValidateTransition(from, to JobStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown source state %q", ErrInvalidTransition, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
