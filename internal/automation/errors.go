package automation

import "errors"

var (
	// ErrEmptyRing is returned when a round-robin pick targets an empty team.
	ErrEmptyRing = errors.New("round-robin ring is empty")

	// ErrInvalidTransition is returned by change_status for an illegal move.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnregisteredAction is returned when an action type has no handler.
	ErrUnregisteredAction = errors.New("unregistered action type")
)
