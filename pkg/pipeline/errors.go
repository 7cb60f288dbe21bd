package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an action is not allowed in the
	// current state. Nothing changes.
	ErrInvalidTransition = errors.New("pipeline: invalid transition")

	// ErrClosed is returned by every action after Close.
	ErrClosed = errors.New("pipeline: closed")
)

func invalid(action string, from State) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, from)
}
