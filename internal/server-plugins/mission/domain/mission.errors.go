package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissionNotFound      = errors.New("mission not found")
	ErrMissionAlreadyExists = errors.New("mission already exists")
	ErrHopNotFound          = errors.New("hop not found")
	ErrHopAlreadyActive     = errors.New("mission already has an unresolved hop")
	ErrNoProposedHop        = errors.New("mission has no proposed hop")
	ErrEmptyImplementation  = errors.New("hop implementation has no steps")
	ErrOutputsIncomplete    = errors.New("hop outputs are incomplete")
)

// InvalidTransitionError indicates a command is not valid in the entity's current status.
type InvalidTransitionError struct {
	Entity  string
	ID      string
	From    string
	Command string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %s", e.Command, e.Entity, e.ID, e.From)
}

// IsInvalidTransitionError returns true when err is (or wraps) an InvalidTransitionError.
func IsInvalidTransitionError(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}

// IsNotFound returns true for missing missions and hops.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMissionNotFound) || errors.Is(err, ErrHopNotFound)
}
