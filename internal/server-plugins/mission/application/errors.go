package application

import (
	"errors"

	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/domain"
	"github.com/alex-galey/mission-mcp/internal/shared/binding"
)

// Error codes reported to callers, in addition to the binding error codes.
const (
	CodeInvalidTransition = "invalid_transition"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeIncompleteOutputs = "incomplete_outputs"
)

// ErrorCode maps a mission service error to a stable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case domain.IsInvalidTransitionError(err):
		return CodeInvalidTransition
	case domain.IsNotFound(err):
		return CodeNotFound
	case errors.Is(err, domain.ErrMissionAlreadyExists),
		errors.Is(err, domain.ErrHopAlreadyActive),
		errors.Is(err, domain.ErrNoProposedHop):
		return CodeConflict
	case errors.Is(err, domain.ErrOutputsIncomplete):
		return CodeIncompleteOutputs
	case errors.Is(err, domain.ErrEmptyImplementation):
		return binding.CodeValidationFailed
	default:
		return binding.ErrorCode(err)
	}
}
