package toolbackend

import (
	"errors"
	"fmt"
)

// ErrToolNotFound is the sentinel error for tools the backend does not know.
var ErrToolNotFound = errors.New("tool not found")

// ToolNotFoundError indicates the requested tool is not registered on the backend.
type ToolNotFoundError struct {
	ToolID string
}

func (e *ToolNotFoundError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.ToolID, ErrToolNotFound)
}

func (e *ToolNotFoundError) Unwrap() error { return ErrToolNotFound }

// IsToolNotFoundError returns true when err is (or wraps) a ToolNotFoundError.
func IsToolNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var nf *ToolNotFoundError
	if errors.As(err, &nf) {
		return true
	}
	return errors.Is(err, ErrToolNotFound)
}

// BlockedToolError indicates the tool matches a blocked pattern.
type BlockedToolError struct {
	ToolID  string
	Pattern string
}

func (e *BlockedToolError) Error() string {
	return fmt.Sprintf("tool is blocked (matches pattern '%s'): %s", e.Pattern, e.ToolID)
}
