package binding

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// UnresolvedAssetError indicates a mapping references a variable missing from the state.
type UnresolvedAssetError struct {
	Asset     string
	Parameter string
}

func (e *UnresolvedAssetError) Error() string {
	if e == nil {
		return ""
	}
	if e.Parameter != "" {
		return fmt.Sprintf("parameter %q references unknown asset %q", e.Parameter, e.Asset)
	}
	return fmt.Sprintf("unknown asset %q", e.Asset)
}

// IsUnresolvedAssetError returns true when err is (or wraps) an UnresolvedAssetError.
func IsUnresolvedAssetError(err error) bool {
	var target *UnresolvedAssetError
	return errors.As(err, &target)
}

// ToolInvocationError indicates the tool backend call failed.
type ToolInvocationError struct {
	ToolID string
	StepID string
	Err    error
}

func (e *ToolInvocationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("tool %s failed in step %s: %v", e.ToolID, e.StepID, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

// IsToolInvocationError returns true when err is (or wraps) a ToolInvocationError.
func IsToolInvocationError(err error) bool {
	var target *ToolInvocationError
	return errors.As(err, &target)
}

// MalformedResultError indicates a tool result did not carry the outputs its mapping expects.
type MalformedResultError struct {
	ToolID   string
	Missing  []string
	Received []string
}

func (e *MalformedResultError) Error() string {
	if e == nil {
		return ""
	}
	return e.Guidance()
}

// Guidance rewrites the mismatch into an actionable message.
func (e *MalformedResultError) Guidance() string {
	missing := append([]string(nil), e.Missing...)
	sort.Strings(missing)
	received := append([]string(nil), e.Received...)
	sort.Strings(received)

	got := "no outputs"
	if len(received) > 0 {
		got = "outputs " + strings.Join(received, ", ")
	}
	return fmt.Sprintf(
		"tool %s returned %s but the result mapping expects %s; map the missing results to an existing output or mark them as discard",
		e.ToolID, got, strings.Join(missing, ", "),
	)
}

// IsMalformedResultError returns true when err is (or wraps) a MalformedResultError.
func IsMalformedResultError(err error) bool {
	var target *MalformedResultError
	return errors.As(err, &target)
}

// CancellationError indicates a job was cancelled. It is terminal but not a failure.
type CancellationError struct {
	JobID string
}

func (e *CancellationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("job %s was cancelled", e.JobID)
}

// IsCancellationError returns true when err is (or wraps) a CancellationError.
func IsCancellationError(err error) bool {
	var target *CancellationError
	return errors.As(err, &target)
}

// ValidationError indicates a structural check failed before any state was touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// IsValidationError returns true when err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// Stable error codes for API responses.
const (
	CodeUnresolvedAsset      = "unresolved_asset"
	CodeMalformedResult      = "malformed_result"
	CodeToolInvocationFailed = "tool_invocation_failed"
	CodeCancelled            = "cancelled"
	CodeValidationFailed     = "validation_failed"
	CodeInternal             = "internal_error"
)

// ErrorCode maps an error to a stable code for API responses.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case IsUnresolvedAssetError(err):
		return CodeUnresolvedAsset
	case IsMalformedResultError(err):
		return CodeMalformedResult
	case IsToolInvocationError(err):
		return CodeToolInvocationFailed
	case IsCancellationError(err):
		return CodeCancelled
	case IsValidationError(err):
		return CodeValidationFailed
	default:
		return CodeInternal
	}
}
