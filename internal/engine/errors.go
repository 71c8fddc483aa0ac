package engine

import (
	"errors"
	"fmt"
)

// Failure categories reported by an Executor. Both are recovered by the
// scheduler: the current iteration is skipped and the run goes on.
var (
	// ErrNodeNotFound means the executor could not locate a target element
	// that satisfies the event's required features.
	ErrNodeNotFound = errors.New("node not found")

	// ErrTransport means the executor could not be reached.
	ErrTransport = errors.New("executor transport failure")
)

// IsRecoverableReplayError reports whether a replay error is one the
// scheduler recovers from.
func IsRecoverableReplayError(err error) bool {
	return errors.Is(err, ErrNodeNotFound) || errors.Is(err, ErrTransport)
}

// RuntimeError is an error that ends a run or prevents it from starting.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run, when one was started.
	RunID string

	// Statement names the statement kind being executed.
	Statement string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownOption indicates an unrecognized run option. Reported
	// before the run has any side effects.
	ErrCodeUnknownOption RuntimeErrorCode = "UNKNOWN_OPTION"

	// ErrCodeInvalidOption indicates a run option with a bad value.
	ErrCodeInvalidOption RuntimeErrorCode = "INVALID_OPTION"

	// ErrCodeUnbound indicates a name that no environment frame binds.
	ErrCodeUnbound RuntimeErrorCode = "UNBOUND_VARIABLE"

	// ErrCodeBackend indicates the coordination backend could not be used.
	ErrCodeBackend RuntimeErrorCode = "BACKEND_FAILURE"

	// ErrCodeSink indicates a row could not be stored.
	ErrCodeSink RuntimeErrorCode = "SINK_FAILURE"

	// ErrCodeReplay indicates an executor failure outside the recoverable
	// categories.
	ErrCodeReplay RuntimeErrorCode = "REPLAY_FAILURE"

	// ErrCodeQuotaExceeded indicates the run exceeded its step quota.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeCancelled indicates the run's context was cancelled.
	ErrCodeCancelled RuntimeErrorCode = "CANCELLED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RunID != "" && e.Statement != "" {
		msg = fmt.Sprintf("%s (run=%s, statement=%s)", msg, e.RunID, e.Statement)
	} else if e.RunID != "" {
		msg = fmt.Sprintf("%s (run=%s)", msg, e.RunID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsUnknownOptionError reports whether err rejects an unknown run option.
func IsUnknownOptionError(err error) bool { return hasCode(err, ErrCodeUnknownOption) }

// IsUnboundError reports whether err is a fatal reference error.
func IsUnboundError(err error) bool { return hasCode(err, ErrCodeUnbound) }

// IsBackendError reports whether err came from the coordination backend.
func IsBackendError(err error) bool { return hasCode(err, ErrCodeBackend) }

// IsQuotaError reports whether err is a step quota failure.
// Matches both RuntimeError with ErrCodeQuotaExceeded and StepsExceededError.
func IsQuotaError(err error) bool {
	if hasCode(err, ErrCodeQuotaExceeded) {
		return true
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

// NewUnknownOptionError rejects the option key.
func NewUnknownOptionError(key string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownOption,
		Message: fmt.Sprintf("unknown run option %q", key),
		Details: map[string]string{"option": key},
	}
}

// NewInvalidOptionError rejects an option value.
func NewInvalidOptionError(key string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidOption,
		Message: fmt.Sprintf("invalid value for run option %q", key),
		Details: map[string]string{"option": key},
		Err:     err,
	}
}
