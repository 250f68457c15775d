package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for containment and retry logic.
type ErrorClass string

const (
	// ErrorClassConstruction indicates an invalid graph or seed.
	// Raised before any run starts and always fatal to the caller.
	ErrorClassConstruction ErrorClass = "construction"

	// ErrorClassTransient indicates a temporary task failure that may succeed on retry.
	// Examples: network timeouts, temporary service unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a task failure that will not succeed on retry.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassTimeout indicates a node or run deadline was exceeded.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassInternal indicates a broken scheduler invariant, such as two
	// producers writing the same field.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Node is the node ID that caused the error, if applicable.
	Node string `json:"node,omitempty"`

	// Field is the state field involved, if applicable.
	Field string `json:"field,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Node != "" && e.Field != "":
		msg += fmt.Sprintf(" (node=%s, field=%s)", e.Node, e.Field)
	case e.Node != "":
		msg += fmt.Sprintf(" (node=%s)", e.Node)
	case e.Field != "":
		msg += fmt.Sprintf(" (field=%s)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConstructionError creates a new construction error.
func NewConstructionError(code, message string) *EngineError {
	return &EngineError{
		Class:   ErrorClassConstruction,
		Code:    code,
		Message: message,
	}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTimeout,
		Code:    ErrCodeTimeout,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// WithNode adds node context to an error.
func (e *EngineError) WithNode(nodeID string) *EngineError {
	e.Node = nodeID
	return e
}

// WithField adds field context to an error.
func (e *EngineError) WithField(field string) *EngineError {
	e.Field = field
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsEngineError converts any error into an EngineError. Errors that are not
// already classified become permanent task failures.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e
	}
	return NewPermanentError("task failed", err).WithCode(ErrCodeTaskFailed)
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsConstruction returns true if the error is classified as a construction error.
func IsConstruction(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassConstruction
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassTransient
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassPermanent
}

// IsTimeout returns true if the error is classified as a timeout.
func IsTimeout(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassTimeout
}

// IsInternal returns true if the error is classified as internal.
func IsInternal(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassInternal
}

// IsRetryable returns true if the error can be retried.
// Transient errors and node timeouts are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsTimeout(err)
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeCycle             = "CYCLE_DETECTED"
	ErrCodeUnresolvedInput   = "UNRESOLVED_INPUT"
	ErrCodeDuplicateProducer = "DUPLICATE_PRODUCER"
	ErrCodeDuplicateNode     = "DUPLICATE_NODE"
	ErrCodeTypeMismatch      = "TYPE_MISMATCH"
	ErrCodeTopology          = "TOPOLOGY"
	ErrCodeUnknownSeed       = "UNKNOWN_SEED"
	ErrCodeTaskFailed        = "TASK_FAILED"
	ErrCodeContractViolation = "CONTRACT_VIOLATION"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodePanic             = "PANIC"
	ErrCodeConflictingWrite  = "CONFLICTING_WRITE"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)
