// internal/agent/errors.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/director/api/schemas"
)

// ErrorCode is a string type used for structured error reporting from the loop
// and its executors.
type ErrorCode string

const (
	// -- General Execution Errors --
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION_TYPE"
	ErrCodeExecutorPanic     ErrorCode = "EXECUTOR_PANIC"
	// -- Browser Errors --
	ErrCodeTimeoutError    ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNavigationError ErrorCode = "NAVIGATION_ERROR"
	// -- Model Errors --
	ErrCodeDecisionSchema ErrorCode = "DECISION_SCHEMA"
	ErrCodeModelFailure   ErrorCode = "MODEL_FAILURE"
	// -- Run Errors --
	ErrCodeCancelled ErrorCode = "CANCELLED"
)

// ActionTimeoutError means an action lost the race against its deadline.
type ActionTimeoutError struct {
	Tool      schemas.ToolKind
	SessionID string
	Timeout   time.Duration
}

func (e *ActionTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s (session %s)", e.Tool, e.Timeout, e.SessionID)
}

// ActionExecutionError wraps any backend failure while executing an action.
type ActionExecutionError struct {
	Tool      schemas.ToolKind
	SessionID string
	Code      ErrorCode
	Err       error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("%s failed [%s] (session %s): %v", e.Tool, e.Code, e.SessionID, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

// DecisionSchemaError means the model's output could not be turned into a valid step.
type DecisionSchemaError struct {
	// Raw is the model output, truncated.
	Raw string
	Err error
}

func (e *DecisionSchemaError) Error() string {
	return fmt.Sprintf("model output does not match the decision schema: %v", e.Err)
}

func (e *DecisionSchemaError) Unwrap() error { return e.Err }

// ModelError wraps a failed generation call (transport, quota, refusal).
type ModelError struct {
	Op  string
	Err error
}

func (e *ModelError) Error() string { return fmt.Sprintf("%s: model call failed: %v", e.Op, e.Err) }

func (e *ModelError) Unwrap() error { return e.Err }

// coder is implemented by errors from other packages that carry their own code,
// such as session lifecycle failures.
type coder interface {
	ErrorCode() string
}

// CodeOf classifies an error for metrics and API responses.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var (
		timeoutErr *ActionTimeoutError
		execErr    *ActionExecutionError
		schemaErr  *DecisionSchemaError
		modelErr   *ModelError
		codedErr   coder
	)
	switch {
	case errors.As(err, &timeoutErr):
		return ErrCodeTimeoutError
	case errors.As(err, &execErr):
		return execErr.Code
	case errors.As(err, &schemaErr):
		return ErrCodeDecisionSchema
	case errors.As(err, &modelErr):
		return ErrCodeModelFailure
	case errors.As(err, &codedErr):
		return ErrorCode(codedErr.ErrorCode())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeCancelled
	default:
		return ErrCodeExecutionFailure
	}
}
