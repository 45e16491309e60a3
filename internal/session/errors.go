package session

import "fmt"

// ErrCodeSessionLifecycle is reported for every failure in this package.
const ErrCodeSessionLifecycle = "SESSION_LIFECYCLE"

// SessionLifecycleError wraps a failure to create, end or inspect a remote session.
type SessionLifecycleError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *SessionLifecycleError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("session %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("session %s failed for %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *SessionLifecycleError) Unwrap() error { return e.Err }

// ErrorCode lets callers classify the error without importing this package.
func (e *SessionLifecycleError) ErrorCode() string { return ErrCodeSessionLifecycle }
