package session

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the referenced session does not exist.
var ErrNotFound = errors.New("session not found")

// CreateError reports a failed session creation (the worker process could
// not be launched). The session is left in the ERROR state.
type CreateError struct {
	Project string
	Err     error
}

// Error implements the error interface.
func (e *CreateError) Error() string {
	return fmt.Sprintf("create session for project %q: %v", e.Project, e.Err)
}

// Unwrap returns the underlying launch error.
func (e *CreateError) Unwrap() error { return e.Err }

// WorkerError reports a worker process failure that persisted through the
// single automatic recreate-and-retry.
type WorkerError struct {
	SessionID string
	Err       error
}

// Error implements the error interface.
func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker process for session %s: %v", e.SessionID, e.Err)
}

// Unwrap returns the underlying worker error.
func (e *WorkerError) Unwrap() error { return e.Err }
