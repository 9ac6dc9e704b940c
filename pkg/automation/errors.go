package automation

import (
	"errors"
	"fmt"
)

var (
	ErrNoActiveSession       = errors.New("no active automation session")
	ErrUnknownMethod         = errors.New("unknown adapter method")
	ErrSessionClosed         = errors.New("automation session closed")
	ErrSessionNotInitialized = errors.New("automation session not initialized")
	ErrServerNotRunning      = errors.New("embedded server not running")
	ErrServerAlreadyRunning  = errors.New("embedded server already running")
)

// Error wraps a failure from the remote endpoint or the embedded server
// with a stable code and human-readable detail.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("automation error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("automation error [%s]: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with a code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with endpoint context.
func WrapError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
