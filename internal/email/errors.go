package email

import (
	"errors"
	"fmt"
)

// ConnectionError reports a failure to reach or keep the server connection
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError reports rejected credentials or a failed token refresh
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError reports a command the server refused or answered unexpectedly
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is or wraps a *ConnectionError
func IsConnectionError(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

// IsAuthError reports whether err is or wraps an *AuthError
func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsProtocolError reports whether err is or wraps a *ProtocolError
func IsProtocolError(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}
