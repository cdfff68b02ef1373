package foreign

import (
	"errors"

	"github.com/fyrsmithlabs/foreignd/internal/protocol"
)

// Request errors.
var (
	ErrInvalidRole       = errors.New("window is not a toplevel")
	ErrRoleMismatch      = errors.New("windows belong to different window models")
	ErrResourceExhausted = errors.New("resources exhausted")
)

// Service lifecycle errors.
var (
	ErrRegistrationFailed = errors.New("global registration failed")
	ErrServiceDestroyed   = errors.New("service destroyed")
	ErrNilHost            = errors.New("host is required")
)

// Configuration errors.
var (
	ErrInvalidMaxAttempts = errors.New("max_handle_attempts must be positive")
	ErrInvalidVersion     = errors.New("global version out of range")
)

// Protocol messages posted to clients.
const (
	msgNotToplevel  = "surface must be an xdg_toplevel"
	msgNoRole       = "surface must be an xdg_surface"
	msgRoleMismatch = "surfaces must have the same role"
	msgOutOfMemory  = "out of memory"
)

// ProtocolError is a request failure that was reported to the client.
type ProtocolError struct {
	Err     error
	Code    protocol.ErrorCode
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Err.Error() + ": " + e.Message
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func roleError(msg string) *ProtocolError {
	return &ProtocolError{Err: ErrInvalidRole, Code: protocol.ErrorRole, Message: msg}
}

func mismatchError() *ProtocolError {
	return &ProtocolError{Err: ErrRoleMismatch, Code: protocol.ErrorRole, Message: msgRoleMismatch}
}

func exhaustedError(cause error) *ProtocolError {
	err := ErrResourceExhausted
	if cause != nil {
		err = errors.Join(ErrResourceExhausted, cause)
	}
	return &ProtocolError{Err: err, Code: protocol.ErrorNoMemory, Message: msgOutOfMemory}
}
