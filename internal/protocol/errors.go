package protocol

import (
	"fmt"
)

// Error codes - Path management
const (
	ErrPathNotExists = "REORDER_PATH_NOT_EXISTS"
	ErrPathClosed    = "REORDER_PATH_CLOSED"
	ErrNoPaths       = "REORDER_NO_PATHS"
)

// Error is the structured error used across the transport layers.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors carrying the same code, so callers can compare against
// a bare &Error{Code: ...} with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func NewError(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func NewPathNotExistsError(pathID PathID) error {
	return NewError(ErrPathNotExists, fmt.Sprintf("path %d does not exist", pathID), nil)
}

func NewPathClosedError(pathID PathID) error {
	return NewError(ErrPathClosed, fmt.Sprintf("path %d is closed", pathID), nil)
}

func NewNoPathsError() error {
	return NewError(ErrNoPaths, "no path available to send on", nil)
}

// Error codes - Data plane
const (
	ErrStreamNotExists = "REORDER_STREAM_NOT_EXISTS"
	ErrStreamClosed    = "REORDER_STREAM_CLOSED"
	ErrFrameTooLarge   = "REORDER_FRAME_TOO_LARGE"
	ErrMalformedPacket = "REORDER_MALFORMED_PACKET"
)

func NewNotExistStreamError(streamID StreamID) error {
	return NewError(ErrStreamNotExists, fmt.Sprintf("stream %d not found", streamID), nil)
}

func NewStreamClosedError(streamID StreamID) error {
	return NewError(ErrStreamClosed, fmt.Sprintf("stream %d is closed for writing", streamID), nil)
}

func NewFrameTooLargeError(frameSize, maxSize int) error {
	return NewError(ErrFrameTooLarge, fmt.Sprintf("frame too large for maxPacketSize: %d > %d", frameSize, maxSize), nil)
}

func NewMalformedPacketError(reason string, cause error) error {
	return NewError(ErrMalformedPacket, reason, cause)
}

// Error codes - Session control
const (
	ErrHandshakeFailed = "REORDER_HANDSHAKE_FAILED"
	ErrSessionClosed   = "REORDER_SESSION_CLOSED"
)

func NewHandshakeFailedError(pathID PathID, cause error) error {
	return NewError(ErrHandshakeFailed, fmt.Sprintf("handshake failed on path %d", pathID), cause)
}

func NewSessionClosedError(sessionID SessionID) error {
	return NewError(ErrSessionClosed, fmt.Sprintf("session %s is closed", sessionID), nil)
}
