package usb2can

import (
	"errors"

	"github.com/canflash/usb2can/pkg/transport"
)

var (
	ErrPayloadTooLong  = errors.New("command payload longer than 255 bytes")
	ErrInvalidFrame    = errors.New("invalid CAN frame")
	ErrNotConfigured   = errors.New("adapter is not configured")
	ErrNotConnected    = errors.New("adapter transport is not open")
	ErrSessionClosed   = errors.New("adapter session is closed")
	ErrNotAcknowledged = errors.New("adapter did not acknowledge command")
	ErrMalformed       = errors.New("malformed adapter response")
)

// Errors that are rejected before any I/O happens.
// The caller can recover by correcting its input.
var preconditionErrors = []error{
	ErrPayloadTooLong,
	ErrInvalidFrame,
	ErrNotConfigured,
	ErrNotConnected,
	ErrSessionClosed,
}

// IsPrecondition reports whether err was raised before any I/O
func IsPrecondition(err error) bool {
	for _, target := range preconditionErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsTransport reports whether err comes from the serial link
func IsTransport(err error) bool {
	var tErr *transport.Error
	return errors.As(err, &tErr)
}
