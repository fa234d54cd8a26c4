package bootloader

import (
	"errors"
	"fmt"
)

var (
	ErrNoFirmware        = errors.New("no firmware image selected")
	ErrUploadInProgress  = errors.New("an upload is already running on this link")
	ErrUnknownProfile    = errors.New("unknown upload profile")
	ErrInvalidIdentifier = errors.New("upload identifier is not a standard CAN identifier")
)

// HandshakeError is returned when the bootloader does not answer the password frame
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	if e.Err == nil {
		return "handshake not acknowledged: no response from bootloader"
	}
	return fmt.Sprintf("handshake failed: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// StreamError is returned when the upload stops after the handshake.
// Sent is the number of image bytes already transmitted, there is no resume.
type StreamError struct {
	Sent  int
	Total int
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("upload aborted after %d/%d bytes: %v", e.Sent, e.Total, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
