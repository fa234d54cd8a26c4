// Package transport provides the byte oriented links used to talk to the
// USB2CAN adapter.
//
// A [Transport] is half-duplex: the caller writes a request then drains the
// bytes the adapter buffered in response. There is no framing at this level.
package transport

import (
	"errors"
	"fmt"
	"time"
)

// Default serial parameters of the adapter
const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 50 * time.Millisecond
	readChunkSize      = 256
)

// Upper bounds of one ReadAvailable on an adapter that never goes quiet
const (
	MaxReadSize     = 4096
	MaxReadDuration = 500 * time.Millisecond
)

var (
	ErrClosed      = errors.New("transport is closed")
	ErrNoPort      = errors.New("no serial port given")
	ErrInvalidBaud = errors.New("invalid baud rate")
)

// Transport is the byte link to the adapter
type Transport interface {
	// Write sends all bytes or fails
	Write(p []byte) (int, error)
	// ReadAvailable returns what is currently buffered, possibly nothing.
	// It only blocks for the read timeout.
	ReadAvailable() ([]byte, error)
	Close() error
}

// Error wraps any failure of the underlying link with the operation that failed
type Error struct {
	Op   string
	Port string
	Err  error
}

func (e *Error) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Port, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
