package transport

import (
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Serial is a [Transport] over a serial port, 8N1
type Serial struct {
	mu          sync.Mutex
	name        string
	port        serial.Port
	readTimeout time.Duration
	closed      bool
}

// Open the serial port with given baud rate.
// A zero readTimeout uses [DefaultReadTimeout].
func Open(name string, baudRate int, readTimeout time.Duration) (*Serial, error) {
	if name == "" {
		return nil, &Error{Op: "open", Err: ErrNoPort}
	}
	if baudRate <= 0 {
		return nil, &Error{Op: "open", Port: name, Err: ErrInvalidBaud}
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, &Error{Op: "open", Port: name, Err: err}
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, &Error{Op: "open", Port: name, Err: err}
	}
	log.Debugf("[SERIAL] opened %s at %d baud", name, baudRate)
	return &Serial{name: name, port: port, readTimeout: readTimeout}, nil
}

func (s *Serial) Name() string {
	return s.name
}

func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, &Error{Op: "write", Port: s.name, Err: ErrClosed}
	}
	written := 0
	for written < len(p) {
		n, err := s.port.Write(p[written:])
		if err != nil {
			return written, &Error{Op: "write", Port: s.name, Err: err}
		}
		written += n
	}
	return written, nil
}

// ReadAvailable reads until the port stays silent for one read timeout,
// [MaxReadSize] bytes were read or [MaxReadDuration] elapsed.
func (s *Serial) ReadAvailable() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &Error{Op: "read", Port: s.name, Err: ErrClosed}
	}
	out, err := drain(s.port, MaxReadSize, time.Now().Add(MaxReadDuration))
	if err != nil {
		return out, &Error{Op: "read", Port: s.name, Err: err}
	}
	return out, nil
}

// go.bug.st/serial returns 0, nil when the read timeout elapses
func drain(r io.Reader, limit int, deadline time.Time) ([]byte, error) {
	var out []byte
	buf := make([]byte, readChunkSize)
	for len(out) < limit && time.Now().Before(deadline) {
		chunk := buf
		if remaining := limit - len(out); remaining < len(chunk) {
			chunk = chunk[:remaining]
		}
		n, err := r.Read(chunk)
		if err != nil {
			return out, err
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, chunk[:n]...)
	}
	if len(out) >= limit {
		log.Warnf("[SERIAL] read stopped at %d bytes, adapter still sending", len(out))
	} else {
		log.Warnf("[SERIAL] read stopped after %v, adapter still sending", MaxReadDuration)
	}
	return out, nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	log.Debugf("[SERIAL] closing %s", s.name)
	if err := s.port.Close(); err != nil {
		return &Error{Op: "close", Port: s.name, Err: err}
	}
	return nil
}

// Ports lists the serial ports available on this host
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}
	return ports, nil
}
