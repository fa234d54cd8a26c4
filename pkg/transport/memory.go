package transport

import (
	"errors"
	"sync"
)

var ErrInjected = errors.New("injected transport failure")

// Responder computes the bytes an in-memory adapter buffers after a write
type Responder func(request []byte) []byte

// EchoResponder answers every request with its 3 byte header, which is
// enough for anything that only checks that "something" came back
func EchoResponder(request []byte) []byte {
	if len(request) < 3 {
		return nil
	}
	return []byte{request[0], request[1], 0}
}

// Memory is an in-memory [Transport] that records every write.
// It is used for dry runs and tests.
type Memory struct {
	mu         sync.Mutex
	writes     [][]byte
	pending    []byte
	responder  Responder
	failWrite  int
	writeCount int
	closed     bool
	closeCount int
}

// Create a new [Memory] transport, responder may be nil
func NewMemory(responder Responder) *Memory {
	return &Memory{responder: responder}
}

// FailWriteAt makes the n-th write (1 based, counted from now) fail
// with [ErrInjected]. Zero disables it.
func (m *Memory) FailWriteAt(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		m.failWrite = 0
		return
	}
	m.failWrite = m.writeCount + n
}

func (m *Memory) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, &Error{Op: "write", Port: "memory", Err: ErrClosed}
	}
	m.writeCount++
	if m.failWrite != 0 && m.writeCount == m.failWrite {
		return 0, &Error{Op: "write", Port: "memory", Err: ErrInjected}
	}
	m.writes = append(m.writes, append([]byte(nil), p...))
	if m.responder != nil {
		m.pending = append(m.pending, m.responder(p)...)
	}
	return len(p), nil
}

func (m *Memory) ReadAvailable() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, &Error{Op: "read", Port: "memory", Err: ErrClosed}
	}
	out := m.pending
	m.pending = nil
	return out, nil
}

// Inject queues bytes as if the adapter had sent them
func (m *Memory) Inject(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, p...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.closeCount++
	return nil
}

// Writes returns a copy of all successful writes, in order
func (m *Memory) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	for i, w := range m.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CloseCount is the number of times the transport was actually closed
func (m *Memory) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}
