// Package usb2can drives a USB2CAN bridge adapter over a serial link.
//
// A [Session] owns the serial transport for its whole life :
// open, Configure, Send / Receive, Close. It is not safe for concurrent
// use, requests and responses are matched purely by program order.
package usb2can

import (
	"fmt"
	"time"

	"github.com/canflash/usb2can/pkg/can"
	"github.com/canflash/usb2can/pkg/transport"
	log "github.com/sirupsen/logrus"
)

// Time given to the adapter to process a command before its response
// is read. This stands in for a real acknowledgement protocol.
const DefaultCommandDelay = 100 * time.Millisecond

type State uint8

const (
	StateDisconnected State = iota
	StateConfiguring
	StateReady
	StateClosed
)

var stateDescription = map[State]string{
	StateDisconnected: "DISCONNECTED",
	StateConfiguring:  "CONFIGURING",
	StateReady:        "READY",
	StateClosed:       "CLOSED",
}

func (s State) String() string {
	if desc, ok := stateDescription[s]; ok {
		return desc
	}
	return "UNKNOWN"
}

type Config struct {
	// Pause between a command write and the response read
	CommandDelay time.Duration
	// Abort configuration on the first step that is not acknowledged
	StrictAck bool
	// Response classifier, defaults to [DefaultAck]
	Ack AckFunc
	// Defaults to the logrus standard logger
	Logger *log.Logger
}

func DefaultConfig() Config {
	return Config{CommandDelay: DefaultCommandDelay, Ack: DefaultAck}
}

// Session with one adapter
type Session struct {
	transport transport.Transport
	state     State
	config    Config
	logger    *log.Entry
}

// Create a new [Session] on an already open transport
func NewSession(t transport.Transport, config Config) (*Session, error) {
	if t == nil {
		return nil, fmt.Errorf("%w : nil transport", ErrNotConnected)
	}
	if config.Ack == nil {
		config.Ack = DefaultAck
	}
	if config.CommandDelay < 0 {
		config.CommandDelay = 0
	}
	logger := config.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{
		transport: t,
		state:     StateDisconnected,
		config:    config,
		logger:    logger.WithField("service", "[USB2CAN]"),
	}, nil
}

// Attach marks the session Ready without any I/O, for an adapter that was
// configured earlier on the same port. Nothing is checked on the wire.
func (s *Session) Attach() error {
	switch {
	case s.state == StateClosed:
		return ErrSessionClosed
	case s.transport == nil:
		return ErrNotConnected
	}
	s.state = StateReady
	s.logger.Debug("attached to configured adapter")
	return nil
}

func (s *Session) State() State {
	return s.state
}

// SendCommand writes one command frame, waits for the adapter and drains
// whatever it buffered. There is no retry.
func (s *Session) SendCommand(op Opcode, payload []byte) ([]byte, error) {
	raw, err := EncodeCommand(op, payload)
	if err != nil {
		return nil, err
	}
	if s.state == StateClosed {
		return nil, ErrSessionClosed
	}
	if s.transport == nil {
		return nil, ErrNotConnected
	}
	s.logger.Debugf("tx %v : % X", op, raw)
	if _, err := s.transport.Write(raw); err != nil {
		s.fail(err)
		return nil, fmt.Errorf("%v : %w", op, err)
	}
	if s.config.CommandDelay > 0 {
		time.Sleep(s.config.CommandDelay)
	}
	response, err := s.transport.ReadAvailable()
	if err != nil {
		s.fail(err)
		return nil, fmt.Errorf("%v : %w", op, err)
	}
	s.logger.Debugf("rx %v : % X", op, response)
	return response, nil
}

// A transport failure is fatal to the session
func (s *Session) fail(err error) {
	s.logger.Errorf("transport failure, disconnecting : %v", err)
	if s.transport != nil {
		if closeErr := s.transport.Close(); closeErr != nil {
			s.logger.Warnf("closing transport : %v", closeErr)
		}
	}
	s.transport = nil
	if s.state != StateClosed {
		s.state = StateDisconnected
	}
}

func (s *Session) runSequence(steps []Step, strict bool) (Report, error) {
	report := Report{Steps: make([]StepResult, 0, len(steps))}
	for i, step := range steps {
		response, err := s.SendCommand(step.Command.Opcode, step.Command.Payload)
		if err != nil {
			return report, fmt.Errorf("step %d %s : %w", i+1, step.Name, err)
		}
		ack := s.config.Ack(step.Command, response)
		report.Steps = append(report.Steps, StepResult{Step: step, Ack: ack, Response: response})
		if ack != AckAcknowledged {
			s.logger.Warnf("step %d %s : %v", i+1, step.Name, ack)
			if strict {
				return report, fmt.Errorf("step %d %s : %w (%v)", i+1, step.Name, ErrNotAcknowledged, ack)
			}
		}
	}
	return report, nil
}

// Configure programs the adapter registers and switches it to normal mode.
// By default responses are only recorded in the report, a step is never
// aborted unless the transport fails or StrictAck is set.
func (s *Session) Configure() (Report, error) {
	switch {
	case s.state == StateClosed:
		return Report{}, ErrSessionClosed
	case s.transport == nil:
		return Report{}, ErrNotConnected
	}
	s.state = StateConfiguring
	s.logger.Info("configuring adapter")
	report, err := s.runSequence(ConfigurationSequence(), s.config.StrictAck)
	if err != nil {
		if s.state == StateConfiguring {
			s.state = StateDisconnected
		}
		return report, err
	}
	s.state = StateReady
	s.logger.Infof("adapter ready (%d/%d steps acknowledged)", report.Count(AckAcknowledged), len(report.Steps))
	return report, nil
}

// Send one standard CAN frame
func (s *Session) Send(frame can.Frame) error {
	payload, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	if err := s.checkReady(); err != nil {
		return err
	}
	_, err = s.SendCommand(OpWriteMessage, payload)
	return err
}

// SendMessage is Send for an identifier and its data
func (s *Session) SendMessage(id uint32, data []byte) error {
	payload, err := EncodeMessage(id, data)
	if err != nil {
		return err
	}
	if err := s.checkReady(); err != nil {
		return err
	}
	_, err = s.SendCommand(OpWriteMessage, payload)
	return err
}

// Receive asks the adapter for a message and returns the raw response.
// An empty response means no frame was available, it is not an error.
func (s *Session) Receive() ([]byte, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	return s.SendCommand(OpReadMessage, nil)
}

// ReceiveFrame is Receive followed by [DecodeMessage]
func (s *Session) ReceiveFrame() (can.Frame, bool, error) {
	raw, err := s.Receive()
	if err != nil || len(raw) == 0 {
		return can.Frame{}, false, err
	}
	frame, err := DecodeMessage(raw)
	if err != nil {
		return can.Frame{}, false, err
	}
	return frame, true, nil
}

func (s *Session) checkReady() error {
	switch s.state {
	case StateReady:
		return nil
	case StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("%w : session is %v", ErrNotConfigured, s.state)
	}
}

// Reset puts the adapter back in boot mode and closes the transport.
// Resetting a session without transport does nothing.
func (s *Session) Reset() error {
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.transport == nil {
		s.state = StateDisconnected
		return nil
	}
	s.logger.Info("resetting adapter")
	_, err := s.runSequence(ResetSequence(), false)
	if s.transport != nil {
		if closeErr := s.transport.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		s.transport = nil
	}
	s.state = StateDisconnected
	return err
}

// Close resets the adapter and releases the transport.
// Closing an already closed session is a no-op.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	err := s.Reset()
	s.state = StateClosed
	return err
}
