package usb2can

import (
	"errors"
	"sync"
	"time"

	"github.com/canflash/usb2can/pkg/can"
	"github.com/canflash/usb2can/pkg/transport"
	adapter "github.com/canflash/usb2can/pkg/usb2can"
	log "github.com/sirupsen/logrus"
)

// USB2CAN adapter exposed as a generic CAN bus.
// The channel is the serial port name, the bitrate is used as serial baud
// rate since the CAN bit timing is fixed by the configuration sequence.
// The adapter has no receive interrupt, frames are polled with READ_MESSAGE.

const DefaultPollInterval = 20 * time.Millisecond

func init() {
	can.RegisterInterface("usb2can", NewUsb2CanBus)
}

type Bus struct {
	mu           sync.Mutex
	port         string
	baudRate     int
	transport    transport.Transport
	config       adapter.Config
	session      *adapter.Session
	pollInterval time.Duration
	listener     can.FrameListener
	stopChan     chan struct{}
	wg           sync.WaitGroup
	logger       *log.Entry
}

// Create a new usb2can bus on a serial port, nothing is opened until Connect
func NewUsb2CanBus(channel string, bitrate int) (can.Bus, error) {
	if channel == "" {
		return nil, transport.ErrNoPort
	}
	if bitrate <= 0 {
		bitrate = transport.DefaultBaudRate
	}
	return &Bus{
		port:         channel,
		baudRate:     bitrate,
		config:       adapter.DefaultConfig(),
		pollInterval: DefaultPollInterval,
		logger:       log.WithField("service", "[USB2CAN]").WithField("port", channel),
	}, nil
}

// Create a new usb2can bus on an already open transport.
// The transport is owned by the bus from now on.
func NewBus(t transport.Transport, config adapter.Config, pollInterval time.Duration) *Bus {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Bus{
		port:         "memory",
		transport:    t,
		config:       config,
		pollInterval: pollInterval,
		logger:       log.WithField("service", "[USB2CAN]"),
	}
}

// "Connect" opens the serial port and runs the configuration sequence
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		return nil
	}
	t := b.transport
	b.transport = nil
	if t == nil {
		var err error
		t, err = transport.Open(b.port, b.baudRate, 0)
		if err != nil {
			return err
		}
	}
	session, err := adapter.NewSession(t, b.config)
	if err != nil {
		t.Close()
		return err
	}
	if _, err := session.Configure(); err != nil {
		session.Close()
		return err
	}
	b.session = session
	return nil
}

// "Disconnect" stops polling, resets the adapter and releases the port
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	if b.stopChan != nil {
		close(b.stopChan)
		b.stopChan = nil
	}
	b.mu.Unlock()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	err := b.session.Close()
	b.session = nil
	return err
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return adapter.ErrNotConnected
	}
	return b.session.Send(frame)
}

// "Subscribe" starts polling the adapter, received frames go to listener
func (b *Bus) Subscribe(listener can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return adapter.ErrNotConnected
	}
	b.listener = listener
	if b.stopChan != nil {
		return nil
	}
	b.stopChan = make(chan struct{})
	b.wg.Add(1)
	go b.poll(b.stopChan)
	return nil
}

func (b *Bus) poll(stop chan struct{}) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		b.mu.Lock()
		if b.session == nil {
			b.mu.Unlock()
			return
		}
		frame, ok, err := b.session.ReceiveFrame()
		listener := b.listener
		b.mu.Unlock()

		switch {
		case errors.Is(err, adapter.ErrMalformed):
			b.logger.Debugf("ignoring response : %v", err)
		case err != nil:
			b.logger.Errorf("polling routine has closed because : %v", err)
			return
		case ok && listener != nil:
			listener.Handle(frame)
		}
	}
}

// Session gives direct access to the adapter, nil when not connected
func (b *Bus) Session() *adapter.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}
