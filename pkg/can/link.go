package can

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

const DefaultLinkQueueSize = 64

var ErrLinkClosed = errors.New("link is closed")

// BusLink wraps any [Bus] so that it can be used as a request / response
// link : frames are sent directly on the bus and every received frame
// is queued until Receive is called.
// Only frames matching the filter are queued, an empty filter accepts all.
type BusLink struct {
	mu     sync.Mutex
	bus    Bus
	rx     chan Frame
	filter map[uint32]bool
	closed bool
	logger *log.Entry
}

// Create a new [BusLink], the bus must already be connected
func NewBusLink(bus Bus, queueSize int, ids ...uint32) (*BusLink, error) {
	if bus == nil {
		return nil, errors.New("bus cannot be nil")
	}
	if queueSize <= 0 {
		queueSize = DefaultLinkQueueSize
	}
	link := &BusLink{
		bus:    bus,
		rx:     make(chan Frame, queueSize),
		filter: make(map[uint32]bool),
		logger: log.WithField("service", "[LINK]"),
	}
	for _, id := range ids {
		link.filter[id&CanSffMask] = true
	}
	if err := bus.Subscribe(link); err != nil {
		return nil, err
	}
	return link, nil
}

// Implements the FrameListener interface
func (link *BusLink) Handle(frame Frame) {
	if len(link.filter) > 0 && !link.filter[frame.ID&CanSffMask] {
		return
	}
	select {
	case link.rx <- frame:
	default:
		link.logger.Warnf("dropped rx frame %v, queue full", frame)
	}
}

func (link *BusLink) Send(frame Frame) error {
	link.mu.Lock()
	defer link.mu.Unlock()
	if link.closed {
		return ErrLinkClosed
	}
	return link.bus.Send(frame)
}

// Receive returns the next queued frame serialized with MarshalBinary.
// An empty slice means nothing was received.
func (link *BusLink) Receive() ([]byte, error) {
	link.mu.Lock()
	closed := link.closed
	link.mu.Unlock()
	if closed {
		return nil, ErrLinkClosed
	}
	select {
	case frame := <-link.rx:
		return frame.MarshalBinary()
	default:
		return nil, nil
	}
}

// ReceiveFrame returns the next queued frame if any
func (link *BusLink) ReceiveFrame() (Frame, bool) {
	select {
	case frame := <-link.rx:
		return frame, true
	default:
		return Frame{}, false
	}
}

// Close disconnects the underlying bus, calling it twice is a no-op
func (link *BusLink) Close() error {
	link.mu.Lock()
	defer link.mu.Unlock()
	if link.closed {
		return nil
	}
	link.closed = true
	return link.bus.Disconnect()
}
