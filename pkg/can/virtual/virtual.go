package virtual

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/canflash/usb2can/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Virtual CAN bus implementation with TCP, used for testing and dry runs
// without an adapter. This needs a broker server to send CAN frames to
// all connected clients, see https://github.com/windelbouwman/virtualcan
// Only standard frames are supported.

const (
	readDeadline  = 200 * time.Millisecond
	writeDeadline = 10 * time.Millisecond
)

var (
	ErrNoConnection = errors.New("no active connection")
	ErrFraming      = errors.New("frame cut by read deadline, stream out of sync")
)

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

type Bus struct {
	mu           sync.Mutex
	channel      string
	conn         net.Conn
	receiveOwn   bool
	framehandler can.FrameListener
	stopChan     chan struct{}
	wg           sync.WaitGroup
	isRunning    bool
	logger       *log.Entry
}

// Create a new virtual bus, channel is the broker address e.g. localhost:18888.
// Bitrate has no meaning on a virtual bus and is ignored.
func NewVirtualCanBus(channel string, bitrate int) (can.Bus, error) {
	return &Bus{
		channel: channel,
		logger:  log.WithField("service", "[VIRTUAL]").WithField("channel", channel),
	}, nil
}

// Serialize a CAN frame with its 4 bytes length prefix
func serializeFrame(frame can.Frame) ([]byte, error) {
	data, err := frame.MarshalBinary()
	if err != nil {
		return nil, err
	}
	packet := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(packet, uint32(len(data)))
	return append(packet, data...), nil
}

// "Connect" to broker
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return err
		}
	}
	b.conn = conn
	b.logger.Debug("connected to broker")
	return nil
}

// "Disconnect" from broker
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	running := b.isRunning
	if running {
		close(b.stopChan)
		b.isRunning = false
	}
	b.mu.Unlock()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame can.Frame) error {
	b.mu.Lock()
	handler := b.framehandler
	conn := b.conn
	receiveOwn := b.receiveOwn
	b.mu.Unlock()

	// Local loopback
	if receiveOwn && handler != nil {
		handler.Handle(frame)
	}
	if conn == nil {
		if receiveOwn {
			return nil
		}
		return fmt.Errorf("%w : abort send", ErrNoConnection)
	}
	packet, err := serializeFrame(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_, err = conn.Write(packet)
	return err
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	if b.isRunning || b.conn == nil {
		return nil
	}
	b.stopChan = make(chan struct{})
	b.isRunning = true
	b.wg.Add(1)
	go b.handleReception(b.conn, b.stopChan)
	return nil
}

// Recv reads one frame from the broker
func (b *Bus) Recv() (*can.Frame, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("%w : abort receive", ErrNoConnection)
	}
	return recv(conn)
}

func recv(conn net.Conn) (*can.Frame, error) {
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	header := make([]byte, 4)
	// An idle timeout is fine, a timeout inside a packet is not
	if n, err := io.ReadFull(conn, header); err != nil {
		if n == 0 {
			return nil, err
		}
		return nil, fmt.Errorf("%w : header %d/4 bytes : %v", ErrFraming, n, err)
	}
	length := binary.BigEndian.Uint32(header)
	if length < can.FrameSize || length > 64 {
		return nil, fmt.Errorf("%w : unexpected frame length %v", ErrFraming, length)
	}
	payload := make([]byte, length)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	if n, err := io.ReadFull(conn, payload); err != nil {
		return nil, fmt.Errorf("%w : payload %d/%d bytes : %v", ErrFraming, n, length, err)
	}
	var frame can.Frame
	if err := frame.UnmarshalBinary(payload); err != nil {
		return nil, err
	}
	return &frame, nil
}

// Handle incoming traffic until stopped or the connection fails
func (b *Bus) handleReception(conn net.Conn, stop chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		frame, err := recv(conn)
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// No message received, this is OK
			continue
		}
		if err != nil {
			select {
			case <-stop:
			default:
				b.logger.Errorf("listening routine has closed because : %v", err)
			}
			b.mu.Lock()
			b.isRunning = false
			// The byte stream cannot be resynchronized, drop the connection
			if errors.Is(err, ErrFraming) && b.conn == conn {
				conn.Close()
				b.conn = nil
			}
			b.mu.Unlock()
			return
		}
		b.mu.Lock()
		handler := b.framehandler
		b.mu.Unlock()
		if handler != nil {
			handler.Handle(*frame)
		}
	}
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}
