package can

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const CanRtrFlag uint32 = 0x40000000
const CanSffMask uint32 = 0x000007FF

// Maximum payload of a classic CAN frame
const MaxDataLength = 8

var ErrUnsupportedInterface = errors.New("unsupported CAN interface")

// A CAN frame
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

func NewFrame(id uint32, flags uint8, dlc uint8) Frame {
	return Frame{ID: id, Flags: flags, DLC: dlc}
}

// Create a standard frame from an identifier and up to 8 bytes of data.
// Extra bytes are an error, the frame is never truncated silently.
func NewDataFrame(id uint32, data []byte) (Frame, error) {
	if len(data) > MaxDataLength {
		return Frame{}, fmt.Errorf("frame x%x carries %d bytes, max is %d", id, len(data), MaxDataLength)
	}
	frame := NewFrame(id, 0, uint8(len(data)))
	copy(frame.Data[:], data)
	return frame, nil
}

// Payload returns the DLC first bytes of the frame data
func (frame Frame) Payload() []byte {
	dlc := int(frame.DLC)
	if dlc > MaxDataLength {
		dlc = MaxDataLength
	}
	return frame.Data[:dlc]
}

func (frame Frame) String() string {
	return fmt.Sprintf("x%03x [%d] % X", frame.ID, frame.DLC, frame.Payload())
}

// Interface for handling a received CAN frame
type FrameListener interface {
	Handle(frame Frame)
}

// A CAN Bus interface
type Bus interface {
	Connect(...any) error                   // Connect to the CAN bus
	Disconnect() error                      // Disconnect from CAN bus
	Send(frame Frame) error                 // Send a frame on the bus
	Subscribe(callback FrameListener) error // Subscribe to all received CAN frames
}

type NewInterfaceFunc func(channel string, bitrate int) (Bus, error)

var (
	registryMu        sync.RWMutex
	interfaceRegistry = make(map[string]NewInterfaceFunc)
)

// Register a new CAN bus interface type
// This should be called inside an init() function of plugin
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	interfaceRegistry[interfaceType] = newInterface
}

// Names of the registered interfaces, sorted
func Interfaces() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(interfaceRegistry))
	for name := range interfaceRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create a new CAN bus with given interface
// Drivers register themselves on import : usb2can, socketcan, virtual
func NewBus(canInterface string, channel string, bitrate int) (Bus, error) {
	registryMu.RLock()
	createInterface, ok := interfaceRegistry[canInterface]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w : %v", ErrUnsupportedInterface, canInterface)
	}
	return createInterface(channel, bitrate)
}
