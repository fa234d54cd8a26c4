package usb2can

import (
	"sync"
	"testing"
	"time"

	"github.com/canflash/usb2can/pkg/can"
	"github.com/canflash/usb2can/pkg/transport"
	adapter "github.com/canflash/usb2can/pkg/usb2can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Answers READ_MESSAGE with a frame x111 [2] AA BB
func frameResponder(request []byte) []byte {
	if len(request) >= 2 && request[1] == byte(adapter.OpReadMessage) {
		return []byte{0x0F, 0x41, 0x05, 0x02, 0x22, 0x20, 0xAA, 0xBB}
	}
	return transport.EchoResponder(request)
}

type FrameReceiver struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (r *FrameReceiver) Handle(frame can.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *FrameReceiver) first() (can.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return can.Frame{}, false
	}
	return r.frames[0], true
}

func newTestBus(responder transport.Responder) (*Bus, *transport.Memory) {
	mem := transport.NewMemory(responder)
	config := adapter.DefaultConfig()
	config.CommandDelay = 0
	return NewBus(mem, config, time.Millisecond), mem
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, can.Interfaces(), "usb2can")
	_, err := can.NewBus("usb2can", "", 0)
	assert.ErrorIs(t, err, transport.ErrNoPort)

	bus, err := can.NewBus("usb2can", "/dev/ttyUSB0", 0)
	assert.Nil(t, err)
	assert.Equal(t, transport.DefaultBaudRate, bus.(*Bus).baudRate)
}

func TestConnectConfigures(t *testing.T) {
	bus, mem := newTestBus(transport.EchoResponder)
	require.Nil(t, bus.Connect())
	assert.Len(t, mem.Writes(), len(adapter.ConfigurationSequence()))
	assert.Equal(t, adapter.StateReady, bus.Session().State())

	// Connecting twice keeps the session
	require.Nil(t, bus.Connect())
	assert.Len(t, mem.Writes(), len(adapter.ConfigurationSequence()))
}

func TestSendBeforeConnect(t *testing.T) {
	bus, mem := newTestBus(nil)
	assert.ErrorIs(t, bus.Send(can.Frame{ID: 0x11}), adapter.ErrNotConnected)
	assert.ErrorIs(t, bus.Subscribe(&FrameReceiver{}), adapter.ErrNotConnected)
	assert.Empty(t, mem.Writes())
}

func TestSend(t *testing.T) {
	bus, mem := newTestBus(transport.EchoResponder)
	require.Nil(t, bus.Connect())
	frame, err := can.NewDataFrame(0x123, []byte{0xDE, 0xAD})
	require.Nil(t, err)
	assert.Nil(t, bus.Send(frame))
	writes := mem.Writes()
	assert.Equal(t, []byte{0x0F, 0x40, 0x05, 0x02, 0x24, 0x60, 0xDE, 0xAD}, writes[len(writes)-1])
}

func TestSubscribePolls(t *testing.T) {
	bus, _ := newTestBus(frameResponder)
	require.Nil(t, bus.Connect())
	receiver := &FrameReceiver{}
	require.Nil(t, bus.Subscribe(receiver))

	assert.Eventually(t, func() bool {
		_, ok := receiver.first()
		return ok
	}, time.Second, time.Millisecond)
	frame, _ := receiver.first()
	assert.EqualValues(t, 0x111, frame.ID)
	assert.Equal(t, []byte{0xAA, 0xBB}, frame.Payload())
	assert.Nil(t, bus.Disconnect())
}

func TestPollIgnoresMalformed(t *testing.T) {
	bus, mem := newTestBus(transport.EchoResponder)
	require.Nil(t, bus.Connect())
	receiver := &FrameReceiver{}
	require.Nil(t, bus.Subscribe(receiver))
	configured := len(mem.Writes())
	// Keeps polling even though every answer is an empty envelope
	assert.Eventually(t, func() bool { return len(mem.Writes()) > configured+3 }, time.Second, time.Millisecond)
	_, ok := receiver.first()
	assert.False(t, ok)
	assert.Nil(t, bus.Disconnect())
}

func TestDisconnect(t *testing.T) {
	bus, mem := newTestBus(transport.EchoResponder)
	require.Nil(t, bus.Connect())
	require.Nil(t, bus.Subscribe(&FrameReceiver{}))
	assert.Nil(t, bus.Disconnect())
	assert.Nil(t, bus.Disconnect())
	assert.True(t, mem.Closed())
	assert.Equal(t, 1, mem.CloseCount())
	assert.Nil(t, bus.Session())

	writes := mem.Writes()
	reset := adapter.ResetSequence()
	tail := writes[len(writes)-len(reset):]
	for i, step := range reset {
		raw, err := step.Command.MarshalBinary()
		require.Nil(t, err)
		assert.Equal(t, raw, tail[i], step.Name)
	}
}

func TestConnectFailsOnTransportError(t *testing.T) {
	bus, mem := newTestBus(transport.EchoResponder)
	mem.FailWriteAt(3)
	assert.NotNil(t, bus.Connect())
	assert.Nil(t, bus.Session())
	assert.True(t, mem.Closed())
}
