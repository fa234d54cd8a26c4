package usb2can

import (
	"errors"
	"testing"

	"github.com/canflash/usb2can/pkg/can"
	"github.com/canflash/usb2can/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, responder transport.Responder, strict bool) (*Session, *transport.Memory) {
	mem := transport.NewMemory(responder)
	config := DefaultConfig()
	config.CommandDelay = 0
	config.StrictAck = strict
	session, err := NewSession(mem, config)
	require.Nil(t, err)
	return session, mem
}

func configuredSession(t *testing.T) (*Session, *transport.Memory) {
	session, mem := newTestSession(t, transport.EchoResponder, false)
	_, err := session.Configure()
	require.Nil(t, err)
	require.Equal(t, StateReady, session.State())
	return session, mem
}

func encoded(t *testing.T, steps []Step) [][]byte {
	out := make([][]byte, 0, len(steps))
	for _, step := range steps {
		raw, err := step.Command.MarshalBinary()
		require.Nil(t, err)
		out = append(out, raw)
	}
	return out
}

func TestNewSessionNilTransport(t *testing.T) {
	_, err := NewSession(nil, DefaultConfig())
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestConfigureIgnoresEmptyResponses(t *testing.T) {
	session, mem := newTestSession(t, nil, false)
	report, err := session.Configure()
	assert.Nil(t, err)
	assert.Equal(t, StateReady, session.State())
	assert.Equal(t, encoded(t, ConfigurationSequence()), mem.Writes())
	assert.Len(t, report.Steps, 13)
	assert.Equal(t, 13, report.Count(AckTimeout))
	assert.False(t, report.Acknowledged())
}

func TestConfigureAcknowledged(t *testing.T) {
	session, mem := newTestSession(t, transport.EchoResponder, false)
	report, err := session.Configure()
	assert.Nil(t, err)
	assert.True(t, report.Acknowledged())
	assert.Len(t, mem.Writes(), 13)
}

func TestConfigureStrictAck(t *testing.T) {
	t.Run("aborts on silence", func(t *testing.T) {
		session, mem := newTestSession(t, nil, true)
		report, err := session.Configure()
		assert.True(t, errors.Is(err, ErrNotAcknowledged))
		assert.Len(t, report.Steps, 1)
		assert.Len(t, mem.Writes(), 1)
		assert.Equal(t, StateDisconnected, session.State())
	})
	t.Run("custom rejection", func(t *testing.T) {
		session, _ := newTestSession(t, transport.EchoResponder, true)
		session.config.Ack = func(cmd Command, response []byte) Ack {
			if cmd.Opcode == OpSetLimit {
				return AckRejected
			}
			return DefaultAck(cmd, response)
		}
		report, err := session.Configure()
		assert.True(t, errors.Is(err, ErrNotAcknowledged))
		assert.Len(t, report.Steps, 10)
		assert.Equal(t, AckRejected, report.Steps[9].Ack)
	})
}

func TestConfigureTransportError(t *testing.T) {
	session, mem := newTestSession(t, transport.EchoResponder, false)
	mem.FailWriteAt(4)
	_, err := session.Configure()
	assert.True(t, IsTransport(err))
	assert.True(t, errors.Is(err, transport.ErrInjected))
	assert.Equal(t, StateDisconnected, session.State())
	assert.True(t, mem.Closed())
	assert.Len(t, mem.Writes(), 3)

	// No transport anymore
	_, err = session.Configure()
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestSendRequiresReady(t *testing.T) {
	session, mem := newTestSession(t, nil, false)
	err := session.SendMessage(0x12, []byte{1})
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.True(t, IsPrecondition(err))
	_, err = session.Receive()
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.Empty(t, mem.Writes())
}

func TestSendMessage(t *testing.T) {
	session, mem := configuredSession(t)
	err := session.SendMessage(0x12, []byte{0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27, 0x28})
	assert.Nil(t, err)
	writes := mem.Writes()
	assert.Equal(t,
		[]byte{0x0F, 0x40, 0x0B, 0x08, 0x02, 0x40, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27, 0x28},
		writes[len(writes)-1])
}

func TestSendTooLongNoWrite(t *testing.T) {
	session, mem := configuredSession(t)
	before := len(mem.Writes())
	err := session.SendMessage(0x11, make([]byte, 9))
	assert.True(t, errors.Is(err, ErrInvalidFrame))
	assert.True(t, IsPrecondition(err))
	assert.Len(t, mem.Writes(), before)

	err = session.Send(can.Frame{ID: 0x11, DLC: 12})
	assert.True(t, errors.Is(err, ErrInvalidFrame))
	assert.Len(t, mem.Writes(), before)
}

func TestReceive(t *testing.T) {
	session, mem := newTestSession(t, nil, false)
	_, err := session.Configure()
	require.Nil(t, err)

	t.Run("nothing available", func(t *testing.T) {
		raw, err := session.Receive()
		assert.Nil(t, err)
		assert.Empty(t, raw)
		_, ok, err := session.ReceiveFrame()
		assert.Nil(t, err)
		assert.False(t, ok)
		writes := mem.Writes()
		assert.Equal(t, []byte{0x0F, 65, 0}, writes[len(writes)-1])
	})
	t.Run("frame available", func(t *testing.T) {
		payload, _ := EncodeMessage(0x21, []byte{0xAA, 0xBB})
		mem.Inject(payload)
		frame, ok, err := session.ReceiveFrame()
		assert.Nil(t, err)
		assert.True(t, ok)
		assert.EqualValues(t, 0x21, frame.ID)
		assert.Equal(t, []byte{0xAA, 0xBB}, frame.Payload())
	})
}

func TestResetSequence(t *testing.T) {
	session, mem := configuredSession(t)
	err := session.Reset()
	assert.Nil(t, err)
	assert.Equal(t, StateDisconnected, session.State())
	writes := mem.Writes()
	assert.Equal(t, encoded(t, ResetSequence()), writes[len(writes)-3:])
	assert.Equal(t, [][]byte{{0x0F, 2, 0}, {0x0F, 1, 0}, {0x0F, 18, 2, 0x00, 0x01}}, writes[len(writes)-3:])
	assert.True(t, mem.Closed())

	err = session.SendMessage(0x11, nil)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestCloseIdempotent(t *testing.T) {
	session, mem := configuredSession(t)
	assert.Nil(t, session.Close())
	writes := len(mem.Writes())
	assert.Equal(t, StateClosed, session.State())
	assert.Nil(t, session.Close())
	assert.Equal(t, 1, mem.CloseCount())
	assert.Len(t, mem.Writes(), writes)

	_, err := session.Configure()
	assert.True(t, errors.Is(err, ErrSessionClosed))
	assert.True(t, errors.Is(session.Reset(), ErrSessionClosed))
}

func TestCloseAfterReset(t *testing.T) {
	session, mem := configuredSession(t)
	assert.Nil(t, session.Reset())
	writes := len(mem.Writes())
	assert.Nil(t, session.Close())
	assert.Equal(t, StateClosed, session.State())
	assert.Len(t, mem.Writes(), writes)
	assert.Equal(t, 1, mem.CloseCount())
}

func TestAttach(t *testing.T) {
	session, mem := newTestSession(t, transport.EchoResponder, false)
	assert.Nil(t, session.Attach())
	assert.Equal(t, StateReady, session.State())
	assert.Empty(t, mem.Writes())

	raw, err := session.Receive()
	assert.Nil(t, err)
	assert.Equal(t, []byte{0x0F, 0x41, 0x00}, raw)
	assert.Equal(t, [][]byte{{0x0F, 0x41, 0x00}}, mem.Writes())

	assert.Nil(t, session.Close())
	assert.ErrorIs(t, session.Attach(), ErrSessionClosed)
}

func TestAttachWithoutTransport(t *testing.T) {
	session, _ := newTestSession(t, transport.EchoResponder, false)
	require.Nil(t, session.Reset())
	assert.ErrorIs(t, session.Attach(), ErrNotConnected)
	assert.Equal(t, StateDisconnected, session.State())
}
