package usb2can

import (
	"errors"
	"testing"

	"github.com/canflash/usb2can/pkg/can"
	"github.com/stretchr/testify/assert"
)

func TestPackIDRoundTrip(t *testing.T) {
	for id := uint32(0); id <= can.CanSffMask; id++ {
		high, low := PackID(id)
		assert.Equal(t, byte((id>>3)&0xFF), high)
		assert.Equal(t, byte((id&0x07)<<5), low)
		assert.Zero(t, low&0x1F)
		assert.Equal(t, id, UnpackID(high, low))
	}
}

func TestEncodeMessage(t *testing.T) {
	payload, err := EncodeMessage(0x11, []byte{0xFE, 0xED, 0xFA, 0xCE, 0xCA, 0xFE, 0xBE, 0xEF})
	assert.Nil(t, err)
	assert.Equal(t, []byte{0x08, 0x02, 0x20, 0xFE, 0xED, 0xFA, 0xCE, 0xCA, 0xFE, 0xBE, 0xEF}, payload)

	payload, err = EncodeMessage(0x7FF, nil)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0x00, 0xFF, 0xE0}, payload)
}

func TestEncodeMessageInvalid(t *testing.T) {
	_, err := EncodeMessage(0x12, make([]byte, 9))
	assert.True(t, errors.Is(err, ErrInvalidFrame))
	_, err = EncodeMessage(0x800, nil)
	assert.True(t, errors.Is(err, ErrInvalidFrame))
	_, err = EncodeFrame(can.Frame{ID: 0x10, DLC: 9})
	assert.True(t, errors.Is(err, ErrInvalidFrame))
}

func TestDecodeMessage(t *testing.T) {
	data := []byte{0x21, 0x22, 0x23}
	payload, _ := EncodeMessage(0x123, data)

	t.Run("bare payload", func(t *testing.T) {
		frame, err := DecodeMessage(payload)
		assert.Nil(t, err)
		assert.EqualValues(t, 0x123, frame.ID)
		assert.Equal(t, data, frame.Payload())
	})
	t.Run("command envelope", func(t *testing.T) {
		raw, _ := EncodeCommand(OpReadMessage, payload)
		frame, err := DecodeMessage(raw)
		assert.Nil(t, err)
		assert.EqualValues(t, 0x123, frame.ID)
		assert.EqualValues(t, 3, frame.DLC)
		assert.Equal(t, data, frame.Payload())
	})
	t.Run("malformed", func(t *testing.T) {
		_, err := DecodeMessage([]byte{0x01})
		assert.True(t, errors.Is(err, ErrMalformed))
		_, err = DecodeMessage([]byte{0x04, 0x00, 0x00, 0x01})
		assert.True(t, errors.Is(err, ErrMalformed))
		_, err = DecodeMessage([]byte{0x0F, 0x40, 0x05, 0x00})
		assert.True(t, errors.Is(err, ErrMalformed))
	})
}
