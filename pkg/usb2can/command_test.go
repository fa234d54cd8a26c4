package usb2can

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeCommandLength(t *testing.T) {
	for size := 0; size <= MaxPayloadSize; size++ {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}
		raw, err := EncodeCommand(OpWriteMessage, payload)
		assert.Nil(t, err)
		assert.Len(t, raw, HeaderSize+size)
		assert.Equal(t, []byte{StartByte, byte(OpWriteMessage), byte(size)}, raw[:HeaderSize])
		assert.Equal(t, payload, raw[HeaderSize:])
	}
}

func TestEncodeCommandTooLong(t *testing.T) {
	_, err := EncodeCommand(OpWriteReg, make([]byte, MaxPayloadSize+1))
	assert.True(t, errors.Is(err, ErrPayloadTooLong))
	assert.True(t, IsPrecondition(err))
}

func TestRegisterWriteEncoding(t *testing.T) {
	cmd := WriteRegister(RegClockDivider, 0xC0)
	assert.Equal(t, OpWriteReg, cmd.Opcode)
	assert.Equal(t, []byte{0x1C, 0xC0}, cmd.Payload)
	raw, err := cmd.MarshalBinary()
	assert.Nil(t, err)
	assert.Equal(t, []byte{0x0F, 0x12, 0x02, 0x1C, 0xC0}, raw)
}

func TestParseCommand(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		raw, _ := EncodeCommand(OpSetLimit, []byte{0x01, 17})
		raw = append(raw, 0xAA)
		cmd, n, err := ParseCommand(raw)
		assert.Nil(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, OpSetLimit, cmd.Opcode)
		assert.Equal(t, []byte{0x01, 17}, cmd.Payload)
	})
	t.Run("bad start byte", func(t *testing.T) {
		_, _, err := ParseCommand([]byte{0x10, 0x02, 0x00})
		assert.True(t, errors.Is(err, ErrMalformed))
	})
	t.Run("truncated", func(t *testing.T) {
		_, _, err := ParseCommand([]byte{0x0F, 0x12, 0x02, 0x1C})
		assert.True(t, errors.Is(err, ErrMalformed))
		_, _, err = ParseCommand([]byte{0x0F})
		assert.True(t, errors.Is(err, ErrMalformed))
	})
}

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "WRITE_REG", OpWriteReg.String())
	assert.Equal(t, "OPCODE(99)", Opcode(99).String())
}

func TestConfigurationSequence(t *testing.T) {
	expected := [][]byte{
		{0x0F, 2, 0},
		{0x0F, 18, 2, 0x00, 0x01},
		{0x0F, 18, 2, 0x1C, 0xC0},
		{0x0F, 18, 2, 0x04, 0x00},
		{0x0F, 18, 2, 0x05, 0xFF},
		{0x0F, 18, 2, 0x1A, 0xDA},
		{0x0F, 18, 2, 0x0C, 0x03},
		{0x0F, 18, 2, 0x06, 0x00},
		{0x0F, 18, 2, 0x07, 0x1C},
		{0x0F, 32, 2, 0x00, 18},
		{0x0F, 32, 2, 0x01, 17},
		{0x0F, 3, 0},
		{0x0F, 18, 2, 0x00, 0x00},
	}
	steps := ConfigurationSequence()
	assert.Len(t, steps, len(expected))
	for i, step := range steps {
		raw, err := step.Command.MarshalBinary()
		assert.Nil(t, err)
		assert.Equal(t, expected[i], raw, "step %d %s", i+1, step.Name)
	}
}
