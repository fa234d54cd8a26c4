package usb2can

import (
	"fmt"
)

// Every command frame starts with this byte
const StartByte byte = 0x0F

// Header is start byte, opcode and length
const HeaderSize = 3

// The length field is a single byte
const MaxPayloadSize = 255

// Adapter opcodes
type Opcode uint8

const (
	OpBootMode     Opcode = 1
	OpConfigMode   Opcode = 2
	OpNormalMode   Opcode = 3
	OpWriteReg     Opcode = 18
	OpSetLimit     Opcode = 32
	OpWriteMessage Opcode = 0x40
	OpReadMessage  Opcode = 65
)

var opcodeDescription = map[Opcode]string{
	OpBootMode:     "BOOT_MODE",
	OpConfigMode:   "CONFIG_MODE",
	OpNormalMode:   "NORMAL_MODE",
	OpWriteReg:     "WRITE_REG",
	OpSetLimit:     "SET_LIMIT",
	OpWriteMessage: "WRITE_MESSAGE",
	OpReadMessage:  "READ_MESSAGE",
}

func (op Opcode) String() string {
	if desc, ok := opcodeDescription[op]; ok {
		return desc
	}
	return fmt.Sprintf("OPCODE(%d)", uint8(op))
}

// A command frame : start byte, opcode, payload length and payload
type Command struct {
	Opcode  Opcode
	Payload []byte
}

func NewCommand(op Opcode, payload ...byte) Command {
	return Command{Opcode: op, Payload: payload}
}

// MarshalBinary returns the wire bytes of the command
func (c Command) MarshalBinary() ([]byte, error) {
	return EncodeCommand(c.Opcode, c.Payload)
}

func (c Command) String() string {
	return fmt.Sprintf("%v % X", c.Opcode, c.Payload)
}

// EncodeCommand serializes a command into [0x0F, opcode, len(payload)] ++ payload
func EncodeCommand(op Opcode, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w : %v carries %d bytes", ErrPayloadTooLong, op, len(payload))
	}
	raw := make([]byte, 0, HeaderSize+len(payload))
	raw = append(raw, StartByte, byte(op), byte(len(payload)))
	return append(raw, payload...), nil
}

// ParseCommand reads one command frame at the start of raw.
// It returns the command and the number of bytes consumed.
func ParseCommand(raw []byte) (Command, int, error) {
	if len(raw) < HeaderSize {
		return Command{}, 0, fmt.Errorf("%w : %d bytes is shorter than a header", ErrMalformed, len(raw))
	}
	if raw[0] != StartByte {
		return Command{}, 0, fmt.Errorf("%w : start byte x%02x", ErrMalformed, raw[0])
	}
	length := int(raw[2])
	if len(raw) < HeaderSize+length {
		return Command{}, 0, fmt.Errorf("%w : length %d but only %d payload bytes", ErrMalformed, length, len(raw)-HeaderSize)
	}
	payload := append([]byte(nil), raw[HeaderSize:HeaderSize+length]...)
	return Command{Opcode: Opcode(raw[1]), Payload: payload}, HeaderSize + length, nil
}
