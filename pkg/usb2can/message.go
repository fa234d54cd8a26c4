package usb2can

import (
	"fmt"

	"github.com/canflash/usb2can/pkg/can"
)

// Size of frame info and the two identifier bytes
const messageHeaderSize = 3

// PackID splits an 11 bit identifier into the adapter's two identifier bytes.
// The low 5 bits of low are always zero.
func PackID(id uint32) (high byte, low byte) {
	return byte((id >> 3) & 0xFF), byte((id & 0x07) << 5)
}

// UnpackID is the inverse of PackID
func UnpackID(high byte, low byte) uint32 {
	return uint32(high)<<3 | uint32(low>>5)
}

// EncodeMessage builds the WRITE_MESSAGE payload [frame info, id high, id low] ++ data.
// Only standard frames are supported.
func EncodeMessage(id uint32, data []byte) ([]byte, error) {
	if len(data) > can.MaxDataLength {
		return nil, fmt.Errorf("%w : %d data bytes, max is %d", ErrInvalidFrame, len(data), can.MaxDataLength)
	}
	if id > can.CanSffMask {
		return nil, fmt.Errorf("%w : identifier x%x is not a standard identifier", ErrInvalidFrame, id)
	}
	high, low := PackID(id)
	payload := make([]byte, 0, messageHeaderSize+len(data))
	payload = append(payload, byte(len(data)), high, low)
	return append(payload, data...), nil
}

// EncodeFrame is EncodeMessage for a [can.Frame]
func EncodeFrame(frame can.Frame) ([]byte, error) {
	if frame.DLC > can.MaxDataLength {
		return nil, fmt.Errorf("%w : DLC %d", ErrInvalidFrame, frame.DLC)
	}
	return EncodeMessage(frame.ID, frame.Payload())
}

// DecodeMessage parses a received message symmetrically with EncodeMessage.
// raw may be a full command frame (WRITE_MESSAGE or READ_MESSAGE envelope) or
// a bare [frame info, id high, id low, data] payload.
// The adapter's read response layout is not documented, so this is best effort.
func DecodeMessage(raw []byte) (can.Frame, error) {
	payload := raw
	if len(raw) >= HeaderSize && raw[0] == StartByte {
		op := Opcode(raw[1])
		if op == OpWriteMessage || op == OpReadMessage {
			cmd, _, err := ParseCommand(raw)
			if err != nil {
				return can.Frame{}, err
			}
			payload = cmd.Payload
		}
	}
	if len(payload) < messageHeaderSize {
		return can.Frame{}, fmt.Errorf("%w : message of %d bytes", ErrMalformed, len(payload))
	}
	dlc := payload[0] & 0x0F
	if dlc > can.MaxDataLength {
		return can.Frame{}, fmt.Errorf("%w : DLC %d", ErrMalformed, dlc)
	}
	if len(payload) < messageHeaderSize+int(dlc) {
		return can.Frame{}, fmt.Errorf("%w : DLC %d but %d data bytes", ErrMalformed, dlc, len(payload)-messageHeaderSize)
	}
	frame := can.NewFrame(UnpackID(payload[1], payload[2]), 0, dlc)
	copy(frame.Data[:], payload[messageHeaderSize:messageHeaderSize+int(dlc)])
	return frame, nil
}
