package can

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Size of a frame serialized with MarshalBinary
const FrameSize = 14

// MarshalBinary serializes the frame as big endian ID, flags, DLC and data.
// This is the layout used by the virtualcan broker.
func (frame Frame) MarshalBinary() ([]byte, error) {
	buffer := new(bytes.Buffer)
	err := binary.Write(buffer, binary.BigEndian, frame)
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (frame *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < FrameSize {
		return fmt.Errorf("frame needs %d bytes, got %d", FrameSize, len(data))
	}
	return binary.Read(bytes.NewReader(data), binary.BigEndian, frame)
}
