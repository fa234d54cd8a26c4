// Package firmware loads the images pushed to the CAN bootloader.
package firmware

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
)

// Filler for the gaps between Intel HEX segments
const FillByte byte = 0xFF

var (
	ErrNoFirmware      = errors.New("no firmware file selected")
	ErrEmptyImage      = errors.New("firmware image is empty")
	ErrInvalidPassword = errors.New("password must be 4 hex encoded bytes")
)

type Format string

const (
	FormatBinary   Format = "bin"
	FormatIntelHex Format = "ihex"
)

// A firmware image ready to be streamed
type Image struct {
	Path   string
	Format Format
	// Load address of the first byte, zero for raw binaries
	Address uint32
	Data    []byte
}

func (img *Image) Size() int {
	return len(img.Data)
}

// FormatFromPath guesses the image format from the file extension
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex", ".ihx":
		return FormatIntelHex
	default:
		return FormatBinary
	}
}

// Load reads a firmware file. Intel HEX files are flattened from their
// lowest to their highest address, gaps are filled with [FillByte].
func Load(path string) (*Image, error) {
	if path == "" {
		return nil, ErrNoFirmware
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	img, err := Read(file, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s : %w", path, err)
	}
	img.Path = path
	return img, nil
}

// Read an image of the given format
func Read(r io.Reader, format Format) (*Image, error) {
	switch format {
	case FormatIntelHex:
		return readIntelHex(r)
	case FormatBinary:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, ErrEmptyImage
		}
		return &Image{Format: FormatBinary, Data: data}, nil
	default:
		return nil, fmt.Errorf("unsupported firmware format %q", format)
	}
}

func readIntelHex(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, err
	}
	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, ErrEmptyImage
	}
	start := segments[0].Address
	end := start
	for _, segment := range segments {
		if segment.Address < start {
			start = segment.Address
		}
		if last := segment.Address + uint32(len(segment.Data)); last > end {
			end = last
		}
	}
	data := mem.ToBinary(start, end-start, FillByte)
	return &Image{Format: FormatIntelHex, Address: start, Data: data}, nil
}

// ParsePassword decodes a hex entered password such as "CAFEBEEF",
// "CA FE BE EF" or "0xCAFEBEEF"
func ParsePassword(s string) ([4]byte, error) {
	var password [4]byte
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, "0x"), "0X")
	cleaned = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(cleaned)
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return password, fmt.Errorf("%w : %v", ErrInvalidPassword, err)
	}
	if len(decoded) != len(password) {
		return password, fmt.Errorf("%w : got %d bytes", ErrInvalidPassword, len(decoded))
	}
	copy(password[:], decoded)
	return password, nil
}

// FormatPassword is the inverse of ParsePassword
func FormatPassword(password [4]byte) string {
	return strings.ToUpper(hex.EncodeToString(password[:]))
}
