package bootloader

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Upload channel layouts found across bootloader revisions.
// Which one the hardware expects is not specified, both are kept.
type Profile uint8

const (
	// Password on 0x11, image size on 0x12, image data on 0x13
	SegmentedChannel Profile = iota
	// Password and image data both on 0x11, no size announcement
	SimpleChannel
)

var profileDescription = map[Profile]string{
	SegmentedChannel: "segmented",
	SimpleChannel:    "simple",
}

func (p Profile) String() string {
	if desc, ok := profileDescription[p]; ok {
		return desc
	}
	return fmt.Sprintf("profile(%d)", uint8(p))
}

func ParseProfile(name string) (Profile, error) {
	for profile, desc := range profileDescription {
		if strings.EqualFold(strings.TrimSpace(name), desc) {
			return profile, nil
		}
	}
	return 0, fmt.Errorf("%w : %q", ErrUnknownProfile, name)
}

const (
	DefaultPasswordID uint32 = 0x11
	DefaultSizeID     uint32 = 0x12
	DefaultDataID     uint32 = 0x13
)

// Image bytes per CAN frame, the last chunk is padded with PadByte
const (
	ChunkSize      = 8
	PadByte   byte = 0xFF
)

// Pacing delays. These are timing workarounds for the missing flow
// control, not a correctness mechanism.
const (
	DefaultSettleDelay   = 1 * time.Second
	DefaultFrameInterval = 10 * time.Millisecond
)

// Magic marker sent before the password
var Magic = [4]byte{0xFE, 0xED, 0xFA, 0xCE}

var DefaultPassword = [4]byte{0xCA, 0xFE, 0xBE, 0xEF}

type Config struct {
	Profile  Profile
	Password [4]byte

	PasswordID uint32
	SizeID     uint32
	DataID     uint32

	// Wait between the password frame and reading the answer
	SettleDelay time.Duration
	// Minimum spacing between two data frames
	FrameInterval time.Duration

	Progress ProgressCallback
	// Defaults to the logrus standard logger
	Logger *log.Logger
}

func DefaultConfig() Config {
	return Config{
		Profile:       SegmentedChannel,
		Password:      DefaultPassword,
		PasswordID:    DefaultPasswordID,
		SizeID:        DefaultSizeID,
		DataID:        DefaultDataID,
		SettleDelay:   DefaultSettleDelay,
		FrameInterval: DefaultFrameInterval,
	}
}

// DataChannel is the identifier carrying image chunks for the profile
func (c Config) DataChannel() uint32 {
	if c.Profile == SimpleChannel {
		return c.PasswordID
	}
	return c.DataID
}

func (c Config) validate() error {
	if _, ok := profileDescription[c.Profile]; !ok {
		return fmt.Errorf("%w : %v", ErrUnknownProfile, c.Profile)
	}
	for _, id := range []uint32{c.PasswordID, c.SizeID, c.DataID} {
		if id > 0x7FF {
			return fmt.Errorf("%w : x%x", ErrInvalidIdentifier, id)
		}
	}
	return nil
}
