// Package config reads the usb2can INI configuration file.
//
//	[adapter]
//	port = /dev/ttyUSB0
//	baud = 115200
//	read_timeout = 50ms
//	strict_ack = false
//
//	[timing]
//	command_delay = 100ms
//	settle_delay = 1s
//	frame_interval = 10ms
//
//	[upload]
//	profile = segmented
//	password = CAFEBEEF
//	password_id = 0x11
//	size_id = 0x12
//	data_id = 0x13
//
//	[bus]
//	interface = usb2can
//	channel =
//	bitrate = 0
//	poll_interval = 20ms
//
// Every key is optional, missing keys keep their default value.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/canflash/usb2can/pkg/bootloader"
	"github.com/canflash/usb2can/pkg/firmware"
	"github.com/canflash/usb2can/pkg/transport"
	"github.com/canflash/usb2can/pkg/usb2can"
	"gopkg.in/ini.v1"
)

const DefaultPollInterval = 20 * time.Millisecond

type Adapter struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	StrictAck   bool
}

type Timing struct {
	CommandDelay  time.Duration
	SettleDelay   time.Duration
	FrameInterval time.Duration
}

type Upload struct {
	Profile    bootloader.Profile
	Password   [4]byte
	PasswordID uint32
	SizeID     uint32
	DataID     uint32
}

// Bus used by the upload command when not going through the adapter directly
type Bus struct {
	Interface    string
	Channel      string
	Bitrate      int
	PollInterval time.Duration
}

type Config struct {
	Adapter Adapter
	Timing  Timing
	Upload  Upload
	Bus     Bus
}

func Default() *Config {
	return &Config{
		Adapter: Adapter{
			Baud:        transport.DefaultBaudRate,
			ReadTimeout: transport.DefaultReadTimeout,
		},
		Timing: Timing{
			CommandDelay:  usb2can.DefaultCommandDelay,
			SettleDelay:   bootloader.DefaultSettleDelay,
			FrameInterval: bootloader.DefaultFrameInterval,
		},
		Upload: Upload{
			Profile:    bootloader.SegmentedChannel,
			Password:   bootloader.DefaultPassword,
			PasswordID: bootloader.DefaultPasswordID,
			SizeID:     bootloader.DefaultSizeID,
			DataID:     bootloader.DefaultDataID,
		},
		Bus: Bus{
			Interface:    "usb2can",
			PollInterval: DefaultPollInterval,
		},
	}
}

// Load a configuration file on top of the defaults.
// source can be a path, a []byte or an io.Reader.
func Load(source any) (*Config, error) {
	file, err := ini.Load(source)
	if err != nil {
		return nil, err
	}
	config := Default()

	adapter := file.Section("adapter")
	config.Adapter.Port = adapter.Key("port").MustString(config.Adapter.Port)
	if config.Adapter.Baud, err = intKey(adapter, "baud", config.Adapter.Baud); err != nil {
		return nil, err
	}
	if config.Adapter.ReadTimeout, err = durationKey(adapter, "read_timeout", config.Adapter.ReadTimeout); err != nil {
		return nil, err
	}
	if adapter.HasKey("strict_ack") {
		if config.Adapter.StrictAck, err = adapter.Key("strict_ack").Bool(); err != nil {
			return nil, fmt.Errorf("[adapter] strict_ack : %w", err)
		}
	}

	timing := file.Section("timing")
	if config.Timing.CommandDelay, err = durationKey(timing, "command_delay", config.Timing.CommandDelay); err != nil {
		return nil, err
	}
	if config.Timing.SettleDelay, err = durationKey(timing, "settle_delay", config.Timing.SettleDelay); err != nil {
		return nil, err
	}
	if config.Timing.FrameInterval, err = durationKey(timing, "frame_interval", config.Timing.FrameInterval); err != nil {
		return nil, err
	}

	upload := file.Section("upload")
	if upload.HasKey("profile") {
		if config.Upload.Profile, err = bootloader.ParseProfile(upload.Key("profile").String()); err != nil {
			return nil, fmt.Errorf("[upload] profile : %w", err)
		}
	}
	if upload.HasKey("password") {
		if config.Upload.Password, err = firmware.ParsePassword(upload.Key("password").String()); err != nil {
			return nil, fmt.Errorf("[upload] password : %w", err)
		}
	}
	if config.Upload.PasswordID, err = idKey(upload, "password_id", config.Upload.PasswordID); err != nil {
		return nil, err
	}
	if config.Upload.SizeID, err = idKey(upload, "size_id", config.Upload.SizeID); err != nil {
		return nil, err
	}
	if config.Upload.DataID, err = idKey(upload, "data_id", config.Upload.DataID); err != nil {
		return nil, err
	}

	bus := file.Section("bus")
	config.Bus.Interface = bus.Key("interface").MustString(config.Bus.Interface)
	config.Bus.Channel = bus.Key("channel").MustString(config.Bus.Channel)
	if config.Bus.Bitrate, err = intKey(bus, "bitrate", config.Bus.Bitrate); err != nil {
		return nil, err
	}
	if config.Bus.PollInterval, err = durationKey(bus, "poll_interval", config.Bus.PollInterval); err != nil {
		return nil, err
	}
	return config, config.Validate()
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Adapter.Baud <= 0 {
		return fmt.Errorf("[adapter] baud must be positive, got %d", c.Adapter.Baud)
	}
	for name, d := range map[string]time.Duration{
		"[adapter] read_timeout":  c.Adapter.ReadTimeout,
		"[timing] command_delay":  c.Timing.CommandDelay,
		"[timing] settle_delay":   c.Timing.SettleDelay,
		"[timing] frame_interval": c.Timing.FrameInterval,
		"[bus] poll_interval":     c.Bus.PollInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	return nil
}

// SessionConfig is the adapter session configuration
func (c *Config) SessionConfig() usb2can.Config {
	config := usb2can.DefaultConfig()
	config.CommandDelay = c.Timing.CommandDelay
	config.StrictAck = c.Adapter.StrictAck
	return config
}

// UploaderConfig is the bootloader configuration
func (c *Config) UploaderConfig() bootloader.Config {
	config := bootloader.DefaultConfig()
	config.Profile = c.Upload.Profile
	config.Password = c.Upload.Password
	config.PasswordID = c.Upload.PasswordID
	config.SizeID = c.Upload.SizeID
	config.DataID = c.Upload.DataID
	config.SettleDelay = c.Timing.SettleDelay
	config.FrameInterval = c.Timing.FrameInterval
	return config
}

func durationKey(section *ini.Section, name string, def time.Duration) (time.Duration, error) {
	if !section.HasKey(name) {
		return def, nil
	}
	d, err := section.Key(name).Duration()
	if err != nil {
		return def, fmt.Errorf("[%s] %s : %w", section.Name(), name, err)
	}
	return d, nil
}

func intKey(section *ini.Section, name string, def int) (int, error) {
	if !section.HasKey(name) || section.Key(name).String() == "" {
		return def, nil
	}
	v, err := section.Key(name).Int()
	if err != nil {
		return def, fmt.Errorf("[%s] %s : %w", section.Name(), name, err)
	}
	return v, nil
}

// CAN identifiers accept hex (0x11) or decimal
func idKey(section *ini.Section, name string, def uint32) (uint32, error) {
	if !section.HasKey(name) {
		return def, nil
	}
	v, err := strconv.ParseUint(section.Key(name).String(), 0, 32)
	if err != nil {
		return def, fmt.Errorf("[%s] %s : %w", section.Name(), name, err)
	}
	if v > 0x7FF {
		return def, fmt.Errorf("[%s] %s : x%x is not a standard CAN identifier", section.Name(), name, v)
	}
	return uint32(v), nil
}
