// Package bootloader uploads a firmware image to a CAN bootloader.
//
// The exchange is :
//  1. password frame : magic FE ED FA CE followed by the 4 byte password
//  2. wait, then read : no answer aborts the upload
//  3. size frame : image length as a 64 bit big endian integer (segmented profile only)
//  4. image data, 8 bytes per frame, last frame padded with 0xFF
//
// The link is always closed when an upload returns.
package bootloader

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/canflash/usb2can/pkg/can"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Link is what the uploader talks through : an adapter session or a bus
type Link interface {
	Send(frame can.Frame) error
	// Receive returns the raw bytes received, empty if nothing arrived
	Receive() ([]byte, error)
	Close() error
}

type Uploader struct {
	mu      sync.Mutex
	link    Link
	config  Config
	running bool
	logger  *log.Entry
}

// Create a new [Uploader] over an already configured link
func New(link Link, config Config) (*Uploader, error) {
	if link == nil {
		return nil, fmt.Errorf("link cannot be nil")
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Uploader{
		link:   link,
		config: config,
		logger: logger.WithField("service", "[BOOTLOADER]"),
	}, nil
}

func (u *Uploader) Config() Config {
	return u.config
}

// HandshakeFrame builds the password frame
func HandshakeFrame(id uint32, password [4]byte) can.Frame {
	frame := can.NewFrame(id, 0, 8)
	copy(frame.Data[:4], Magic[:])
	copy(frame.Data[4:], password[:])
	return frame
}

// SizeFrame builds the image size announcement
func SizeFrame(id uint32, size int) can.Frame {
	frame := can.NewFrame(id, 0, 8)
	binary.BigEndian.PutUint64(frame.Data[:], uint64(size))
	return frame
}

// DataFrames splits the image into ceil(len/8) frames of 8 bytes.
// The last one is padded with [PadByte].
func DataFrames(id uint32, image []byte) []can.Frame {
	frames := make([]can.Frame, 0, (len(image)+ChunkSize-1)/ChunkSize)
	for offset := 0; offset < len(image); offset += ChunkSize {
		frame := can.NewFrame(id, 0, ChunkSize)
		for i := range frame.Data {
			frame.Data[i] = PadByte
		}
		copy(frame.Data[:], image[offset:])
		frames = append(frames, frame)
	}
	return frames
}

func (u *Uploader) acquire() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return ErrUploadInProgress
	}
	u.running = true
	return nil
}

func (u *Uploader) release() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.running = false
}

func (u *Uploader) report(p Progress) {
	if u.config.Progress != nil {
		u.config.Progress(p)
	}
}

// Upload runs the whole exchange and returns the number of image bytes sent.
// Cancelling ctx stops before the next frame. The link is closed on return.
func (u *Uploader) Upload(ctx context.Context, image []byte) (int, error) {
	if len(image) == 0 {
		return 0, ErrNoFirmware
	}
	if err := u.acquire(); err != nil {
		return 0, err
	}
	defer u.release()
	defer func() {
		if err := u.link.Close(); err != nil {
			u.logger.Warnf("closing link : %v", err)
		}
	}()
	return u.upload(ctx, image)
}

func (u *Uploader) upload(ctx context.Context, image []byte) (int, error) {
	start := time.Now()
	total := len(image)
	frames := DataFrames(u.config.DataChannel(), image)
	progress := Progress{Phase: PhaseHandshake, Total: total, TotalFrames: len(frames)}
	u.report(progress)

	if err := u.handshake(ctx); err != nil {
		return 0, err
	}

	if u.config.Profile == SegmentedChannel {
		progress.Phase = PhaseSize
		progress.Elapsed = time.Since(start)
		u.report(progress)
		if err := u.link.Send(SizeFrame(u.config.SizeID, total)); err != nil {
			return 0, &StreamError{Sent: 0, Total: total, Err: err}
		}
		u.logger.Debugf("announced size %d bytes", total)
	}

	limit := rate.Inf
	if u.config.FrameInterval > 0 {
		limit = rate.Every(u.config.FrameInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	sent := 0
	progress.Phase = PhaseStreaming
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return sent, &StreamError{Sent: sent, Total: total, Err: err}
		}
		if err := limiter.Wait(ctx); err != nil {
			return sent, &StreamError{Sent: sent, Total: total, Err: err}
		}
		if err := u.link.Send(frame); err != nil {
			u.logger.Errorf("frame %d/%d failed : %v", i+1, len(frames), err)
			return sent, &StreamError{Sent: sent, Total: total, Err: err}
		}
		sent = min(sent+ChunkSize, total)
		progress.BytesSent = sent
		progress.Frames = i + 1
		progress.Elapsed = time.Since(start)
		u.report(progress)
	}

	progress.Phase = PhaseComplete
	progress.Elapsed = time.Since(start)
	u.report(progress)
	u.logger.Infof("uploaded %d bytes in %d frames (%v)", total, len(frames), progress.Elapsed)
	return sent, nil
}

func (u *Uploader) handshake(ctx context.Context) error {
	frame := HandshakeFrame(u.config.PasswordID, u.config.Password)
	u.logger.Debugf("sending password %v", frame)
	if err := u.link.Send(frame); err != nil {
		return &HandshakeError{Err: err}
	}
	if u.config.SettleDelay > 0 {
		timer := time.NewTimer(u.config.SettleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return &HandshakeError{Err: ctx.Err()}
		case <-timer.C:
		}
	}
	response, err := u.link.Receive()
	if err != nil {
		return &HandshakeError{Err: err}
	}
	if len(response) == 0 {
		u.logger.Warn("no answer to password")
		return &HandshakeError{}
	}
	u.logger.Debugf("password answered : % X", response)
	return nil
}
