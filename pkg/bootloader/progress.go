package bootloader

import "time"

type Phase string

const (
	PhaseHandshake Phase = "handshake"
	PhaseSize      Phase = "size"
	PhaseStreaming Phase = "streaming"
	PhaseComplete  Phase = "complete"
)

// Progress of one upload
type Progress struct {
	Phase Phase
	// Image bytes sent so far, padding excluded
	BytesSent int
	Total     int
	// Data frames sent so far
	Frames      int
	TotalFrames int
	Elapsed     time.Duration
}

// Percentage of the image sent, 0 to 100
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.BytesSent) * 100 / float64(p.Total)
}

// ProgressCallback is called from the uploading goroutine, it should return quickly
type ProgressCallback func(Progress)
