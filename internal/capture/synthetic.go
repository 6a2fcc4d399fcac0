package capture

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rdudhagra/avatar-streamer/internal/types"
)

// ErrSourceClosed is returned by ReadFrame after Close.
var ErrSourceClosed = errors.New("capture source closed")

// SyntheticSource generates a scrolling gradient test pattern at a fixed
// rate. It exists for camera-less hosts and for exercising the full sender
// path in tests.
type SyntheticSource struct {
	width     int
	height    int
	interval  time.Duration
	seq       uint64
	closed    atomic.Bool
	lastFrame time.Time
}

// NewSyntheticSource creates a test pattern source at the given geometry
// and frame rate.
func NewSyntheticSource(width, height, framerate int) *SyntheticSource {
	if framerate <= 0 {
		framerate = 30
	}
	return &SyntheticSource{
		width:    width,
		height:   height,
		interval: time.Second / time.Duration(framerate),
	}
}

// ReadFrame paces itself to the configured rate and returns the next
// pattern frame.
func (s *SyntheticSource) ReadFrame() (*types.Frame, error) {
	if s.closed.Load() {
		return nil, ErrSourceClosed
	}

	// Sleep off the remainder of the frame interval
	if !s.lastFrame.IsZero() {
		if wait := s.interval - time.Since(s.lastFrame); wait > 0 {
			time.Sleep(wait)
		}
	}
	s.lastFrame = time.Now()

	s.seq++
	f := types.NewFrame(s.width, s.height)
	f.Seq = s.seq
	f.Timestamp = s.lastFrame
	f.TraceID = uuid.NewString()

	// Scrolling diagonal gradient; cheap and visibly moving
	shift := int(s.seq)
	for y := 0; y < s.height; y++ {
		row := f.Data[y*s.width*3 : (y+1)*s.width*3]
		for x := 0; x < s.width; x++ {
			v := byte((x + y + shift) % 256)
			row[x*3] = v
			row[x*3+1] = byte(int(v) / 2)
			row[x*3+2] = 255 - v
		}
	}
	return f, nil
}

// Close stops the source. Idempotent.
func (s *SyntheticSource) Close() error {
	s.closed.Store(true)
	return nil
}
