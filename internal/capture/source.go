// Package capture produces raw frames for the sender pipeline, either from
// a real capture device through ffmpeg or from a synthetic test pattern.
package capture

import (
	"fmt"
	"time"

	"github.com/rdudhagra/avatar-streamer/internal/transport"
	"github.com/rdudhagra/avatar-streamer/internal/types"
)

// Source yields frames at the device's native rate. ReadFrame blocks until
// a frame is available or the source is closed.
type Source interface {
	ReadFrame() (*types.Frame, error)
	Close() error
}

// FFmpegSource reads BGR24 frames from a supervised ffmpeg capture process.
type FFmpegSource struct {
	proc   *transport.Process
	reader *transport.FrameReader
	grace  time.Duration
}

// NewFFmpegSource spawns the capture process for the given device and
// geometry.
func NewFFmpegSource(device string, width, height, framerate int, grace time.Duration) (*FFmpegSource, error) {
	args := transport.CaptureArgs(device, width, height, framerate)
	proc, err := transport.Start("capture", transport.FFmpegBin, args, transport.Options{WantStdout: true})
	if err != nil {
		return nil, fmt.Errorf("failed to start capture process: %w", err)
	}
	return &FFmpegSource{
		proc:   proc,
		reader: transport.NewFrameReader(proc.Stdout(), width, height),
		grace:  grace,
	}, nil
}

// ReadFrame blocks for the next camera frame. A dead capture process
// surfaces as ErrProcessExited so the sender can shut down cleanly.
func (s *FFmpegSource) ReadFrame() (*types.Frame, error) {
	f, err := s.reader.ReadFrame()
	if err != nil {
		if !s.proc.Running() {
			_, code := s.proc.State()
			return nil, fmt.Errorf("%w: capture exited with code %d", transport.ErrProcessExited, code)
		}
		return nil, err
	}
	return f, nil
}

// Close stops the capture process.
func (s *FFmpegSource) Close() error {
	return s.proc.Stop(s.grace)
}
