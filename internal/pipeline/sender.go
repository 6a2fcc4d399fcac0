// Package pipeline wires capture, fingerprinting, the side channel, the
// transport, and the render path into the two halves of the link.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rdudhagra/avatar-streamer/internal/capture"
	"github.com/rdudhagra/avatar-streamer/internal/config"
	"github.com/rdudhagra/avatar-streamer/internal/fingerprint"
	"github.com/rdudhagra/avatar-streamer/internal/sidechannel"
	"github.com/rdudhagra/avatar-streamer/internal/transport"
)

// transientBackoff is the pause after a recoverable I/O hiccup.
const transientBackoff = 100 * time.Millisecond

// Sender runs the robot side: capture → fingerprint → side-channel publish
// → transport write, one frame per loop iteration, no step skipped. The
// blocking transport write throttles the loop to true camera rate.
type Sender struct {
	cfg   *config.Config
	codec *fingerprint.Codec

	source  capture.Source
	pub     *sidechannel.Publisher
	encoder *transport.Process
	writer  *transport.FrameWriter

	sm       stateMachine
	counter  uint32
	sent     uint64
	stopOnce sync.Once
}

// NewSender validates the configuration and builds the sender. The
// fingerprint geometry is checked here so a bad region map fails before
// anything starts.
func NewSender(cfg *config.Config) (*Sender, error) {
	codec, err := fingerprint.New(cfg.Fingerprint)
	if err != nil {
		return nil, err
	}
	if err := codec.CheckDimensions(cfg.Video.Width, cfg.Video.Height); err != nil {
		return nil, err
	}
	return &Sender{cfg: cfg, codec: codec}, nil
}

// Run drives the sender loop until ctx is cancelled or the transport dies.
func (s *Sender) Run(ctx context.Context) error {
	if _, err := s.sm.transition(StateStarting); err != nil {
		return err
	}

	if err := s.start(ctx); err != nil {
		s.Stop()
		return err
	}

	if _, err := s.sm.transition(StateRunning); err != nil {
		return err
	}
	slog.Info("sender running",
		"resolution", fmt.Sprintf("%dx%d", s.cfg.Video.Width, s.cfg.Video.Height),
		"framerate", s.cfg.Video.Framerate,
		"peer", s.cfg.Network.OperatorIP,
		"video_port", s.cfg.Network.VideoPort,
		"side_channel_port", s.cfg.Network.SideChannelPort(),
		"fingerprint_bits", s.codec.Bits(),
	)

	err := s.loop(ctx)
	s.Stop()
	return err
}

func (s *Sender) start(ctx context.Context) error {
	var err error

	if s.cfg.Video.Synthetic {
		s.source = capture.NewSyntheticSource(s.cfg.Video.Width, s.cfg.Video.Height, s.cfg.Video.Framerate)
	} else {
		s.source, err = capture.NewFFmpegSource(
			s.cfg.Video.CaptureDevice,
			s.cfg.Video.Width, s.cfg.Video.Height, s.cfg.Video.Framerate,
			s.cfg.ShutdownTimeout())
		if err != nil {
			return err
		}
	}

	s.pub, err = sidechannel.NewPublisher(ctx,
		fmt.Sprintf("tcp://*:%d", s.cfg.Network.SideChannelPort()))
	if err != nil {
		return err
	}

	s.encoder, err = transport.Start("encoder", transport.FFmpegBin,
		transport.EncoderArgs(transport.EncodeParams{
			Width:     s.cfg.Video.Width,
			Height:    s.cfg.Video.Height,
			Framerate: s.cfg.Video.Framerate,
			PeerAddr:  s.cfg.Network.OperatorIP,
			VideoPort: s.cfg.Network.VideoPort,
			BitrateK:  s.cfg.Video.BitrateK,
		}),
		transport.Options{WantStdin: true})
	if err != nil {
		return err
	}
	s.writer = transport.NewFrameWriter(s.encoder.Stdin())
	return nil
}

func (s *Sender) loop(ctx context.Context) error {
	lastLog := time.Now()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sender stopping", "frames_sent", atomic.LoadUint64(&s.sent))
			return nil
		case <-s.encoder.Done():
			if ctx.Err() != nil {
				return nil
			}
			_, code := s.encoder.State()
			return fmt.Errorf("%w: encoder exited with code %d", transport.ErrProcessExited, code)
		default:
		}

		frame, err := s.source.ReadFrame()
		if err != nil {
			// Shutdown in progress; errors from torn-down stages are expected
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, transport.ErrProcessExited) || errors.Is(err, capture.ErrSourceClosed) {
				return err
			}
			// Transient capture hiccup: brief backoff, keep going
			slog.Warn("capture read failed, retrying", "error", err)
			time.Sleep(transientBackoff)
			continue
		}

		// Every frame gets the next counter and all four steps, even under
		// backpressure
		s.counter = s.codec.Advance(s.counter)
		if _, err := s.codec.Encode(frame, s.counter); err != nil {
			// Geometry was validated at startup; a failure here means the
			// source changed frame size underneath us
			return fmt.Errorf("fingerprint encode failed: %w", err)
		}

		s.pub.Publish(s.counter, time.Now())

		if err := s.writer.WriteFrame(frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !s.encoder.Running() || errors.Is(err, io.ErrClosedPipe) {
				_, code := s.encoder.State()
				return fmt.Errorf("%w: encoder exited with code %d", transport.ErrProcessExited, code)
			}
			slog.Warn("transport write failed, retrying", "error", err)
			time.Sleep(transientBackoff)
			continue
		}
		atomic.AddUint64(&s.sent, 1)

		if time.Since(lastLog) >= 5*time.Second {
			slog.Debug("sender stats",
				"frames_sent", atomic.LoadUint64(&s.sent),
				"counter", s.counter,
				"side_channel_published", s.pub.Published(),
			)
			lastLog = time.Now()
		}
	}
}

// Stop tears the sender down in order: capture, side channel, encoder.
// Idempotent.
func (s *Sender) Stop() {
	s.stopOnce.Do(func() {
		s.sm.transition(StateStopping)
		s.shutdown()
		s.sm.transition(StateStopped)
		slog.Info("sender stopped", "frames_sent", atomic.LoadUint64(&s.sent))
	})
}

// shutdown releases every resource even when an earlier release fails.
func (s *Sender) shutdown() {
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			slog.Warn("capture close failed", "error", err)
		}
	}
	if s.pub != nil {
		if err := s.pub.Close(); err != nil {
			slog.Warn("side-channel publisher close failed", "error", err)
		}
	}
	if s.encoder != nil {
		if err := s.encoder.Stop(s.cfg.ShutdownTimeout()); err != nil {
			slog.Warn("encoder stop failed", "error", err)
		}
	}
}

// State returns the current lifecycle state.
func (s *Sender) State() State {
	return s.sm.current()
}
