// Package render defines the boundary to the display surface. The surface
// itself (a window, a browser tab) lives outside the pipeline; the pipeline
// only hands over frames and the HUD figures to draw on them.
package render

import (
	"log/slog"
	"time"

	"github.com/rdudhagra/avatar-streamer/internal/metrics"
	"github.com/rdudhagra/avatar-streamer/internal/types"
)

// HUD carries the per-frame overlay figures.
type HUD struct {
	FPS         float64
	FPSTier     metrics.Tier
	LatencyMS   float64
	LatencyTier metrics.Tier
	// HaveLatency is false while no correlation has landed yet; sinks show
	// a waiting state instead of a zero
	HaveLatency bool
	Dropped     uint64
}

// Sink consumes rendered frames. Render takes ownership of the frame.
type Sink interface {
	Render(f *types.Frame, hud HUD) error
	Close() error
}

// LogSink is the headless sink: it discards pixels and periodically logs
// the HUD. Useful on machines with no display and in tests.
type LogSink struct {
	interval time.Duration
	lastLog  time.Time
}

// NewLogSink logs the HUD at most once per interval.
func NewLogSink(interval time.Duration) *LogSink {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &LogSink{interval: interval}
}

// Render logs the HUD on the configured cadence.
func (s *LogSink) Render(f *types.Frame, hud HUD) error {
	if time.Since(s.lastLog) < s.interval {
		return nil
	}
	s.lastLog = time.Now()

	if hud.HaveLatency {
		slog.Info("viewer hud",
			"frame_seq", f.Seq,
			"fps", round1(hud.FPS),
			"fps_tier", hud.FPSTier.String(),
			"latency_ms", round1(hud.LatencyMS),
			"latency_tier", hud.LatencyTier.String(),
			"dropped", hud.Dropped,
		)
	} else {
		slog.Info("viewer hud",
			"frame_seq", f.Seq,
			"fps", round1(hud.FPS),
			"fps_tier", hud.FPSTier.String(),
			"latency", "waiting for data",
			"dropped", hud.Dropped,
		)
	}
	return nil
}

// Close is a no-op for the log sink.
func (s *LogSink) Close() error { return nil }

func round1(v float64) float64 {
	return float64(int(v*10)) / 10
}
