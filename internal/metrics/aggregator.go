// Package metrics maintains the receiver's moving frame-rate and latency
// figures and classifies them into presentation tiers for the HUD.
package metrics

import (
	"sync"
	"time"
)

// DefaultFPSInterval is the wall-clock window over which fps is computed.
const DefaultFPSInterval = time.Second

// Tier classifies a measurement for presentation.
type Tier int

const (
	TierGood Tier = iota
	TierAcceptable
	TierPoor
)

func (t Tier) String() string {
	switch t {
	case TierGood:
		return "good"
	case TierAcceptable:
		return "acceptable"
	default:
		return "poor"
	}
}

// Tiers holds the presentation thresholds. These are configuration, not
// logic: the aggregator never acts on them.
type Tiers struct {
	FPSGood             float64 `yaml:"fps_good"`
	FPSAcceptable       float64 `yaml:"fps_acceptable"`
	LatencyGoodMS       float64 `yaml:"latency_good_ms"`
	LatencyAcceptableMS float64 `yaml:"latency_acceptable_ms"`
}

// DefaultTiers mirror the reference viewer thresholds.
func DefaultTiers() Tiers {
	return Tiers{
		FPSGood:             25,
		FPSAcceptable:       15,
		LatencyGoodMS:       100,
		LatencyAcceptableMS: 200,
	}
}

// RateTier classifies a frame rate.
func (t Tiers) RateTier(fps float64) Tier {
	switch {
	case fps >= t.FPSGood:
		return TierGood
	case fps >= t.FPSAcceptable:
		return TierAcceptable
	default:
		return TierPoor
	}
}

// LatencyTier classifies a latency figure.
func (t Tiers) LatencyTier(ms float64) Tier {
	switch {
	case ms < t.LatencyGoodMS:
		return TierGood
	case ms < t.LatencyAcceptableMS:
		return TierAcceptable
	default:
		return TierPoor
	}
}

// Aggregator tracks instantaneous frames-per-second over a fixed interval
// and a bounded moving average of correlated latencies. Safe for one writer
// per method and concurrent readers.
type Aggregator struct {
	mu sync.Mutex

	interval    time.Duration
	windowStart time.Time
	frameCount  uint64
	totalFrames uint64
	fps         float64

	window []float64
	next   int
	filled int

	now func() time.Time // injectable clock for tests
}

// New creates an aggregator. interval <= 0 falls back to one second,
// latencyWindow <= 0 to 30 samples.
func New(interval time.Duration, latencyWindow int) *Aggregator {
	if interval <= 0 {
		interval = DefaultFPSInterval
	}
	if latencyWindow <= 0 {
		latencyWindow = 30
	}
	return &Aggregator{
		interval: interval,
		window:   make([]float64, latencyWindow),
		now:      time.Now,
	}
}

// RecordFrameArrival counts a rendered frame. When the wall-clock interval
// elapses, fps = count / elapsed and the counter resets.
func (a *Aggregator) RecordFrameArrival() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.windowStart.IsZero() {
		a.windowStart = now
	}

	a.frameCount++
	a.totalFrames++

	if elapsed := now.Sub(a.windowStart); elapsed >= a.interval {
		a.fps = float64(a.frameCount) / elapsed.Seconds()
		a.frameCount = 0
		a.windowStart = now
	}
}

// RecordLatency appends a correlated latency sample to the window.
func (a *Aggregator) RecordLatency(ms float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window[a.next] = ms
	a.next = (a.next + 1) % len(a.window)
	if a.filled < len(a.window) {
		a.filled++
	}
}

// FPS returns the most recent frames-per-second figure.
func (a *Aggregator) FPS() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fps
}

// MeanLatency returns the windowed mean. ok=false means the window is
// empty; callers render a waiting state rather than a misleading zero.
func (a *Aggregator) MeanLatency() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.filled == 0 {
		return 0, false
	}
	var sum float64
	for i := 0; i < a.filled; i++ {
		sum += a.window[i]
	}
	return sum / float64(a.filled), true
}

// Snapshot captures the aggregator state for stats logging and telemetry.
type Snapshot struct {
	FPS           float64
	TotalFrames   uint64
	MeanLatencyMS float64
	HaveLatency   bool
	LatencyCount  int
}

// Snapshot returns a consistent view of all figures.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		FPS:          a.fps,
		TotalFrames:  a.totalFrames,
		LatencyCount: a.filled,
	}
	if a.filled > 0 {
		var sum float64
		for i := 0; i < a.filled; i++ {
			sum += a.window[i]
		}
		snap.MeanLatencyMS = sum / float64(a.filled)
		snap.HaveLatency = true
	}
	return snap
}
