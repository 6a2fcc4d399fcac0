package config

import (
	"fmt"

	"github.com/rdudhagra/avatar-streamer/internal/fingerprint"
)

// Validate checks configuration consistency. Failures here are fatal before
// the pipeline starts; in particular a fingerprint region map that does not
// fit the frame must never reach the encode loop.
func Validate(cfg *Config) error {
	if cfg.Video.Width <= 0 || cfg.Video.Height <= 0 {
		return fmt.Errorf("video dimensions must be positive, got %dx%d", cfg.Video.Width, cfg.Video.Height)
	}
	if cfg.Video.Framerate <= 0 {
		return fmt.Errorf("framerate must be positive, got %d", cfg.Video.Framerate)
	}
	if cfg.Network.VideoPort < 1 || cfg.Network.VideoPort > 65534 {
		// 65534 keeps video_port+1 a valid side-channel port
		return fmt.Errorf("video_port must be in [1,65534], got %d", cfg.Network.VideoPort)
	}
	if cfg.Network.OperatorIP == "" {
		return fmt.Errorf("operator_ip is required")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		return fmt.Errorf("shutdown_timeout_s must be positive, got %d", cfg.ShutdownTimeoutS)
	}
	if cfg.Correlation.Capacity <= 0 {
		return fmt.Errorf("correlation capacity must be positive, got %d", cfg.Correlation.Capacity)
	}
	if cfg.Correlation.LatencyWindow <= 0 {
		return fmt.Errorf("latency window must be positive, got %d", cfg.Correlation.LatencyWindow)
	}
	if cfg.Correlation.QueueDepth <= 0 {
		return fmt.Errorf("queue depth must be positive, got %d", cfg.Correlation.QueueDepth)
	}

	codec, err := fingerprint.New(cfg.Fingerprint)
	if err != nil {
		return fmt.Errorf("fingerprint config: %w", err)
	}
	if err := codec.CheckDimensions(cfg.Video.Width, cfg.Video.Height); err != nil {
		return err
	}

	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Broker == "" {
			return fmt.Errorf("telemetry enabled but no broker configured")
		}
		if cfg.Telemetry.IntervalS <= 0 {
			return fmt.Errorf("telemetry interval must be positive, got %d", cfg.Telemetry.IntervalS)
		}
	}
	return nil
}
