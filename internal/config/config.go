// Package config loads and validates the YAML configuration shared by the
// sender, viewer, and recorder commands.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rdudhagra/avatar-streamer/internal/fingerprint"
	"github.com/rdudhagra/avatar-streamer/internal/metrics"
)

// Config is the complete avatar-streamer configuration.
type Config struct {
	ShutdownTimeoutS int               `yaml:"shutdown_timeout_s"`
	Video            VideoConfig       `yaml:"video"`
	Network          NetworkConfig     `yaml:"network"`
	Fingerprint      fingerprint.Config `yaml:"fingerprint"`
	Correlation      CorrelationConfig `yaml:"correlation"`
	Display          DisplayConfig     `yaml:"display"`
	Telemetry        TelemetryConfig   `yaml:"telemetry"`
	Recording        RecordingConfig   `yaml:"recording"`
}

// VideoConfig describes the frame geometry and source device.
type VideoConfig struct {
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	Framerate     int    `yaml:"framerate"`
	CaptureDevice string `yaml:"capture_device"`
	BitrateK      int    `yaml:"bitrate_k"`
	// Synthetic replaces the camera with a generated test pattern
	Synthetic bool `yaml:"synthetic"`
}

// NetworkConfig describes the transport endpoints. The side channel always
// rides one port above the video transport.
type NetworkConfig struct {
	VideoPort  int    `yaml:"video_port"`
	OperatorIP string `yaml:"operator_ip"`
}

// SideChannelPort derives the metadata port from the video port.
func (n NetworkConfig) SideChannelPort() int {
	return n.VideoPort + 1
}

// CorrelationConfig bounds the correlation store and latency window.
type CorrelationConfig struct {
	Capacity      int `yaml:"capacity"`
	LatencyWindow int `yaml:"latency_window"`
	QueueDepth    int `yaml:"queue_depth"`
}

// DisplayConfig holds the HUD thresholds and the optional HTTP preview.
type DisplayConfig struct {
	Tiers       metrics.Tiers `yaml:",inline"`
	PreviewAddr string        `yaml:"preview_addr"`
}

// TelemetryConfig configures the optional MQTT stats emitter.
type TelemetryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Broker    string `yaml:"broker"`
	Topic     string `yaml:"topic"`
	ClientID  string `yaml:"client_id"`
	IntervalS int    `yaml:"interval_s"`
}

// RecordingConfig configures the record command.
type RecordingConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// Default returns a configuration with the reference values filled in.
func Default() *Config {
	return &Config{
		ShutdownTimeoutS: 5,
		Video: VideoConfig{
			Width:     1280,
			Height:    720,
			Framerate: 30,
		},
		Network: NetworkConfig{
			VideoPort:  5000,
			OperatorIP: "127.0.0.1",
		},
		Fingerprint: fingerprint.Config{
			Bits:      fingerprint.DefaultBits,
			CellSize:  fingerprint.DefaultCellSize,
			Threshold: fingerprint.DefaultThreshold,
		},
		Correlation: CorrelationConfig{
			Capacity:      100,
			LatencyWindow: 30,
			QueueDepth:    10,
		},
		Display: DisplayConfig{
			Tiers: metrics.DefaultTiers(),
		},
		Telemetry: TelemetryConfig{
			Topic:     "avatar/telemetry",
			IntervalS: 5,
		},
		Recording: RecordingConfig{
			OutputDir: "recordings",
		},
	}
}

// ShutdownTimeout returns the graceful shutdown grace period.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// Load reads and parses a YAML configuration file, filling defaults for
// anything omitted and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
