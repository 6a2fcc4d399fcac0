package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rdudhagra/avatar-streamer/internal/fingerprint"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
video:
  width: 640
  height: 480
  framerate: 25
network:
  video_port: 6000
  operator_ip: 192.168.1.20
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Video.Width != 640 || cfg.Video.Framerate != 25 {
		t.Errorf("explicit values not applied: %+v", cfg.Video)
	}
	if cfg.Network.SideChannelPort() != 6001 {
		t.Errorf("expected side channel on 6001, got %d", cfg.Network.SideChannelPort())
	}
	if cfg.Fingerprint.Bits != fingerprint.DefaultBits {
		t.Errorf("expected default fingerprint bits, got %d", cfg.Fingerprint.Bits)
	}
	if cfg.Correlation.Capacity != 100 || cfg.Correlation.LatencyWindow != 30 || cfg.Correlation.QueueDepth != 10 {
		t.Errorf("correlation defaults wrong: %+v", cfg.Correlation)
	}
	if cfg.Display.Tiers.FPSGood != 25 || cfg.Display.Tiers.LatencyAcceptableMS != 200 {
		t.Errorf("display tier defaults wrong: %+v", cfg.Display.Tiers)
	}
	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("expected 5s shutdown timeout, got %v", cfg.ShutdownTimeout())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsFingerprintLargerThanFrame(t *testing.T) {
	path := writeConfig(t, `
video:
  width: 64
  height: 64
  framerate: 30
network:
  video_port: 5000
  operator_ip: 127.0.0.1
`)

	// Default region map is 80x16; a 64x64 frame cannot hold it, and this
	// must fail before any pipeline starts
	_, err := Load(path)
	if !errors.Is(err, fingerprint.ErrInvalidFrameDimensions) {
		t.Fatalf("expected ErrInvalidFrameDimensions, got %v", err)
	}
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero width", func(c *Config) { c.Video.Width = 0 }},
		{"negative framerate", func(c *Config) { c.Video.Framerate = -1 }},
		{"port too high", func(c *Config) { c.Network.VideoPort = 65535 }},
		{"empty operator ip", func(c *Config) { c.Network.OperatorIP = "" }},
		{"zero shutdown", func(c *Config) { c.ShutdownTimeoutS = 0 }},
		{"zero store capacity", func(c *Config) { c.Correlation.Capacity = 0 }},
		{"zero queue depth", func(c *Config) { c.Correlation.QueueDepth = 0 }},
		{"telemetry without broker", func(c *Config) { c.Telemetry.Enabled = true }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation failure")
			}
		})
	}
}

func TestValidateDefaultIsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}
