// Package cli wires the stream, view, and record commands around the
// shared configuration and lifecycle plumbing.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rdudhagra/avatar-streamer/internal/config"
)

const defaultConfigPath = "params.yaml"

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "avatar-streamer",
	Short: "Low-latency webcam link with fingerprint-based latency measurement",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(recordCmd)
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and logs the active configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	slog.Info("configuration loaded",
		"path", configPath,
		"width", cfg.Video.Width,
		"height", cfg.Video.Height,
		"framerate", cfg.Video.Framerate,
		"video_port", cfg.Network.VideoPort,
	)
	return cfg, nil
}

// runWithSignals runs fn under a context cancelled by SIGINT/SIGTERM, then
// waits for it to return.
func runWithSignals(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn(ctx)
	}()

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
		cancel()
		return <-errChan
	case err := <-errChan:
		return err
	}
}
