package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rdudhagra/avatar-streamer/internal/recorder"
)

var recordOutputDir string

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the incoming stream to an MP4 file without re-encoding",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if recordOutputDir != "" {
			cfg.Recording.OutputDir = recordOutputDir
		}

		rec, err := recorder.New(cfg)
		if err != nil {
			return err
		}

		slog.Info("starting recorder", "output", rec.OutputPath())

		return runWithSignals(func(ctx context.Context) error {
			return rec.Run(ctx)
		})
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordOutputDir, "output-dir", "", "Directory to save recordings (overrides config)")
}
