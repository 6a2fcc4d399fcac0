package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rdudhagra/avatar-streamer/internal/pipeline"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream the webcam to the operator with fingerprinted frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sender, err := pipeline.NewSender(cfg)
		if err != nil {
			return fmt.Errorf("failed to build sender: %w", err)
		}

		slog.Info("starting webcam stream",
			"peer", cfg.Network.OperatorIP,
			"video_port", cfg.Network.VideoPort,
		)

		return runWithSignals(func(ctx context.Context) error {
			return sender.Run(ctx)
		})
	},
}
