package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/rdudhagra/avatar-streamer/internal/pipeline"
	"github.com/rdudhagra/avatar-streamer/internal/preview"
	"github.com/rdudhagra/avatar-streamer/internal/render"
	"github.com/rdudhagra/avatar-streamer/internal/telemetry"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the incoming stream with live fps and latency measurement",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		// The preview server doubles as the render surface when configured;
		// otherwise the HUD goes to the log
		var sink render.Sink
		if cfg.Display.PreviewAddr != "" {
			srv := preview.NewServer(cfg.Display.PreviewAddr)
			srv.Start()
			sink = srv
		} else {
			sink = render.NewLogSink(5 * time.Second)
		}

		receiver, err := pipeline.NewReceiver(cfg, sink)
		if err != nil {
			return fmt.Errorf("failed to build receiver: %w", err)
		}

		slog.Info("starting viewer", "video_port", cfg.Network.VideoPort)

		return runWithSignals(func(ctx context.Context) error {
			if cfg.Telemetry.Enabled {
				emitter := telemetry.NewEmitter(telemetry.Config{
					Broker:   cfg.Telemetry.Broker,
					Topic:    cfg.Telemetry.Topic,
					ClientID: cfg.Telemetry.ClientID,
					Interval: time.Duration(cfg.Telemetry.IntervalS) * time.Second,
				})
				if err := emitter.Connect(); err != nil {
					// Telemetry is monitoring, never a reason to refuse to view
					slog.Warn("telemetry unavailable, continuing without it", "error", err)
				} else {
					defer emitter.Disconnect()
					go emitter.Run(ctx, receiver.Stats)
				}
			}

			return receiver.Run(ctx)
		})
	},
}
