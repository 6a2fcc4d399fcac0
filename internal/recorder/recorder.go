// Package recorder captures the raw transport stream off the wire and
// remuxes it to an MP4 file without re-encoding. It shares the UDP port
// semantics of the viewer but never decodes pixels.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rdudhagra/avatar-streamer/internal/config"
	"github.com/rdudhagra/avatar-streamer/internal/transport"
)

// reportInterval is how often the data rate is logged.
const reportInterval = 5 * time.Second

// retryBackoff is the pause after a recoverable socket error.
const retryBackoff = 100 * time.Millisecond

// Recorder receives MPEG-TS datagrams and pipes them into a supervised
// muxer process.
type Recorder struct {
	cfg        *config.Config
	outputPath string

	conn  *net.UDPConn
	muxer *transport.Process

	stopOnce sync.Once
	received uint64
}

// New builds a recorder writing to a timestamped file under the configured
// output directory.
func New(cfg *config.Config) (*Recorder, error) {
	dir := cfg.Recording.OutputDir
	if dir == "" {
		dir = "recordings"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	name := fmt.Sprintf("recording_%s.mp4", time.Now().Format("20060102_150405"))
	return &Recorder{
		cfg:        cfg,
		outputPath: filepath.Join(dir, name),
	}, nil
}

// OutputPath returns the destination file.
func (r *Recorder) OutputPath() string { return r.outputPath }

// Run listens for stream data and records until ctx is cancelled or the
// muxer dies.
func (r *Recorder) Run(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: r.cfg.Network.VideoPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind udp port %d: %w", r.cfg.Network.VideoPort, err)
	}
	r.conn = conn
	if err := conn.SetReadBuffer(16 * 1024 * 1024); err != nil {
		slog.Debug("failed to grow udp receive buffer", "error", err)
	}

	r.muxer, err = transport.Start("muxer", transport.FFmpegBin,
		transport.MuxerArgs(r.outputPath),
		transport.Options{WantStdin: true})
	if err != nil {
		conn.Close()
		return err
	}

	slog.Info("recording started",
		"output", r.outputPath,
		"video_port", r.cfg.Network.VideoPort,
	)

	err = r.receiveLoop(ctx)
	r.Stop()
	return err
}

func (r *Recorder) receiveLoop(ctx context.Context) error {
	buf := make([]byte, 65536)
	var bytesSinceReport uint64
	lastReport := time.Now()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			slog.Info("recording stopping",
				"duration", time.Since(start).Round(time.Second),
				"datagrams", atomic.LoadUint64(&r.received),
			)
			return nil
		case <-r.muxer.Done():
			_, code := r.muxer.State()
			return fmt.Errorf("%w: muxer exited with code %d", transport.ErrProcessExited, code)
		default:
		}

		// Bounded read so the shutdown signal is observed promptly
		r.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("udp receive failed, retrying", "error", err)
			time.Sleep(retryBackoff)
			continue
		}

		if _, err := r.muxer.Stdin().Write(buf[:n]); err != nil {
			if !r.muxer.Running() {
				_, code := r.muxer.State()
				return fmt.Errorf("%w: muxer exited with code %d", transport.ErrProcessExited, code)
			}
			slog.Warn("muxer write failed", "error", err)
			continue
		}

		atomic.AddUint64(&r.received, 1)
		bytesSinceReport += uint64(n)

		if elapsed := time.Since(lastReport); elapsed >= reportInterval {
			slog.Info("recording in progress",
				"data_rate_kbs", float64(bytesSinceReport)/elapsed.Seconds()/1024,
				"duration", time.Since(start).Round(time.Second),
			)
			bytesSinceReport = 0
			lastReport = time.Now()
		}
	}
}

// Stop closes the socket and flushes the muxer. Idempotent.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		if r.conn != nil {
			r.conn.Close()
		}
		if r.muxer != nil {
			// Closing stdin signals EOF so ffmpeg finalizes the MP4 index
			if err := r.muxer.Stop(r.cfg.ShutdownTimeout()); err != nil {
				slog.Warn("muxer stop failed", "error", err)
			}
		}

		if info, err := os.Stat(r.outputPath); err == nil && info.Size() > 1024 {
			slog.Info("recording saved", "output", r.outputPath, "size_bytes", info.Size())
		} else {
			slog.Warn("no data was recorded; is a stream active on the port?",
				"output", r.outputPath)
		}
	})
}
