package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rdudhagra/avatar-streamer/internal/config"
	"github.com/rdudhagra/avatar-streamer/internal/correlate"
	"github.com/rdudhagra/avatar-streamer/internal/fingerprint"
	"github.com/rdudhagra/avatar-streamer/internal/framequeue"
	"github.com/rdudhagra/avatar-streamer/internal/metrics"
	"github.com/rdudhagra/avatar-streamer/internal/render"
	"github.com/rdudhagra/avatar-streamer/internal/sidechannel"
	"github.com/rdudhagra/avatar-streamer/internal/transport"
	"github.com/rdudhagra/avatar-streamer/internal/types"
)

// popTimeout bounds the render loop's wait so it can observe cancellation;
// matches the reference viewer's one second queue timeout.
const popTimeout = time.Second

// frameSource abstracts the decoder pipe so the loops can be exercised
// without an ffmpeg process.
type frameSource interface {
	ReadFrame() (*types.Frame, error)
}

// Receiver runs the operator side: three concurrent loops sharing only the
// frame queue and the correlation store.
type Receiver struct {
	cfg   *config.Config
	codec *fingerprint.Codec
	sink  render.Sink

	store *correlate.Store
	queue *framequeue.Queue
	agg   *metrics.Aggregator

	decoder *transport.Process
	sub     *sidechannel.Subscriber

	sm       stateMachine
	stopOnce sync.Once
	wg       sync.WaitGroup

	received uint64
	rendered uint64
}

// NewReceiver validates the configuration and builds the receiver. sink
// receives rendered frames; it is closed last during shutdown.
func NewReceiver(cfg *config.Config, sink render.Sink) (*Receiver, error) {
	codec, err := fingerprint.New(cfg.Fingerprint)
	if err != nil {
		return nil, err
	}
	if err := codec.CheckDimensions(cfg.Video.Width, cfg.Video.Height); err != nil {
		return nil, err
	}
	return &Receiver{
		cfg:   cfg,
		codec: codec,
		sink:  sink,
		store: correlate.New(cfg.Correlation.Capacity, cfg.Correlation.LatencyWindow),
		queue: framequeue.New(cfg.Correlation.QueueDepth),
		agg:   metrics.New(0, cfg.Correlation.LatencyWindow),
	}, nil
}

// Run drives the receiver until ctx is cancelled or the transport dies.
func (r *Receiver) Run(ctx context.Context) error {
	if _, err := r.sm.transition(StateStarting); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var err error
	r.decoder, err = transport.Start("decoder", transport.FFmpegBin,
		transport.DecoderArgs(r.cfg.Network.VideoPort),
		transport.Options{WantStdout: true})
	if err != nil {
		r.Stop()
		return err
	}

	r.sub, err = sidechannel.NewSubscriber(loopCtx,
		fmt.Sprintf("tcp://%s:%d", r.cfg.Network.OperatorIP, r.cfg.Network.SideChannelPort()),
		r.store, r.codec.Mask())
	if err != nil {
		r.Stop()
		return err
	}

	if _, err := r.sm.transition(StateRunning); err != nil {
		return err
	}
	slog.Info("receiver running",
		"resolution", fmt.Sprintf("%dx%d", r.cfg.Video.Width, r.cfg.Video.Height),
		"video_port", r.cfg.Network.VideoPort,
		"side_channel_port", r.cfg.Network.SideChannelPort(),
		"queue_depth", r.cfg.Correlation.QueueDepth,
	)

	// Fatal transport failures escalate here; everything else stays
	// loop-local
	fatal := make(chan error, 1)

	reader := transport.NewFrameReader(r.decoder.Stdout(), r.cfg.Video.Width, r.cfg.Video.Height)
	r.wg.Add(3)
	go func() {
		defer r.wg.Done()
		r.readLoop(loopCtx, reader, fatal)
	}()
	go func() {
		defer r.wg.Done()
		r.sub.Run(loopCtx)
	}()
	go func() {
		defer r.wg.Done()
		r.renderLoop(loopCtx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-fatal:
		slog.Error("transport failure, shutting down pipeline", "error", runErr)
	}

	cancel()
	r.Stop()
	r.wg.Wait()
	return runErr
}

// readLoop pulls decoded frames off the transport and offers them to the
// bounded queue, dropping on overflow.
func (r *Receiver) readLoop(ctx context.Context, source frameSource, fatal chan<- error) {
	slog.Info("transport reader started")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := source.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if r.decoderDead() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				select {
				case fatal <- fmt.Errorf("%w: decoder stream ended: %v", transport.ErrProcessExited, err):
				default:
				}
				return
			}
			slog.Warn("transport read failed, retrying", "error", err)
			time.Sleep(transientBackoff)
			continue
		}

		atomic.AddUint64(&r.received, 1)

		if ok, err := r.queue.TryPush(frame); err != nil {
			return
		} else if !ok {
			slog.Debug("frame dropped, queue full", "frame_seq", frame.Seq)
		}
	}
}

// renderLoop pops frames, recovers their fingerprints, correlates latency,
// and hands the frame plus HUD to the sink.
func (r *Receiver) renderLoop(ctx context.Context) {
	slog.Info("render loop started")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, ok := r.queue.Pop(popTimeout)
		if !ok {
			// No data yet; the display keeps its waiting state
			continue
		}

		counter := r.codec.Decode(frame)
		now := time.Now()

		hud := render.HUD{Dropped: r.queue.Stats().Dropped}
		if sample, hit := r.store.Correlate(counter, now); hit {
			r.agg.RecordLatency(sample.LatencyMS)
		}
		r.agg.RecordFrameArrival()

		snap := r.agg.Snapshot()
		hud.FPS = snap.FPS
		hud.FPSTier = r.cfg.Display.Tiers.RateTier(snap.FPS)
		if snap.HaveLatency {
			hud.HaveLatency = true
			hud.LatencyMS = snap.MeanLatencyMS
			hud.LatencyTier = r.cfg.Display.Tiers.LatencyTier(snap.MeanLatencyMS)
		}

		if err := r.sink.Render(frame, hud); err != nil {
			slog.Warn("render failed", "frame_seq", frame.Seq, "error", err)
		}
		atomic.AddUint64(&r.rendered, 1)
	}
}

func (r *Receiver) decoderDead() bool {
	return r.decoder != nil && !r.decoder.Running()
}

// Stats snapshots the receiver for telemetry and the preview server.
func (r *Receiver) Stats() types.StreamStats {
	snap := r.agg.Snapshot()
	storeStats := r.store.Stats()
	return types.StreamStats{
		FramesReceived: atomic.LoadUint64(&r.received),
		FramesRendered: atomic.LoadUint64(&r.rendered),
		FramesDropped:  r.queue.Stats().Dropped,
		Correlated:     storeStats.Correlated,
		Misses:         storeStats.Misses,
		FPS:            snap.FPS,
		MeanLatencyMS:  snap.MeanLatencyMS,
		HaveLatency:    snap.HaveLatency,
	}
}

// Stop tears the receiver down in the contract order: transport first, then
// the side-channel socket, then the render surface. Idempotent.
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() {
		r.sm.transition(StateStopping)
		r.shutdown()
		r.sm.transition(StateStopped)
		slog.Info("receiver stopped",
			"frames_received", atomic.LoadUint64(&r.received),
			"frames_rendered", atomic.LoadUint64(&r.rendered),
		)
	})
}

func (r *Receiver) shutdown() {
	if r.decoder != nil {
		if err := r.decoder.Stop(r.cfg.ShutdownTimeout()); err != nil {
			slog.Warn("decoder stop failed", "error", err)
		}
	}
	if r.sub != nil {
		if err := r.sub.Close(); err != nil {
			slog.Warn("side-channel subscriber close failed", "error", err)
		}
	}
	r.queue.Close()
	if err := r.sink.Close(); err != nil {
		slog.Warn("render sink close failed", "error", err)
	}
}

// State returns the current lifecycle state.
func (r *Receiver) State() State {
	return r.sm.current()
}
