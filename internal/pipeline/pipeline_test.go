package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rdudhagra/avatar-streamer/internal/capture"
	"github.com/rdudhagra/avatar-streamer/internal/config"
	"github.com/rdudhagra/avatar-streamer/internal/fingerprint"
	"github.com/rdudhagra/avatar-streamer/internal/render"
	"github.com/rdudhagra/avatar-streamer/internal/sidechannel"
	"github.com/rdudhagra/avatar-streamer/internal/transport"
	"github.com/rdudhagra/avatar-streamer/internal/types"
)

func TestStateMachineTransitions(t *testing.T) {
	var sm stateMachine

	if sm.current() != StateIdle {
		t.Fatalf("expected idle, got %v", sm.current())
	}

	steps := []State{StateStarting, StateRunning, StateStopping, StateStopped}
	for _, next := range steps {
		if ok, err := sm.transition(next); err != nil || !ok {
			t.Fatalf("transition to %v failed: ok=%v err=%v", next, ok, err)
		}
	}

	// Stopped is terminal
	if _, err := sm.transition(StateRunning); err == nil {
		t.Error("expected illegal transition out of stopped")
	}

	// Re-entering the current state is a silent no-op (idempotent stop)
	if ok, err := sm.transition(StateStopped); err != nil || ok {
		t.Errorf("re-entry should be a no-op: ok=%v err=%v", ok, err)
	}
}

func TestStateMachineRejectsSkips(t *testing.T) {
	var sm stateMachine
	if _, err := sm.transition(StateRunning); err == nil {
		t.Error("idle -> running should be illegal")
	}
	if _, err := sm.transition(StateStopping); err == nil {
		t.Error("idle -> stopping should be illegal")
	}
}

// stubSource replays prepared frames, then blocks until the context ends.
type stubSource struct {
	frames chan *types.Frame
	ctx    context.Context
}

func (s *stubSource) ReadFrame() (*types.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

// captureSink records every rendered frame and HUD.
type captureSink struct {
	mu     sync.Mutex
	huds   []render.HUD
	closed int
}

func (s *captureSink) Render(f *types.Frame, hud render.HUD) error {
	s.mu.Lock()
	s.huds = append(s.huds, hud)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *captureSink) rendered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.huds)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Video.Width = 128
	cfg.Video.Height = 128
	cfg.Video.Synthetic = true
	return cfg
}

// TestReceiverLoopsCorrelate drives the read and render loops with stubbed
// frames whose fingerprints were pre-recorded in the store, and verifies
// latency shows up in the HUD.
func TestReceiverLoopsCorrelate(t *testing.T) {
	cfg := testConfig()
	sink := &captureSink{}

	r, err := NewReceiver(cfg, sink)
	if err != nil {
		t.Fatalf("NewReceiver failed: %v", err)
	}

	codec, _ := fingerprint.New(cfg.Fingerprint)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &stubSource{frames: make(chan *types.Frame, 8), ctx: ctx}

	// Simulate the side channel: record send times 40ms in the past, then
	// feed the matching stamped frames through the transport path
	for counter := uint32(1); counter <= 5; counter++ {
		r.store.Record(counter, time.Now().Add(-40*time.Millisecond))

		f := types.NewFrame(128, 128)
		if _, err := codec.Encode(f, counter); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		f.Seq = uint64(counter)
		src.frames <- f
	}

	fatal := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.readLoop(ctx, src, fatal)
	}()
	go func() {
		defer wg.Done()
		r.renderLoop(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for sink.rendered() < 5 {
		select {
		case <-deadline:
			t.Fatalf("only %d of 5 frames rendered", sink.rendered())
		case err := <-fatal:
			t.Fatalf("unexpected fatal error: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	wg.Wait()

	sink.mu.Lock()
	last := sink.huds[len(sink.huds)-1]
	sink.mu.Unlock()
	if !last.HaveLatency {
		t.Fatal("expected correlated latency in HUD")
	}
	if last.LatencyMS < 30 || last.LatencyMS > 500 {
		t.Errorf("implausible latency %f ms", last.LatencyMS)
	}

	stats := r.Stats()
	if stats.FramesReceived != 5 || stats.Correlated != 5 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

// TestReceiverRenderLoopMissShowsWaiting verifies an uncorrelated frame
// still renders, with the HUD in its waiting state.
func TestReceiverRenderLoopMissShowsWaiting(t *testing.T) {
	cfg := testConfig()
	sink := &captureSink{}

	r, err := NewReceiver(cfg, sink)
	if err != nil {
		t.Fatalf("NewReceiver failed: %v", err)
	}

	codec, _ := fingerprint.New(cfg.Fingerprint)
	f := types.NewFrame(128, 128)
	codec.Encode(f, 7) // never recorded in the store

	if ok, err := r.queue.TryPush(f); err != nil || !ok {
		t.Fatalf("push failed: ok=%v err=%v", ok, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.renderLoop(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for sink.rendered() == 0 {
		select {
		case <-deadline:
			t.Fatal("frame never rendered")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	wg.Wait()

	sink.mu.Lock()
	hud := sink.huds[0]
	sink.mu.Unlock()
	if hud.HaveLatency {
		t.Error("miss must leave the HUD in waiting state")
	}

	stats := r.Stats()
	if stats.Misses != 1 || stats.Correlated != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

// TestReceiverStopIdempotent verifies calling Stop twice is safe and the
// sink closes exactly once.
func TestReceiverStopIdempotent(t *testing.T) {
	cfg := testConfig()
	sink := &captureSink{}

	r, err := NewReceiver(cfg, sink)
	if err != nil {
		t.Fatalf("NewReceiver failed: %v", err)
	}

	r.sm.transition(StateStarting)
	r.sm.transition(StateRunning)

	r.Stop()
	r.Stop()

	if r.State() != StateStopped {
		t.Errorf("expected stopped, got %v", r.State())
	}
	if sink.closed != 1 {
		t.Errorf("sink closed %d times, expected 1", sink.closed)
	}
}

// TestSenderLoopStopsOnCancel drives the sender loop against a live pipe
// consumer and verifies a cancelled context ends the loop cleanly, without
// surfacing a transport error from the teardown.
func TestSenderLoopStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	s, err := NewSender(cfg)
	if err != nil {
		t.Fatalf("NewSender failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.source = capture.NewSyntheticSource(cfg.Video.Width, cfg.Video.Height, cfg.Video.Framerate)
	defer s.source.Close()

	pub, err := sidechannel.NewPublisher(ctx, "tcp://127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	s.pub = pub
	defer pub.Close()

	proc, err := transport.Start("sink", "cat", nil, transport.Options{WantStdin: true})
	if err != nil {
		t.Skipf("cannot start cat: %v", err)
	}
	s.encoder = proc
	s.writer = transport.NewFrameWriter(proc.Stdin())
	defer proc.Stop(time.Second)

	done := make(chan error, 1)
	go func() {
		done <- s.loop(ctx)
	}()

	// Let a few frames flow before asking for shutdown
	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancelled loop must return nil, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("sender loop did not stop after cancel")
	}
}

func TestNewSenderRejectsBadGeometry(t *testing.T) {
	cfg := config.Default()
	cfg.Video.Width = 64
	cfg.Video.Height = 64

	if _, err := NewSender(cfg); err == nil {
		t.Error("expected geometry error for 64x64 frame with default region map")
	}
}
