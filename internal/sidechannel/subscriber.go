package sidechannel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/rdudhagra/avatar-streamer/internal/correlate"
)

// recvBackoff is the pause after an unexpected receive error so a dead
// socket cannot spin the loop.
const recvBackoff = 100 * time.Millisecond

// Subscriber feeds the correlation store from the side channel. It
// subscribes to all topics and treats malformed payloads as droppable.
type Subscriber struct {
	sock  zmq4.Socket
	store *correlate.Store
	mask  uint32

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	received  uint64
	malformed uint64
}

// NewSubscriber connects a SUB socket to addr (e.g. "tcp://host:5001") and
// subscribes to everything. mask is the largest legal fingerprint value.
func NewSubscriber(ctx context.Context, addr string, store *correlate.Store, mask uint32) (*Subscriber, error) {
	sock := zmq4.NewSub(ctx, zmq4.WithAutomaticReconnect(true))
	if err := sock.Dial(addr); err != nil {
		return nil, fmt.Errorf("failed to connect side-channel subscriber to %s: %w", addr, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	slog.Info("side-channel subscriber connected", "addr", addr)
	return &Subscriber{sock: sock, store: store, mask: mask}, nil
}

// Run pumps the socket until ctx is cancelled. Socket reads block with no
// deadline of their own, so they happen on a helper goroutine and
// cancellation is observed here immediately; closing the socket unblocks
// the pending receive.
func (s *Subscriber) Run(ctx context.Context) {
	slog.Info("side-channel subscriber started")

	payloads := make(chan []byte)
	go s.recvLoop(ctx, payloads)

	for {
		select {
		case <-ctx.Done():
			s.Close()
			slog.Info("side-channel subscriber stopping",
				"received", atomic.LoadUint64(&s.received),
				"malformed", atomic.LoadUint64(&s.malformed),
			)
			return
		case payload, ok := <-payloads:
			if !ok {
				return
			}
			s.handle(payload)
		}
	}
}

// recvLoop owns the blocking socket reads and hands payloads to Run.
func (s *Subscriber) recvLoop(ctx context.Context, payloads chan<- []byte) {
	defer close(payloads)

	for {
		msg, err := s.sock.Recv()
		if err != nil {
			if ctx.Err() != nil || s.closed.Load() {
				return
			}
			slog.Debug("side-channel receive error", "error", err)
			time.Sleep(recvBackoff)
			continue
		}

		select {
		case payloads <- msg.Bytes():
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscriber) handle(payload []byte) {
	if len(payload) == 0 {
		return
	}

	m, err := DecodeMessage(payload, s.mask)
	if err != nil {
		atomic.AddUint64(&s.malformed, 1)
		slog.Warn("dropping malformed side-channel message",
			"error", err,
			"payload_length", len(payload),
		)
		return
	}

	s.store.Record(m.FrameCount, m.SentAt())
	atomic.AddUint64(&s.received, 1)

	slog.Debug("side-channel sample recorded",
		"frame_count", m.FrameCount,
		"frame_id", m.FrameID,
	)
}

// Received returns the count of valid messages recorded.
func (s *Subscriber) Received() uint64 {
	return atomic.LoadUint64(&s.received)
}

// Malformed returns the count of dropped invalid messages.
func (s *Subscriber) Malformed() uint64 {
	return atomic.LoadUint64(&s.malformed)
}

// Close releases the socket and unblocks any pending receive. Idempotent.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.sock.Close()
	})
	return s.closeErr
}
