package sidechannel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
)

// Publisher broadcasts timestamp messages to zero or more subscribers.
// Publish is best-effort: no acknowledgment, no retry, and a delivery
// failure never touches the media path.
type Publisher struct {
	sock zmq4.Socket

	published uint64
	errors    uint64
}

// NewPublisher binds a PUB socket on addr (e.g. "tcp://*:5001").
func NewPublisher(ctx context.Context, addr string) (*Publisher, error) {
	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(addr); err != nil {
		return nil, fmt.Errorf("failed to bind side-channel publisher on %s: %w", addr, err)
	}

	slog.Info("side-channel publisher bound", "addr", addr)
	return &Publisher{sock: sock}, nil
}

// Publish broadcasts a (fingerprint, send-time) pair. Errors are counted
// and logged at debug level only; the sender loop never slows down for the
// side channel.
func (p *Publisher) Publish(counter uint32, sentAt time.Time) {
	msg := Message{
		FrameCount: counter,
		Timestamp:  float64(sentAt.UnixNano()) / 1e9,
		FrameID:    uuid.NewString(),
	}

	payload, err := msg.Encode()
	if err != nil {
		atomic.AddUint64(&p.errors, 1)
		slog.Debug("side-channel encode failed", "error", err)
		return
	}

	if err := p.sock.Send(zmq4.NewMsg(payload)); err != nil {
		atomic.AddUint64(&p.errors, 1)
		slog.Debug("side-channel publish failed", "frame_count", counter, "error", err)
		return
	}
	atomic.AddUint64(&p.published, 1)
}

// Addr returns the bound listen address, useful when binding port 0.
func (p *Publisher) Addr() net.Addr {
	return p.sock.Addr()
}

// Published returns the number of successfully handed-off messages.
func (p *Publisher) Published() uint64 {
	return atomic.LoadUint64(&p.published)
}

// Close releases the socket. Idempotent at the pipeline level: callers
// guard with their own once.
func (p *Publisher) Close() error {
	return p.sock.Close()
}
