// Package framequeue provides the bounded buffer between the frame
// producing stage (transport decode) and the consuming stage (render).
//
// The drop policy favors freshness over completeness: a full queue rejects
// the incoming frame instead of blocking the producer, because for a live
// feed a stale frame is worse than a missing one.
package framequeue

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rdudhagra/avatar-streamer/internal/types"
)

// DefaultCapacity matches roughly a third of a second at 30 fps.
const DefaultCapacity = 10

// ErrQueueClosed is returned by TryPush after Close.
var ErrQueueClosed = errors.New("frame queue closed")

// Queue is a fixed-capacity producer/consumer buffer. One producer, one
// consumer.
type Queue struct {
	frames chan *types.Frame

	closeOnce sync.Once
	closed    atomic.Bool

	pushed  uint64
	dropped uint64
	popped  uint64
}

// New creates a queue. capacity <= 0 falls back to DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		frames: make(chan *types.Frame, capacity),
	}
}

// TryPush offers a frame without blocking. Returns false when the frame was
// dropped because the queue is full, and ErrQueueClosed after Close.
func (q *Queue) TryPush(f *types.Frame) (ok bool, err error) {
	// The consumer side may close the queue while the producer is mid-push;
	// absorb the send-on-closed-channel panic instead of racing on a flag
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = ErrQueueClosed
		}
	}()

	if q.closed.Load() {
		return false, ErrQueueClosed
	}
	select {
	case q.frames <- f:
		atomic.AddUint64(&q.pushed, 1)
		return true, nil
	default:
		atomic.AddUint64(&q.dropped, 1)
		return false, nil
	}
}

// Pop blocks up to timeout for the next frame. ok=false means no data yet;
// the caller retries, it is not an error. After Close, Pop drains the
// remaining frames and then returns ok=false immediately.
func (q *Queue) Pop(timeout time.Duration) (*types.Frame, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f, ok := <-q.frames:
		if !ok {
			return nil, false
		}
		atomic.AddUint64(&q.popped, 1)
		return f, true
	case <-timer.C:
		return nil, false
	}
}

// Len returns the number of buffered frames.
func (q *Queue) Len() int {
	return len(q.frames)
}

// Close marks the queue closed. Idempotent; buffered frames stay readable
// via Pop until drained.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.frames)
	})
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Depth   int
	Pushed  uint64
	Dropped uint64
	Popped  uint64
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Depth:   len(q.frames),
		Pushed:  atomic.LoadUint64(&q.pushed),
		Dropped: atomic.LoadUint64(&q.dropped),
		Popped:  atomic.LoadUint64(&q.popped),
	}
}
