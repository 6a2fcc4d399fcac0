package framequeue

import (
	"errors"
	"testing"
	"time"

	"github.com/rdudhagra/avatar-streamer/internal/types"
)

// TestDropWhenFull fills the queue to capacity 10 and verifies the 11th
// TryPush is rejected while the depth stays at 10.
func TestDropWhenFull(t *testing.T) {
	q := New(10)
	defer q.Close()

	for i := 0; i < 10; i++ {
		ok, err := q.TryPush(&types.Frame{Seq: uint64(i)})
		if err != nil || !ok {
			t.Fatalf("push %d failed: ok=%v err=%v", i, ok, err)
		}
	}

	ok, err := q.TryPush(&types.Frame{Seq: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("11th push should have been dropped")
	}
	if q.Len() != 10 {
		t.Errorf("expected depth 10, got %d", q.Len())
	}

	stats := q.Stats()
	if stats.Pushed != 10 || stats.Dropped != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

// TestProducerNeverBlocks verifies TryPush completes promptly under
// sustained overload.
func TestProducerNeverBlocks(t *testing.T) {
	q := New(2)
	defer q.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			q.TryPush(&types.Frame{Seq: uint64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TryPush blocked under overload")
	}
}

func TestPopTimeout(t *testing.T) {
	q := New(4)
	defer q.Close()

	start := time.Now()
	f, ok := q.Pop(50 * time.Millisecond)
	if ok || f != nil {
		t.Fatal("expected timeout with no data")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Pop returned too early: %v", elapsed)
	}
}

func TestPopOrder(t *testing.T) {
	q := New(4)
	defer q.Close()

	for i := 0; i < 3; i++ {
		q.TryPush(&types.Frame{Seq: uint64(i)})
	}
	for i := 0; i < 3; i++ {
		f, ok := q.Pop(time.Second)
		if !ok {
			t.Fatalf("pop %d timed out", i)
		}
		if f.Seq != uint64(i) {
			t.Errorf("expected seq %d, got %d", i, f.Seq)
		}
	}
}

func TestCloseIdempotent(t *testing.T) {
	q := New(4)
	q.TryPush(&types.Frame{Seq: 1})

	q.Close()
	q.Close() // must not panic

	if _, err := q.TryPush(&types.Frame{Seq: 2}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}

	// Buffered frame drains, then closed channel yields no data
	if f, ok := q.Pop(time.Second); !ok || f.Seq != 1 {
		t.Error("expected buffered frame after close")
	}
	if _, ok := q.Pop(10 * time.Millisecond); ok {
		t.Error("expected no data from drained closed queue")
	}
}
