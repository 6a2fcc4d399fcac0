package sidechannel

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rdudhagra/avatar-streamer/internal/correlate"
)

// TestLoopbackPublishSubscribe wires a publisher and subscriber over
// loopback TCP and verifies a published sample lands in the correlation
// store. PUB/SUB joins are asynchronous, so the publisher resends until the
// subscriber catches up.
func TestLoopbackPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, err := NewPublisher(ctx, "tcp://127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	defer pub.Close()

	port := pub.Addr().(*net.TCPAddr).Port
	store := correlate.New(0, 0)

	sub, err := NewSubscriber(ctx, fmt.Sprintf("tcp://127.0.0.1:%d", port), store, 31)
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}
	defer sub.Close()

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	done := make(chan struct{})
	go func() {
		sub.Run(subCtx)
		close(done)
	}()

	sentAt := time.Now()
	deadline := time.After(5 * time.Second)
	for store.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("sample never reached the store")
		default:
			pub.Publish(5, sentAt)
			time.Sleep(10 * time.Millisecond)
		}
	}

	if _, ok := store.Correlate(5, time.Now()); !ok {
		t.Error("expected fingerprint 5 in the store")
	}

	subCancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop after cancel")
	}
}

// TestSubscriberCancelWhileIdle verifies cancelling Run stops the loop even
// when the socket never receives a message. The blocking receive must not
// pin the loop past its context.
func TestSubscriberCancelWhileIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, err := NewPublisher(ctx, "tcp://127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	defer pub.Close()

	port := pub.Addr().(*net.TCPAddr).Port
	store := correlate.New(0, 0)

	sub, err := NewSubscriber(ctx, fmt.Sprintf("tcp://127.0.0.1:%d", port), store, 31)
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}
	defer sub.Close()

	runCtx, runCancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		sub.Run(runCtx)
		close(done)
	}()

	// Let the receive goroutine block on the idle socket first
	time.Sleep(100 * time.Millisecond)
	runCancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("idle subscriber did not stop after cancel")
	}
	if sub.Received() != 0 {
		t.Errorf("expected no messages, got %d", sub.Received())
	}
}
