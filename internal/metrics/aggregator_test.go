package metrics

import (
	"math"
	"testing"
	"time"
)

func TestMeanLatencyEmptyWindow(t *testing.T) {
	a := New(0, 0)
	if _, ok := a.MeanLatency(); ok {
		t.Fatal("empty window must report no data, not zero")
	}
}

func TestMeanLatencyWindow(t *testing.T) {
	a := New(0, 30)

	// 45 samples; the window keeps the last 30 (16..45)
	for i := 1; i <= 45; i++ {
		a.RecordLatency(float64(i))
	}

	mean, ok := a.MeanLatency()
	if !ok {
		t.Fatal("expected data")
	}
	expected := 0.0
	for i := 16; i <= 45; i++ {
		expected += float64(i)
	}
	expected /= 30
	if math.Abs(mean-expected) > 0.0001 {
		t.Errorf("expected mean %f, got %f", expected, mean)
	}
}

func TestMeanLatencyPartialWindow(t *testing.T) {
	a := New(0, 30)
	a.RecordLatency(10)
	a.RecordLatency(20)

	mean, ok := a.MeanLatency()
	if !ok || mean != 15 {
		t.Errorf("expected mean 15 over 2 samples, got %f ok=%v", mean, ok)
	}
}

func TestFPSWindow(t *testing.T) {
	a := New(time.Second, 0)

	// Drive the injectable clock: 30 frames at 33ms steps, then top up the
	// remaining 10ms so the 31st arrival lands exactly on the 1s boundary
	current := time.Unix(100, 0)
	a.now = func() time.Time { return current }

	for i := 0; i < 30; i++ {
		a.RecordFrameArrival()
		current = current.Add(33 * time.Millisecond)
	}
	current = current.Add(10 * time.Millisecond)
	a.RecordFrameArrival()

	fps := a.FPS()
	if math.Abs(fps-31) > 0.001 {
		t.Errorf("expected 31 fps, got %f", fps)
	}

	snap := a.Snapshot()
	if snap.TotalFrames != 31 {
		t.Errorf("expected 31 total frames, got %d", snap.TotalFrames)
	}
}

func TestTierClassification(t *testing.T) {
	tiers := DefaultTiers()

	cases := []struct {
		fps  float64
		want Tier
	}{
		{30, TierGood},
		{25, TierGood},
		{20, TierAcceptable},
		{15, TierAcceptable},
		{10, TierPoor},
	}
	for _, c := range cases {
		if got := tiers.RateTier(c.fps); got != c.want {
			t.Errorf("RateTier(%f) = %v, want %v", c.fps, got, c.want)
		}
	}

	latencyCases := []struct {
		ms   float64
		want Tier
	}{
		{50, TierGood},
		{99.9, TierGood},
		{100, TierAcceptable},
		{150, TierAcceptable},
		{200, TierPoor},
		{500, TierPoor},
	}
	for _, c := range latencyCases {
		if got := tiers.LatencyTier(c.ms); got != c.want {
			t.Errorf("LatencyTier(%f) = %v, want %v", c.ms, got, c.want)
		}
	}
}

func TestSnapshotNoLatency(t *testing.T) {
	a := New(0, 0)
	a.RecordFrameArrival()

	snap := a.Snapshot()
	if snap.HaveLatency {
		t.Error("snapshot should report no latency data")
	}
	if snap.TotalFrames != 1 {
		t.Errorf("expected 1 frame, got %d", snap.TotalFrames)
	}
}
