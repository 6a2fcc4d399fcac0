// Package correlate matches fingerprint counters decoded from received
// frames against the send timestamps announced on the side channel, and
// turns the difference into a one-way latency estimate.
package correlate

import (
	"container/heap"
	"sync"
	"time"
)

const (
	// DefaultCapacity bounds the number of live fingerprint entries
	DefaultCapacity = 100
	// DefaultLatencyWindow bounds the latency moving-average window
	DefaultLatencyWindow = 30
)

// Sample is the result of a successful correlation.
type Sample struct {
	// LatencyMS is the instantaneous latency of this frame
	LatencyMS float64
	// MeanLatencyMS is the arithmetic mean over the sample window
	MeanLatencyMS float64
	// WindowSize is the number of samples behind the mean
	WindowSize int
}

type entry struct {
	fingerprint uint32
	sentAt      time.Time
	index       int // position in the heap, -1 when evicted/replaced
}

// timeHeap orders entries by send timestamp so eviction removes the entry
// with the numerically smallest timestamp, not the one inserted first.
// Fingerprints wrap every 2^bits frames, so insertion order and timestamp
// order genuinely diverge under reordering.
type timeHeap []*entry

func (h timeHeap) Len() int            { return len(h) }
func (h timeHeap) Less(i, j int) bool  { return h[i].sentAt.Before(h[j].sentAt) }
func (h timeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timeHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *timeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Store is the bounded fingerprint → send-time map. Exactly one writer (the
// side-channel subscriber) and one reader (the render loop) touch it
// concurrently; a single mutex guards both the map and the eviction index.
type Store struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint32]*entry
	byTime   timeHeap

	window []float64
	next   int
	filled int

	recorded   uint64
	evicted    uint64
	correlated uint64
	misses     uint64
}

// New creates a store with the given entry capacity and latency window
// size. Zero values fall back to the defaults.
func New(capacity, latencyWindow int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if latencyWindow <= 0 {
		latencyWindow = DefaultLatencyWindow
	}
	return &Store{
		capacity: capacity,
		entries:  make(map[uint32]*entry, capacity),
		window:   make([]float64, latencyWindow),
	}
}

// Record inserts or overwrites the send timestamp for a fingerprint. When
// the store would exceed capacity, the entry with the smallest stored
// timestamp is evicted.
func (s *Store) Record(fingerprint uint32, sentAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recorded++

	if e, ok := s.entries[fingerprint]; ok {
		e.sentAt = sentAt
		heap.Fix(&s.byTime, e.index)
		return
	}

	e := &entry{fingerprint: fingerprint, sentAt: sentAt}
	s.entries[fingerprint] = e
	heap.Push(&s.byTime, e)

	if len(s.entries) > s.capacity {
		oldest := heap.Pop(&s.byTime).(*entry)
		delete(s.entries, oldest.fingerprint)
		s.evicted++
	}
}

// Correlate looks up a fingerprint and, if present, records the latency
// sample and returns it together with the windowed mean. The entry stays in
// the store: a wrapped counter correlates several times before eviction.
// A miss is the expected steady state for dropped side-channel messages and
// misdecoded fingerprints, not an error.
func (s *Store) Correlate(fingerprint uint32, now time.Time) (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fingerprint]
	if !ok {
		s.misses++
		return Sample{}, false
	}

	latency := now.Sub(e.sentAt).Seconds() * 1000

	s.window[s.next] = latency
	s.next = (s.next + 1) % len(s.window)
	if s.filled < len(s.window) {
		s.filled++
	}
	s.correlated++

	return Sample{
		LatencyMS:     latency,
		MeanLatencyMS: s.meanLocked(),
		WindowSize:    s.filled,
	}, true
}

// MeanLatency returns the windowed mean, with ok=false while the window is
// empty. Zero would read as perfect latency, so "no data" is explicit.
func (s *Store) MeanLatency() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filled == 0 {
		return 0, false
	}
	return s.meanLocked(), true
}

func (s *Store) meanLocked() float64 {
	var sum float64
	for i := 0; i < s.filled; i++ {
		sum += s.window[i]
	}
	return sum / float64(s.filled)
}

// Len returns the current number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats is a snapshot of store counters.
type Stats struct {
	Entries    int
	Recorded   uint64
	Evicted    uint64
	Correlated uint64
	Misses     uint64
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Entries:    len(s.entries),
		Recorded:   s.recorded,
		Evicted:    s.evicted,
		Correlated: s.correlated,
		Misses:     s.misses,
	}
}
