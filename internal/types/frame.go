package types

import "time"

// Frame represents a single raw video frame in BGR24 layout.
//
// Ownership contract: a Frame is owned by exactly one pipeline stage at a
// time. The producer hands it to the frame queue and must not touch Data
// afterwards; the consumer releases it by letting it go out of scope.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the producing stage
	Seq uint64
	// Timestamp is when the frame was captured or decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains width*height*3 bytes, one byte per channel, BGR order
	Data []byte
	// TraceID identifies the frame across pipeline stages
	TraceID string
}

// NewFrame allocates a zeroed frame of the given dimensions.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Data:   make([]byte, width*height*3),
	}
}

// Size returns the expected byte length of Data.
func (f *Frame) Size() int {
	return f.Width * f.Height * 3
}

// Clone returns a deep copy of the frame. Used when a stage needs to retain
// pixels past the ownership handoff (e.g. the preview snapshot).
func (f *Frame) Clone() *Frame {
	dup := *f
	dup.Data = make([]byte, len(f.Data))
	copy(dup.Data, f.Data)
	return &dup
}

// StreamStats is a snapshot of receiver-side pipeline counters.
type StreamStats struct {
	FramesReceived uint64
	FramesRendered uint64
	FramesDropped  uint64
	Correlated     uint64
	Misses         uint64
	FPS            float64
	MeanLatencyMS  float64
	HaveLatency    bool
}
