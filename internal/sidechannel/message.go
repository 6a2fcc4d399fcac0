// Package sidechannel broadcasts (fingerprint, send-time) pairs on a
// best-effort PUB/SUB socket riding one port above the video transport.
//
// The media stream is lossy and opaque after compression, so only the
// fingerprint travels inside the picture; the precise timestamp, which does
// not need to survive re-encoding, travels here instead.
package sidechannel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedMessage marks a payload that failed schema validation. The
// subscriber logs and drops these; they are never fatal.
var ErrMalformedMessage = errors.New("malformed side-channel message")

// Message is the wire schema. One self-contained JSON document per event.
type Message struct {
	// FrameCount is the fingerprint counter stamped into the frame
	FrameCount uint32 `json:"frame_count"`
	// Timestamp is the send time in floating-point seconds since epoch
	Timestamp float64 `json:"timestamp"`
	// FrameID is an auxiliary per-frame identifier, unused by correlation
	FrameID string `json:"frame_id"`
}

// Encode marshals the message to its wire form.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// SentAt converts the epoch-seconds timestamp back to a time.Time.
func (m Message) SentAt() time.Time {
	sec, frac := math.Modf(m.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// DecodeMessage parses and validates a payload. maxCounter is the largest
// legal fingerprint value (the codec mask); anything outside the schema is
// ErrMalformedMessage.
func DecodeMessage(payload []byte, maxCounter uint32) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.FrameCount > maxCounter {
		return Message{}, fmt.Errorf("%w: frame_count %d out of range [0,%d]",
			ErrMalformedMessage, m.FrameCount, maxCounter)
	}
	if m.Timestamp <= 0 || math.IsNaN(m.Timestamp) || math.IsInf(m.Timestamp, 0) {
		return Message{}, fmt.Errorf("%w: invalid timestamp %v", ErrMalformedMessage, m.Timestamp)
	}
	return m, nil
}
