package sidechannel

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestMessageRoundTrip(t *testing.T) {
	sent := time.Unix(1000, 500_000_000)
	m := Message{
		FrameCount: 5,
		Timestamp:  float64(sent.UnixNano()) / 1e9,
		FrameID:    "test-frame",
	}

	payload, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := DecodeMessage(payload, 31)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if decoded.FrameCount != 5 || decoded.FrameID != "test-frame" {
		t.Errorf("unexpected message: %+v", decoded)
	}
	if diff := decoded.SentAt().Sub(sent); diff < -time.Microsecond || diff > time.Microsecond {
		t.Errorf("timestamp drifted by %v", diff)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", "not json at all"},
		{"empty object ts missing", `{"frame_count": 1}`},
		{"counter out of range", `{"frame_count": 32, "timestamp": 1000.0}`},
		{"negative timestamp", `{"frame_count": 1, "timestamp": -5.0}`},
		{"zero timestamp", `{"frame_count": 1, "timestamp": 0}`},
		{"wrong types", `{"frame_count": "five", "timestamp": 1000.0}`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := DecodeMessage([]byte(c.payload), 31); !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("expected ErrMalformedMessage, got %v", err)
			}
		})
	}
}

func TestDecodeValidBoundary(t *testing.T) {
	// Largest legal counter for a 5-bit codec
	payload := []byte(`{"frame_count": 31, "timestamp": 1700000000.25, "frame_id": "x"}`)
	m, err := DecodeMessage(payload, 31)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if m.FrameCount != 31 {
		t.Errorf("expected counter 31, got %d", m.FrameCount)
	}
	if math.Abs(m.Timestamp-1700000000.25) > 1e-9 {
		t.Errorf("unexpected timestamp %v", m.Timestamp)
	}
}
