// Package telemetry publishes periodic pipeline stats snapshots to an MQTT
// broker for external monitoring. Entirely optional: the pipeline runs the
// same with it disabled.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rdudhagra/avatar-streamer/internal/types"
)

// Emitter publishes stats snapshots to a single topic.
type Emitter struct {
	broker   string
	topic    string
	clientID string
	interval time.Duration
	client   mqtt.Client

	mu        sync.Mutex
	connected bool
	published uint64
	errors    uint64
}

// Config mirrors the telemetry config section.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Interval time.Duration
}

// NewEmitter creates an emitter; Connect must be called before Run.
func NewEmitter(cfg Config) *Emitter {
	if cfg.ClientID == "" {
		cfg.ClientID = "avatar-streamer"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Emitter{
		broker:   cfg.Broker,
		topic:    cfg.Topic,
		clientID: cfg.ClientID,
		interval: cfg.Interval,
	}
}

// Connect establishes the broker connection with auto-reconnect.
func (e *Emitter) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.broker))
	opts.SetClientID(e.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("telemetry broker connected", "broker", e.broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("telemetry broker connection lost, will auto-reconnect",
			"broker", e.broker,
			"error", err,
		)
	}

	e.client = mqtt.NewClient(opts)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("telemetry broker connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry broker connection failed: %w", err)
	}
	return nil
}

// Run publishes a snapshot every interval until ctx is cancelled. snapshot
// supplies the current stats.
func (e *Emitter) Run(ctx context.Context, snapshot func() types.StreamStats) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	slog.Info("telemetry emitter started", "topic", e.topic, "interval", e.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("telemetry emitter stopping", "published", e.published)
			return
		case <-ticker.C:
			if err := e.publish(snapshot()); err != nil {
				slog.Debug("telemetry publish failed", "error", err)
			}
		}
	}
}

type payload struct {
	Timestamp      float64 `json:"timestamp"`
	FPS            float64 `json:"fps"`
	MeanLatencyMS  float64 `json:"mean_latency_ms,omitempty"`
	HaveLatency    bool    `json:"have_latency"`
	FramesReceived uint64  `json:"frames_received"`
	FramesRendered uint64  `json:"frames_rendered"`
	FramesDropped  uint64  `json:"frames_dropped"`
	Correlated     uint64  `json:"correlated"`
	Misses         uint64  `json:"misses"`
}

func (e *Emitter) publish(stats types.StreamStats) error {
	e.mu.Lock()
	connected := e.connected
	e.mu.Unlock()
	if !connected {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("telemetry broker not connected")
	}

	body, err := json.Marshal(payload{
		Timestamp:      float64(time.Now().UnixNano()) / 1e9,
		FPS:            stats.FPS,
		MeanLatencyMS:  stats.MeanLatencyMS,
		HaveLatency:    stats.HaveLatency,
		FramesReceived: stats.FramesReceived,
		FramesRendered: stats.FramesRendered,
		FramesDropped:  stats.FramesDropped,
		Correlated:     stats.Correlated,
		Misses:         stats.Misses,
	})
	if err != nil {
		return err
	}

	token := e.client.Publish(e.topic, 0, false, body)
	if !token.WaitTimeout(2 * time.Second) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("telemetry publish timeout")
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	return nil
}

// Disconnect closes the broker connection.
func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("telemetry broker disconnected")
	}
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}
