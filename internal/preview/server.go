// Package preview serves the latest rendered frame and the live stats over
// HTTP, standing in for a native display surface.
package preview

import (
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/rdudhagra/avatar-streamer/internal/render"
	"github.com/rdudhagra/avatar-streamer/internal/types"
)

// Server is an HTTP render sink: GET /frame.jpg returns the most recent
// frame, GET /stats the current HUD, GET /healthz liveness.
type Server struct {
	srv *http.Server

	mu    sync.RWMutex
	frame *types.Frame
	hud   render.HUD
	seen  uint64
}

// NewServer builds the preview server on addr (e.g. ":8080").
func NewServer(addr string) *Server {
	s := &Server{}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/frame.jpg", s.handleFrame).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in the background. Listen errors other than a clean close
// are logged, not fatal: losing the preview must not kill the pipeline.
func (s *Server) Start() {
	go func() {
		slog.Info("preview server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("preview server failed", "error", err)
		}
	}()
}

// Render stores the frame snapshot for the HTTP handlers. Implements
// render.Sink; takes ownership of the frame so no copy is needed.
func (s *Server) Render(f *types.Frame, hud render.HUD) error {
	s.mu.Lock()
	s.frame = f
	s.hud = hud
	s.seen++
	s.mu.Unlock()
	return nil
}

// Close shuts the HTTP server down.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type statsResponse struct {
	FPS         float64 `json:"fps"`
	FPSTier     string  `json:"fps_tier"`
	LatencyMS   float64 `json:"latency_ms,omitempty"`
	LatencyTier string  `json:"latency_tier,omitempty"`
	HaveLatency bool    `json:"have_latency"`
	Dropped     uint64  `json:"dropped"`
	Frames      uint64  `json:"frames"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := statsResponse{
		FPS:         s.hud.FPS,
		FPSTier:     s.hud.FPSTier.String(),
		HaveLatency: s.hud.HaveLatency,
		Dropped:     s.hud.Dropped,
		Frames:      s.seen,
	}
	if s.hud.HaveLatency {
		resp.LatencyMS = s.hud.LatencyMS
		resp.LatencyTier = s.hud.LatencyTier.String()
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleFrame(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	frame := s.frame
	s.mu.RUnlock()

	if frame == nil {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}

	img := bgrToImage(frame)
	w.Header().Set("Content-Type", "image/jpeg")
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 80}); err != nil {
		slog.Debug("preview jpeg encode failed", "error", err)
	}
}

// bgrToImage converts a BGR24 frame to an RGBA image for encoding.
func bgrToImage(f *types.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			src := (y*f.Width + x) * 3
			dst := img.PixOffset(x, y)
			img.Pix[dst] = f.Data[src+2]   // R
			img.Pix[dst+1] = f.Data[src+1] // G
			img.Pix[dst+2] = f.Data[src]   // B
			img.Pix[dst+3] = 255
		}
	}
	return img
}
