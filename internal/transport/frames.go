package transport

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/rdudhagra/avatar-streamer/internal/types"
)

// FrameReader slices a raw pixel byte stream into frames. The stream has no
// framing of its own: every width*height*3 bytes is one frame, so a short
// read means the stream ended mid-frame.
type FrameReader struct {
	r      io.Reader
	width  int
	height int
	seq    uint64
}

// NewFrameReader wraps r for width×height BGR24 frames.
func NewFrameReader(r io.Reader, width, height int) *FrameReader {
	return &FrameReader{r: r, width: width, height: height}
}

// ReadFrame blocks for the next full frame. Each frame gets a fresh buffer:
// ownership passes to the caller. io.EOF means the stream closed cleanly on
// a frame boundary; io.ErrUnexpectedEOF means it died mid-frame.
func (fr *FrameReader) ReadFrame() (*types.Frame, error) {
	f := types.NewFrame(fr.width, fr.height)
	if _, err := io.ReadFull(fr.r, f.Data); err != nil {
		return nil, err
	}

	fr.seq++
	f.Seq = fr.seq
	f.Timestamp = time.Now()
	f.TraceID = uuid.NewString()
	return f, nil
}

// FrameWriter writes raw frames to a pixel byte stream.
type FrameWriter struct {
	w       io.Writer
	written uint64
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes the frame's pixels. Blocking is deliberate: the encoder
// consuming this pipe throttles the sender to true camera rate.
func (fw *FrameWriter) WriteFrame(f *types.Frame) error {
	if len(f.Data) != f.Size() {
		return fmt.Errorf("frame data length %d does not match %dx%d", len(f.Data), f.Width, f.Height)
	}
	if _, err := fw.w.Write(f.Data); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", f.Seq, err)
	}
	fw.written++
	return nil
}

// Written returns the number of frames written.
func (fw *FrameWriter) Written() uint64 { return fw.written }
