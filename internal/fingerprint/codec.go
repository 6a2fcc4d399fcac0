// Package fingerprint encodes a small frame counter into the top-left corner
// of a raw frame as a row of solid brightness cells, and recovers it from a
// frame that has been through a lossy encode/decode cycle.
//
// Each bit of the counter owns one CellSize×CellSize cell. A set bit paints
// its cell to full brightness, a clear bit to black. Large uniform blocks
// survive lossy video compression where per-pixel detail does not; the cell
// size must exceed the codec's macroblock unit (16 px for H.264).
package fingerprint

import (
	"errors"
	"fmt"

	"github.com/rdudhagra/avatar-streamer/internal/types"
)

// ErrInvalidFrameDimensions is returned when a frame cannot hold the
// configured region map. This is a configuration error: the orchestrator
// checks it once before the pipeline starts.
var ErrInvalidFrameDimensions = errors.New("frame smaller than fingerprint region map")

const (
	// DefaultBits yields a 32-value counter cycle
	DefaultBits = 5
	// DefaultCellSize exceeds the H.264 macroblock unit
	DefaultCellSize = 16
	// DefaultThreshold splits the 0-255 brightness range
	DefaultThreshold = 128
)

// Codec stamps and recovers fingerprint counters. The geometry must be
// identical on both ends of the link; both sides build it from the same
// config section.
type Codec struct {
	bits      int
	cellSize  int
	originX   int
	originY   int
	threshold int
}

// Config selects the codec geometry. Zero values fall back to defaults.
type Config struct {
	Bits      int `yaml:"bits"`
	CellSize  int `yaml:"cell_size"`
	OriginX   int `yaml:"origin_x"`
	OriginY   int `yaml:"origin_y"`
	Threshold int `yaml:"threshold"`
}

// New creates a codec from config.
func New(cfg Config) (*Codec, error) {
	if cfg.Bits == 0 {
		cfg.Bits = DefaultBits
	}
	if cfg.CellSize == 0 {
		cfg.CellSize = DefaultCellSize
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Bits < 1 || cfg.Bits > 16 {
		return nil, fmt.Errorf("fingerprint bits must be in [1,16], got %d", cfg.Bits)
	}
	if cfg.CellSize < 1 {
		return nil, fmt.Errorf("fingerprint cell size must be positive, got %d", cfg.CellSize)
	}
	if cfg.OriginX < 0 || cfg.OriginY < 0 {
		return nil, fmt.Errorf("fingerprint origin must be non-negative, got (%d,%d)", cfg.OriginX, cfg.OriginY)
	}
	if cfg.Threshold < 1 || cfg.Threshold > 254 {
		return nil, fmt.Errorf("fingerprint threshold must be in [1,254], got %d", cfg.Threshold)
	}
	return &Codec{
		bits:      cfg.Bits,
		cellSize:  cfg.CellSize,
		originX:   cfg.OriginX,
		originY:   cfg.OriginY,
		threshold: cfg.Threshold,
	}, nil
}

// Bits returns the counter bit width.
func (c *Codec) Bits() int { return c.bits }

// Mask returns the counter wraparound mask (2^bits - 1).
func (c *Codec) Mask() uint32 { return (1 << c.bits) - 1 }

// Advance returns the next counter value, wrapping at 2^bits.
func (c *Codec) Advance(counter uint32) uint32 {
	return (counter + 1) & c.Mask()
}

// CheckDimensions reports whether a width×height frame can hold the region
// map. Called once at startup so Encode never fails mid-stream.
func (c *Codec) CheckDimensions(width, height int) error {
	if c.originX+c.bits*c.cellSize > width || c.originY+c.cellSize > height {
		return fmt.Errorf("%w: need %dx%d at (%d,%d), frame is %dx%d",
			ErrInvalidFrameDimensions,
			c.bits*c.cellSize, c.cellSize, c.originX, c.originY, width, height)
	}
	return nil
}

// Encode paints the counter into the frame in place and returns the frame
// for chaining. Bit i of counter owns the i-th cell from the origin.
func (c *Codec) Encode(f *types.Frame, counter uint32) (*types.Frame, error) {
	if err := c.CheckDimensions(f.Width, f.Height); err != nil {
		return nil, err
	}

	for bit := 0; bit < c.bits; bit++ {
		var value byte
		if counter&(1<<bit) != 0 {
			value = 255
		}
		c.paintCell(f, bit, value)
	}
	return f, nil
}

// Decode reconstructs the counter from the frame's region map. It always
// produces a value; compression artifacts can flip a bit and yield a wrong
// counter, which the correlation layer absorbs as a lookup miss.
func (c *Codec) Decode(f *types.Frame) uint32 {
	var counter uint32
	for bit := 0; bit < c.bits; bit++ {
		if c.cellMean(f, bit) > c.threshold {
			counter |= 1 << bit
		}
	}
	return counter
}

func (c *Codec) paintCell(f *types.Frame, bit int, value byte) {
	x0 := c.originX + bit*c.cellSize
	stride := f.Width * 3
	for y := c.originY; y < c.originY+c.cellSize; y++ {
		row := f.Data[y*stride+x0*3 : y*stride+(x0+c.cellSize)*3]
		for i := range row {
			row[i] = value
		}
	}
}

// cellMean averages all three channels over the cell. Clamped to the frame
// so a misdelivered short frame degrades to a misdecode instead of a panic.
func (c *Codec) cellMean(f *types.Frame, bit int) int {
	x0 := c.originX + bit*c.cellSize
	x1 := x0 + c.cellSize
	y1 := c.originY + c.cellSize
	if x1 > f.Width {
		x1 = f.Width
	}
	if y1 > f.Height {
		y1 = f.Height
	}
	if x0 >= x1 || c.originY >= y1 {
		return 0
	}

	var sum, count int
	stride := f.Width * 3
	for y := c.originY; y < y1; y++ {
		row := f.Data[y*stride+x0*3 : y*stride+x1*3]
		for _, v := range row {
			sum += int(v)
		}
		count += len(row)
	}
	return sum / count
}
