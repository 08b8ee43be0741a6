package component

import (
	"log/slog"

	"github.com/zsiec/vdec/internal/alloc"
	"github.com/zsiec/vdec/internal/metabuf"
	"github.com/zsiec/vdec/internal/omx"
)

// Default port configuration.
const (
	DefaultInputBufferCount  = 4
	DefaultInputBufferSize   = 1 << 20
	DefaultOutputBufferCount = 6
	DefaultAlignment         = 64
	DefaultWidth             = 320
	DefaultHeight            = 240
)

// Config configures a Component.
type Config struct {
	// Name labels the component in logs.
	Name string

	InputBufferCount  int
	InputBufferSize   int
	OutputBufferCount int
	Alignment         int

	// Geometry is the initial output geometry, used until the engine
	// reports its own requirements.
	Geometry omx.Geometry

	// ZeroTimestamps disables timestamp reordering and stamps every
	// output frame with zero (trick-play).
	ZeroTimestamps bool

	// Log is the parent logger. If nil, slog.Default() is used.
	Log *slog.Logger
	// Allocator backs component-allocated buffers. If nil, alloc.Heap is
	// used.
	Allocator alloc.Allocator
	// Mapper maps meta-buffer fds. If nil, metabuf.MmapMapper is used.
	Mapper metabuf.Mapper
}

// DefaultConfig returns a Config with the default port layout.
func DefaultConfig() Config {
	return Config{
		Name:              "vdec",
		InputBufferCount:  DefaultInputBufferCount,
		InputBufferSize:   DefaultInputBufferSize,
		OutputBufferCount: DefaultOutputBufferCount,
		Alignment:         DefaultAlignment,
		Geometry:          GeometryFor(DefaultWidth, DefaultHeight),
	}
}

// GeometryFor returns the 16-aligned geometry of a width×height picture
// with a full-frame crop.
func GeometryFor(width, height int) omx.Geometry {
	return omx.Geometry{
		Width:       width,
		Height:      height,
		Stride:      alloc.AlignUp(width, 16),
		SliceHeight: alloc.AlignUp(height, 16),
		Crop:        omx.Crop{Width: width, Height: height},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.InputBufferCount <= 0 {
		c.InputBufferCount = d.InputBufferCount
	}
	if c.InputBufferSize <= 0 {
		c.InputBufferSize = d.InputBufferSize
	}
	if c.OutputBufferCount <= 0 {
		c.OutputBufferCount = d.OutputBufferCount
	}
	if c.Alignment <= 0 {
		c.Alignment = d.Alignment
	}
	if c.Geometry.Width <= 0 || c.Geometry.Height <= 0 {
		c.Geometry = d.Geometry
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Allocator == nil {
		c.Allocator = alloc.Heap{}
	}
	return c
}
