// Package probe implements a software decode engine that parses parameter
// sets to track output geometry and emits one output frame per coded
// picture without reconstructing pixels. It exercises the full component
// protocol: reconfiguration on a coded-size change, crop updates,
// meta-buffer reference retention, and flush.
package probe

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/zsiec/vdec/internal/alloc"
	"github.com/zsiec/vdec/internal/bitstream"
	"github.com/zsiec/vdec/internal/engine"
	"github.com/zsiec/vdec/internal/omx"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("probe: engine closed")

// DefaultOutputCount is the number of output buffers requested.
const DefaultOutputCount = 4

// Config configures an Engine.
type Config struct {
	Codec bitstream.Codec
	// Geometry is assumed until the first SPS arrives.
	Geometry omx.Geometry
	// OutputCount is the minimum number of output buffers.
	OutputCount int
	// RetainReference keeps the last meta-buffer frame as a reference.
	RetainReference bool
	Log             *slog.Logger
}

// DefaultConfig returns an H.264 configuration for 320×240 output.
func DefaultConfig() Config {
	return Config{
		Codec:           bitstream.H264,
		Geometry:        GeometryOf(bitstream.SPSInfo{CodedWidth: 320, CodedHeight: 240, Width: 320, Height: 240}),
		OutputCount:     DefaultOutputCount,
		RetainReference: true,
	}
}

// GeometryOf returns the output geometry for a parsed SPS.
func GeometryOf(sps bitstream.SPSInfo) omx.Geometry {
	return omx.Geometry{
		Width:       sps.Width,
		Height:      sps.Height,
		Stride:      alloc.AlignUp(sps.CodedWidth, 16),
		SliceHeight: alloc.AlignUp(sps.CodedHeight, 16),
		Crop: omx.Crop{
			Left:   sps.CropLeft,
			Top:    sps.CropTop,
			Width:  sps.Width,
			Height: sps.Height,
		},
	}
}

// Engine is a probe decode engine. Sink callbacks are delivered in order
// from the engine's own goroutine.
type Engine struct {
	log  *slog.Logger
	cfg  Config
	sink engine.Sink

	mu       sync.Mutex
	inputs   []*engine.Buffer
	outputs  []*engine.Buffer
	outbox   []func()
	geom     omx.Geometry
	pending  omx.Geometry
	started  bool
	awaiting bool // reconfiguration announced, held until Start
	closed   bool
	refFD    int
	frames   int64

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Factory returns an engine.Factory that builds probe engines from cfg.
func Factory(cfg Config) engine.Factory {
	return func(sink engine.Sink) (engine.Engine, error) {
		return New(cfg, sink), nil
	}
}

// New creates an engine bound to sink and starts its callback goroutine.
func New(cfg Config, sink engine.Sink) *Engine {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.OutputCount <= 0 {
		cfg.OutputCount = DefaultOutputCount
	}
	if cfg.Geometry.Stride == 0 {
		cfg.Geometry = DefaultConfig().Geometry
	}
	e := &Engine{
		log:   cfg.Log.With("component", "probe", "codec", cfg.Codec),
		cfg:   cfg,
		sink:  sink,
		geom:  cfg.Geometry,
		refFD: -1,
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		case <-e.wake:
		}
		e.mu.Lock()
		e.decode()
		box := e.outbox
		e.outbox = nil
		e.mu.Unlock()
		for _, fn := range box {
			fn()
		}
	}
}

// Start resumes decoding and adopts a geometry announced by a
// reconfiguration.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.awaiting {
		e.geom = e.pending
		e.awaiting = false
		e.log.Info("adopted new geometry", "width", e.geom.Width, "height", e.geom.Height)
	}
	e.started = true
	e.signal()
	return nil
}

// Stop pauses decoding. Held buffers stay with the engine.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.started = false
	return nil
}

// Flush returns held buffers of kind and then raises the matching
// flush-done event.
func (e *Engine) Flush(kind engine.FlushKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if kind == engine.FlushInput || kind == engine.FlushAll {
		for _, b := range e.inputs {
			b.Length = 0
			e.emitInput(b)
		}
		e.inputs = nil
	}
	if kind == engine.FlushOutput || kind == engine.FlushAll {
		for _, b := range e.outputs {
			b.Length = 0
			b.Flags = 0
			e.emitOutput(b)
		}
		e.outputs = nil
		e.dropReference()
	}

	done := engine.EventFlushAllDone
	switch kind {
	case engine.FlushInput:
		done = engine.EventFlushInputDone
	case engine.FlushOutput:
		done = engine.EventFlushOutputDone
	}
	e.emitEvent(engine.Event{Kind: done})
	e.log.Debug("flushed", "kind", kind)
	e.signal()
	return nil
}

// SubmitInput queues an access unit.
func (e *Engine) SubmitInput(b *engine.Buffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.inputs = append(e.inputs, b)
	e.signal()
	return nil
}

// SubmitOutput queues an empty frame buffer.
func (e *Engine) SubmitOutput(b *engine.Buffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.outputs = append(e.outputs, b)
	e.signal()
	return nil
}

// OutputRequirements reports the geometry the next Start will use.
func (e *Engine) OutputRequirements() engine.Requirements {
	e.mu.Lock()
	defer e.mu.Unlock()
	g := e.geom
	if e.awaiting {
		g = e.pending
	}
	return engine.Requirements{
		Geometry:    g,
		BufferSize:  g.FrameSize(),
		BufferCount: e.cfg.OutputCount,
	}
}

// Frames returns the number of pictures produced.
func (e *Engine) Frames() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// Close stops the callback goroutine. Undelivered callbacks are dropped.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.quit)
		<-e.done
	})
	return nil
}

func (e *Engine) emitInput(b *engine.Buffer) {
	e.outbox = append(e.outbox, func() { e.sink.InputConsumed(b) })
}

func (e *Engine) emitOutput(b *engine.Buffer) {
	e.outbox = append(e.outbox, func() { e.sink.OutputProduced(b) })
}

func (e *Engine) emitEvent(ev engine.Event) {
	e.outbox = append(e.outbox, func() { e.sink.Event(ev) })
}

func (e *Engine) dropReference() {
	if e.refFD < 0 {
		return
	}
	e.emitEvent(engine.Event{Kind: engine.EventReleaseReference, FD: e.refFD})
	e.refFD = -1
}
