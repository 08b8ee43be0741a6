package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/vdec/internal/alloc"
	"github.com/zsiec/vdec/internal/engine"
	"github.com/zsiec/vdec/internal/eventq"
	"github.com/zsiec/vdec/internal/metabuf"
	"github.com/zsiec/vdec/internal/omx"
	"github.com/zsiec/vdec/internal/reorder"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("component: closed")

type transition int

const (
	transitionNone transition = iota
	transitionToIdle
	transitionToLoaded
	transitionExecToIdle
)

// Component is a decoder component instance. All exported methods are safe
// for concurrent use.
type Component struct {
	log    *slog.Logger
	cfg    Config
	client omx.Client
	engine engine.Engine
	alloc  alloc.Allocator
	meta   *metabuf.Table
	ts     *reorder.Queue
	sched  *eventq.Scheduler[event]

	ports [omx.NumPorts]*port
	regs  [omx.NumPorts]*registry

	state      atomic.Int32
	nextHandle atomic.Uint64
	stats      counters

	// Worker-only state.
	pending       transition
	engineStarted bool
	// reconfiguring is set from a reconfiguration request until the output
	// port is enabled again.
	reconfiguring bool
	lastTimestamp int64

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates a component in the LOADED state, binds a decode engine built
// by factory, and starts the worker goroutine. Callbacks are delivered to
// client.
func New(cfg Config, client omx.Client, factory engine.Factory) (*Component, error) {
	if client == nil {
		return nil, fmt.Errorf("component: nil client: %w", omx.ErrBadParameter)
	}
	if factory == nil {
		return nil, fmt.Errorf("component: nil engine factory: %w", omx.ErrBadParameter)
	}
	cfg = cfg.withDefaults()

	c := &Component{
		log:    cfg.Log.With("component", "vdec", "name", cfg.Name),
		cfg:    cfg,
		client: client,
		alloc:  cfg.Allocator,
		ts:     reorder.New(),
		sched:  eventq.NewScheduler[event](),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.state.Store(int32(omx.StateInvalid))
	c.meta = metabuf.NewTable(cfg.Mapper, c.log)

	c.ports[omx.PortInput] = newPort(omx.PortDefinition{
		Port:        omx.PortInput,
		CountActual: cfg.InputBufferCount,
		CountMin:    1,
		BufferSize:  cfg.InputBufferSize,
		Alignment:   cfg.Alignment,
	})
	c.ports[omx.PortOutput] = newPort(omx.PortDefinition{
		Port:        omx.PortOutput,
		CountActual: cfg.OutputBufferCount,
		CountMin:    1,
		BufferSize:  cfg.Geometry.FrameSize(),
		Alignment:   cfg.Alignment,
		Geometry:    cfg.Geometry,
	})
	for i := range c.regs {
		c.regs[i] = newRegistry()
	}

	eng, err := factory(sink{c})
	if err != nil {
		return nil, &engine.OpError{Op: "create", Err: err}
	}
	c.engine = eng
	c.applyRequirements(eng.OutputRequirements())

	c.state.Store(int32(omx.StateLoaded))
	go c.run()

	c.log.Info("component created",
		"input_buffers", cfg.InputBufferCount,
		"output_buffers", c.ports[omx.PortOutput].countActual(),
	)
	return c, nil
}

// State returns the current state.
func (c *Component) State() omx.State {
	return omx.State(c.state.Load())
}

// PortDefinition returns the current definition of port.
func (c *Component) PortDefinition(idx omx.PortIndex) (omx.PortDefinition, error) {
	if !idx.Valid() {
		return omx.PortDefinition{}, omx.ErrBadPortIndex
	}
	return c.ports[idx].definition(), nil
}

// SetPortDefinition updates the buffer count and size of a port. It is
// legal in LOADED or while the port is disabled.
func (c *Component) SetPortDefinition(ctx context.Context, def omx.PortDefinition) error {
	if !def.Port.Valid() {
		return omx.ErrBadPortIndex
	}
	_, err := c.call(ctx, event{id: evSetDefinition, param1: int(def.Port), def: def})
	return err
}

// RequestState asks for a transition to s. It returns once the worker has
// accepted or rejected the request; the acknowledgement arrives through
// Client.OnCommandComplete and may be deferred until ports are populated,
// unpopulated, or flushed.
func (c *Component) RequestState(ctx context.Context, s omx.State) error {
	if s < omx.StateInvalid || s > omx.StateExecuting {
		return omx.ErrBadParameter
	}
	return c.command(ctx, omx.CmdStateSet, int(s))
}

// SetPortEnabled enables or disables a port (or PortAll). Disabling flushes
// in-flight buffers and is acknowledged once the port is unpopulated;
// enabling is acknowledged once the port is populated.
func (c *Component) SetPortEnabled(ctx context.Context, idx omx.PortIndex, enabled bool) error {
	if !idx.Valid() && idx != omx.PortAll {
		return omx.ErrBadPortIndex
	}
	cmd := omx.CmdPortDisable
	if enabled {
		cmd = omx.CmdPortEnable
	}
	return c.command(ctx, cmd, int(idx))
}

// Flush returns every in-flight buffer of a port (or PortAll) to the client
// without decoding it. It blocks until the flush has drained.
func (c *Component) Flush(ctx context.Context, idx omx.PortIndex) error {
	if !idx.Valid() && idx != omx.PortAll {
		return omx.ErrBadPortIndex
	}
	return c.command(ctx, omx.CmdFlush, int(idx))
}

// AllocateBuffer registers a component-allocated buffer of at least size
// bytes on a port.
func (c *Component) AllocateBuffer(ctx context.Context, idx omx.PortIndex, size int) (*omx.BufferHeader, error) {
	if !idx.Valid() {
		return nil, omx.ErrBadPortIndex
	}
	if size <= 0 {
		return nil, omx.ErrBadParameter
	}
	r, err := c.call(ctx, event{id: evRegister, param1: int(idx), param2: size})
	return r.buf, err
}

// UseBuffer registers client-supplied memory on a port. The component never
// frees it.
func (c *Component) UseBuffer(ctx context.Context, idx omx.PortIndex, mem []byte) (*omx.BufferHeader, error) {
	if !idx.Valid() {
		return nil, omx.ErrBadPortIndex
	}
	if len(mem) == 0 {
		return nil, omx.ErrBadParameter
	}
	r, err := c.call(ctx, event{id: evRegister, param1: int(idx), param2: len(mem), mem: mem})
	return r.buf, err
}

// ReleaseBuffer unregisters a client-owned buffer and frees memory the
// component allocated for it.
func (c *Component) ReleaseBuffer(ctx context.Context, buf *omx.BufferHeader) error {
	if buf == nil || !buf.Port().Valid() {
		return omx.ErrBadParameter
	}
	_, err := c.call(ctx, event{id: evRelease, param1: int(buf.Port()), buf: buf})
	return err
}

// SubmitInput hands a filled input buffer to the component ("empty this
// buffer"). It never blocks; the buffer comes back through
// Client.OnInputReturned.
func (c *Component) SubmitInput(buf *omx.BufferHeader) error {
	return c.submit(omx.PortInput, buf)
}

// SubmitOutput hands an empty output buffer to the component ("fill this
// buffer"). It never blocks; the buffer comes back through
// Client.OnOutputReturned.
func (c *Component) SubmitOutput(buf *omx.BufferHeader) error {
	return c.submit(omx.PortOutput, buf)
}

func (c *Component) submit(idx omx.PortIndex, buf *omx.BufferHeader) error {
	if buf == nil {
		return omx.ErrBadParameter
	}
	if buf.Port() != idx {
		return omx.ErrBadPortIndex
	}
	st := c.State()
	if st == omx.StateInvalid {
		return omx.ErrInvalidState
	}
	if _, ok := c.regs[idx].validate(buf); !ok {
		return omx.ErrBadParameter
	}
	if st != omx.StateIdle && st != omx.StateExecuting {
		return omx.ErrIncorrectState
	}
	p := c.ports[idx]
	if !p.enabled() {
		return omx.ErrIncorrectState
	}
	if idx == omx.PortInput {
		if buf.FilledLen < 0 || buf.Offset < 0 || buf.Offset+buf.FilledLen > buf.AllocLen {
			return omx.ErrBadParameter
		}
	}
	if !buf.Claim(omx.OwnerClient, omx.OwnerComponent) {
		return omx.ErrIncorrectState
	}

	p.inFlight.Add(1)
	id, class := evEmptyBuffer, eventq.ClassInput
	if idx == omx.PortOutput {
		id, class = evFillBuffer, eventq.ClassOutput
	}
	if err := c.sched.Push(class, event{id: id, param1: int(idx), buf: buf}); err != nil {
		p.inFlight.Add(-1)
		buf.Claim(omx.OwnerComponent, omx.OwnerClient)
		return ErrClosed
	}
	if idx == omx.PortInput {
		c.stats.inputSubmitted.Add(1)
	} else {
		c.stats.outputSubmitted.Add(1)
	}
	return nil
}

func (c *Component) command(ctx context.Context, cmd omx.Command, param int) error {
	_, err := c.call(ctx, event{id: evCommand, param1: int(cmd), param2: param})
	return err
}

// call queues ev on the command queue and blocks until the worker replies.
func (c *Component) call(ctx context.Context, ev event) (result, error) {
	if c.State() == omx.StateInvalid {
		return result{}, omx.ErrInvalidState
	}
	ev.reply = make(chan result, 1)
	if err := c.sched.Push(eventq.ClassCommand, ev); err != nil {
		return result{}, ErrClosed
	}
	select {
	case r := <-ev.reply:
		return r, r.err
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-c.done:
		return result{}, ErrClosed
	}
}

// Close stops the worker and the decode engine, frees component-allocated
// memory and meta-buffer mappings, and releases the engine last.
func (c *Component) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.done
		c.sched.Close()

		// The engine may still read buffers it holds until it is stopped.
		var errs []error
		if err := c.stopEngine(); err != nil {
			errs = append(errs, err)
		}
		for _, reg := range c.regs {
			for _, e := range reg.all() {
				if e.mem != nil {
					errs = append(errs, e.mem.Free())
				}
				reg.remove(e.hdr.Handle())
			}
		}
		errs = append(errs, c.meta.Clear())
		if err := c.engine.Close(); err != nil {
			errs = append(errs, &engine.OpError{Op: "close", Err: err})
		}
		c.closeErr = errors.Join(errs...)
		c.log.Info("component closed")
	})
	return c.closeErr
}

func (c *Component) setState(s omx.State) {
	prev := omx.State(c.state.Swap(int32(s)))
	c.log.Info("state changed", "from", prev, "to", s)
}

// applyRequirements folds engine output requirements into the output port
// definition.
func (c *Component) applyRequirements(req engine.Requirements) {
	c.ports[omx.PortOutput].update(func(def *omx.PortDefinition) {
		if req.Geometry.Width > 0 && req.Geometry.Height > 0 {
			def.Geometry = req.Geometry
		}
		size := max(req.BufferSize, def.Geometry.FrameSize())
		if size > 0 {
			def.BufferSize = size
		}
		if req.BufferCount > 0 {
			def.CountMin = req.BufferCount
			if def.CountActual < def.CountMin {
				def.CountActual = def.CountMin
			}
		}
	})
}
