package component

import (
	"fmt"

	"github.com/zsiec/vdec/internal/alloc"
	"github.com/zsiec/vdec/internal/engine"
	"github.com/zsiec/vdec/internal/omx"
)

// canRegister reports whether buffers may be registered on p: in LOADED,
// on a disabled port, or while an enable waits for population.
func (c *Component) canRegister(p *port) bool {
	return c.State() == omx.StateLoaded || !p.enabled() || p.pendingEnable
}

func (c *Component) handleRegister(ev event) (*omx.BufferHeader, error) {
	idx := omx.PortIndex(ev.param1)
	p := c.ports[idx]
	if !c.canRegister(p) {
		return nil, omx.ErrIncorrectState
	}
	def := p.definition()
	if p.registered >= def.CountActual {
		return nil, fmt.Errorf("component: %s port holds %d buffers: %w",
			idx, p.registered, omx.ErrInsufficientResources)
	}
	if ev.param2 < def.BufferSize {
		return nil, fmt.Errorf("component: buffer of %d bytes below port minimum %d: %w",
			ev.param2, def.BufferSize, omx.ErrBadParameter)
	}

	var mem alloc.Memory
	data := ev.mem
	fd := -1
	if data == nil {
		m, err := c.alloc.Allocate(ev.param2, def.Alignment)
		if err != nil {
			return nil, fmt.Errorf("component: allocating %d bytes: %v: %w",
				ev.param2, err, omx.ErrInsufficientResources)
		}
		mem, data, fd = m, m.Bytes(), m.FD()
	}

	handle := c.nextHandle.Add(1)
	hdr := omx.NewBufferHeader(handle, idx, data)
	c.regs[idx].add(&entry{
		hdr:    hdr,
		mem:    mem,
		ebuf:   &engine.Buffer{Cookie: handle, Data: data, FD: fd},
		metaFD: -1,
	})
	c.log.Debug("buffer registered", "port", idx, "handle", handle, "size", len(data), "allocated", mem != nil)

	if p.addBuffer() {
		c.log.Info("port populated", "port", idx, "buffers", p.registered)
		c.onPopulated(p)
	}
	return hdr, nil
}

func (c *Component) onPopulated(p *port) {
	if p.pendingEnable {
		c.completeEnable(p)
	}
	c.checkToIdle()
}

func (c *Component) handleRelease(ev event) error {
	idx := omx.PortIndex(ev.param1)
	p := c.ports[idx]
	e, ok := c.regs[idx].validate(ev.buf)
	if !ok {
		return omx.ErrBadParameter
	}
	if p.enabled() && c.State() == omx.StateExecuting {
		return omx.ErrIncorrectState
	}
	if e.hdr.Owner() != omx.OwnerClient {
		return omx.ErrIncorrectState
	}

	c.regs[idx].remove(e.hdr.Handle())
	if e.mem != nil {
		if err := e.mem.Free(); err != nil {
			c.log.Warn("freeing buffer memory", "port", idx, "handle", e.hdr.Handle(), "error", err)
		}
	}
	wasPopulated, empty := p.removeBuffer()
	c.log.Debug("buffer released", "port", idx, "handle", e.hdr.Handle(), "remaining", p.registered)

	if wasPopulated && p.enabled() && c.State() == omx.StateIdle && c.pending != transitionToLoaded {
		c.fail(omx.ErrPortUnpopulated)
	}
	if empty {
		c.log.Info("port unpopulated", "port", idx)
		c.tryCompleteDisable(p)
		c.checkToLoaded()
	}
	return nil
}

func (c *Component) handleSetDefinition(ev event) error {
	idx := omx.PortIndex(ev.param1)
	p := c.ports[idx]
	if c.State() != omx.StateLoaded && p.enabled() {
		return omx.ErrIncorrectState
	}
	if p.registered > 0 {
		return omx.ErrIncorrectState
	}
	cur := p.definition()
	if ev.def.CountActual < cur.CountMin || ev.def.BufferSize < cur.BufferSize {
		return omx.ErrBadParameter
	}
	p.update(func(def *omx.PortDefinition) {
		def.CountActual = ev.def.CountActual
		def.BufferSize = ev.def.BufferSize
	})
	c.log.Info("port definition set", "port", idx, "count", ev.def.CountActual, "size", ev.def.BufferSize)
	return nil
}

// accepting reports whether submissions on p may reach the engine.
func (c *Component) accepting(p *port) bool {
	st := c.State()
	return (st == omx.StateIdle || st == omx.StateExecuting) && p.enabled() && !p.flushing
}

func (c *Component) handleEmptyBuffer(ev event) {
	p := c.ports[omx.PortInput]
	e, ok := c.regs[omx.PortInput].validate(ev.buf)
	if !ok {
		c.log.Warn("unknown input buffer", "handle", ev.buf.Handle())
		return
	}
	if !c.accepting(p) {
		c.bounce(omx.PortInput, e)
		return
	}
	hdr := e.hdr
	if hdr.FilledLen == 0 && !hdr.Flags.Has(omx.FlagEOS) {
		c.stats.zeroLength.Add(1)
		c.log.Debug("bouncing empty input", "handle", hdr.Handle())
		c.bounce(omx.PortInput, e)
		return
	}

	e.ebuf.Data = hdr.Data
	e.ebuf.Offset = hdr.Offset
	e.ebuf.Length = hdr.FilledLen
	e.ebuf.Flags = hdr.Flags
	e.ebuf.Timestamp = hdr.Timestamp
	if err := c.engine.SubmitInput(e.ebuf); err != nil {
		c.bounce(omx.PortInput, e)
		c.fail(&engine.OpError{Op: "submit input", Err: err})
		return
	}
	e.atEngine = true
	if !c.cfg.ZeroTimestamps && hdr.FilledLen > 0 && !hdr.Flags.Has(omx.FlagCodecConfig) {
		c.ts.Push(hdr.Timestamp)
	}
}

func (c *Component) handleFillBuffer(ev event) {
	p := c.ports[omx.PortOutput]
	e, ok := c.regs[omx.PortOutput].validate(ev.buf)
	if !ok {
		c.log.Warn("unknown output buffer", "handle", ev.buf.Handle())
		return
	}
	if !c.accepting(p) {
		c.bounce(omx.PortOutput, e)
		return
	}

	hdr := e.hdr
	e.ebuf.Data = hdr.Data
	e.ebuf.FD = -1
	e.ebuf.Meta = false
	if e.mem != nil {
		e.ebuf.FD = e.mem.FD()
	}
	e.metaFD = -1
	if m := hdr.Meta; m != nil {
		data, err := c.meta.Acquire(m.FD, m.Size)
		if err != nil {
			c.bounce(omx.PortOutput, e)
			c.fail(fmt.Errorf("component: mapping meta-buffer fd %d: %v: %w",
				m.FD, err, omx.ErrInsufficientResources))
			return
		}
		e.ebuf.Data, e.ebuf.FD, e.ebuf.Meta = data, m.FD, true
		e.metaFD = m.FD
	}
	e.ebuf.Offset = 0
	e.ebuf.Length = 0
	e.ebuf.Flags = 0
	e.ebuf.Timestamp = 0

	if err := c.engine.SubmitOutput(e.ebuf); err != nil {
		c.releaseMeta(e)
		c.bounce(omx.PortOutput, e)
		c.fail(&engine.OpError{Op: "submit output", Err: err})
		return
	}
	e.atEngine = true
}

// bounce returns a submitted buffer without decoding it: input as-is,
// output with zero length.
func (c *Component) bounce(idx omx.PortIndex, e *entry) {
	if idx == omx.PortOutput {
		e.hdr.Offset = 0
		e.hdr.FilledLen = 0
		e.hdr.Flags = 0
	}
	c.giveBack(idx, e)
}

func (c *Component) handleInputDone(ev event) {
	e := c.regs[omx.PortInput].lookup(ev.ebuf.Cookie)
	if e == nil {
		c.log.Warn("engine returned unknown input", "cookie", ev.ebuf.Cookie)
		return
	}
	if !e.atEngine {
		c.log.Warn("engine returned reclaimed input", "handle", e.hdr.Handle())
		return
	}
	e.hdr.FilledLen = ev.ebuf.Length
	c.giveBack(omx.PortInput, e)
}

func (c *Component) handleOutputDone(ev event) {
	e := c.regs[omx.PortOutput].lookup(ev.ebuf.Cookie)
	if e == nil {
		c.log.Warn("engine returned unknown output", "cookie", ev.ebuf.Cookie)
		return
	}
	if !e.atEngine {
		c.log.Warn("engine returned reclaimed output", "handle", e.hdr.Handle())
		return
	}
	p := c.ports[omx.PortOutput]
	hdr, eb := e.hdr, ev.ebuf
	hdr.Offset = eb.Offset
	hdr.FilledLen = eb.Length
	hdr.Flags = eb.Flags
	hdr.Timestamp = eb.Timestamp
	if p.flushing {
		hdr.FilledLen = 0
	}
	if hdr.FilledLen > 0 {
		hdr.Timestamp = c.nextTimestamp()
	}
	if !hdr.Flags.Has(omx.FlagReadOnly) {
		c.releaseMeta(e)
	}
	e.metaFD = -1
	c.giveBack(omx.PortOutput, e)
}

// nextTimestamp assigns the presentation timestamp of the next non-empty
// output frame.
func (c *Component) nextTimestamp() int64 {
	if c.cfg.ZeroTimestamps {
		return 0
	}
	ts, ok := c.ts.Pop()
	if !ok {
		c.stats.timestampUnderflow.Add(1)
		c.log.Warn("timestamp queue empty, reusing previous", "timestamp", c.lastTimestamp)
		return c.lastTimestamp
	}
	c.lastTimestamp = ts
	return ts
}

func (c *Component) releaseMeta(e *entry) {
	if e.metaFD < 0 {
		return
	}
	if _, err := c.meta.Release(e.metaFD); err != nil {
		c.log.Warn("releasing meta-buffer", "fd", e.metaFD, "error", err)
	}
	e.metaFD = -1
}

// giveBack flips ownership to the client, invokes the return callback and
// rechecks any flush waiting on the port.
func (c *Component) giveBack(idx omx.PortIndex, e *entry) {
	e.atEngine = false
	if !e.hdr.Claim(omx.OwnerComponent, omx.OwnerClient) {
		c.log.Warn("buffer returned twice", "port", idx, "handle", e.hdr.Handle())
		return
	}
	p := c.ports[idx]
	p.inFlight.Add(-1)
	if idx == omx.PortInput {
		c.stats.inputReturned.Add(1)
		c.client.OnInputReturned(e.hdr)
	} else {
		c.stats.outputReturned.Add(1)
		if e.hdr.Flags.Has(omx.FlagEOS) {
			c.log.Info("end of stream", "port", idx)
			c.client.OnEndOfStream(idx, e.hdr.Flags)
		}
		c.client.OnOutputReturned(e.hdr)
	}
	c.checkFlush(p)
}
