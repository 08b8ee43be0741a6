package component

import (
	"github.com/zsiec/vdec/internal/engine"
	"github.com/zsiec/vdec/internal/omx"
)

// portsFor expands a port argument into the ports it addresses.
func (c *Component) portsFor(idx omx.PortIndex) ([]*port, error) {
	switch {
	case idx == omx.PortAll:
		return c.ports[:], nil
	case idx.Valid():
		return []*port{c.ports[idx]}, nil
	default:
		return nil, omx.ErrBadPortIndex
	}
}

// requestFlush starts a client flush. reply receives the result once every
// addressed port has drained.
func (c *Component) requestFlush(idx omx.PortIndex, reply chan result) error {
	ports, err := c.portsFor(idx)
	if err != nil {
		return err
	}
	w := &flushWaiter{remaining: len(ports), reply: reply}
	for _, p := range ports {
		p.waiters = append(p.waiters, w)
	}
	c.log.Info("flush requested", "port", idx)
	c.beginFlush(ports)
	for _, p := range ports {
		c.checkFlush(p)
	}
	return nil
}

// beginFlush marks ports as flushing and asks the engine to return what it
// holds for them. Ports already flushing are not flushed again.
func (c *Component) beginFlush(ports []*port) {
	var fresh []*port
	for _, p := range ports {
		if p.flushing {
			continue
		}
		p.flushing = true
		p.engineFlushed = false
		if p.index == omx.PortInput {
			c.ts.Reset()
		}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		return
	}

	// Nothing can be held by the engine before the first transition to
	// IDLE.
	if st := c.State(); st != omx.StateIdle && st != omx.StateExecuting {
		for _, p := range fresh {
			p.engineFlushed = true
		}
		return
	}

	kinds := make([]engine.FlushKind, 0, 2)
	if len(fresh) == omx.NumPorts {
		kinds = append(kinds, engine.FlushAll)
	} else if fresh[0].index == omx.PortInput {
		kinds = append(kinds, engine.FlushInput)
	} else {
		kinds = append(kinds, engine.FlushOutput)
	}
	for _, k := range kinds {
		c.log.Debug("engine flush", "kind", k)
		if err := c.engine.Flush(k); err != nil {
			c.log.Error("engine flush", "kind", k, "error", err)
			c.fail(&engine.OpError{Op: "flush " + k.String(), Err: err})
			for _, p := range fresh {
				p.engineFlushed = true
			}
			for _, p := range fresh {
				c.reclaim(p)
				c.checkFlush(p)
			}
		}
	}
}

// reclaim returns every buffer the engine holds for p without waiting for
// the engine. Buffers still queued for the worker bounce when dispatched
// because p is flushing.
func (c *Component) reclaim(p *port) {
	n := 0
	for _, e := range c.regs[p.index].all() {
		if !e.atEngine {
			continue
		}
		if p.index == omx.PortOutput {
			c.releaseMeta(e)
		}
		c.bounce(p.index, e)
		n++
	}
	if n > 0 {
		c.log.Warn("reclaimed buffers from engine", "port", p.index, "count", n)
	}
}

// engineFlushDone records the engine's flush-done event for a kind.
func (c *Component) engineFlushDone(kind engine.FlushKind) {
	var ports []*port
	switch kind {
	case engine.FlushInput:
		ports = []*port{c.ports[omx.PortInput]}
	case engine.FlushOutput:
		ports = []*port{c.ports[omx.PortOutput]}
	default:
		ports = c.ports[:]
	}
	for _, p := range ports {
		if !p.flushing {
			continue
		}
		p.engineFlushed = true
		c.checkFlush(p)
	}
}

// checkFlush completes a flush once the engine has acknowledged it and
// every submitted buffer is back with the client.
func (c *Component) checkFlush(p *port) {
	if !p.flushing || !p.engineFlushed || p.inFlight.Load() != 0 {
		return
	}
	p.flushing = false
	p.engineFlushed = false
	c.stats.flushes.Add(1)
	c.log.Info("flush complete", "port", p.index)

	if len(p.waiters) > 0 {
		c.ack(omx.CmdFlush, int(p.index))
		for _, w := range p.waiters {
			w.remaining--
			if w.remaining == 0 {
				w.reply <- result{}
			}
		}
		p.waiters = nil
	}
	c.tryCompleteDisable(p)
	c.checkExecToIdle()
}
