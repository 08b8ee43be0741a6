package component

import (
	"github.com/zsiec/vdec/internal/omx"
)

func (c *Component) handleCommand(ev event) {
	cmd := omx.Command(ev.param1)
	var err error
	switch cmd {
	case omx.CmdStateSet:
		err = c.requestState(omx.State(ev.param2))
	case omx.CmdFlush:
		err = c.requestFlush(omx.PortIndex(ev.param2), ev.reply)
		if err == nil {
			// The reply is sent when the flush drains.
			return
		}
	case omx.CmdPortDisable:
		err = c.requestDisable(omx.PortIndex(ev.param2))
	case omx.CmdPortEnable:
		err = c.requestEnable(omx.PortIndex(ev.param2))
	default:
		err = omx.ErrBadParameter
	}
	if err != nil {
		c.log.Warn("command rejected", "command", cmd, "param", ev.param2, "error", err)
		c.fail(err)
	}
	ev.respond(result{err: err})
}

// requestState validates a transition and either completes it or records
// it as pending.
func (c *Component) requestState(target omx.State) error {
	cur := c.State()
	switch {
	case target == cur:
		return omx.ErrSameState
	case target == omx.StateInvalid:
		return omx.ErrIllegalTransition
	case c.pending != transitionNone:
		return omx.ErrIncorrectState
	}

	switch {
	case cur == omx.StateLoaded && target == omx.StateIdle:
		c.pending = transitionToIdle
		c.log.Info("transition pending", "to", target)
		c.checkToIdle()
	case cur == omx.StateIdle && target == omx.StateExecuting:
		c.setState(omx.StateExecuting)
		c.ack(omx.CmdStateSet, int(omx.StateExecuting))
	case cur == omx.StateIdle && target == omx.StateLoaded:
		c.pending = transitionToLoaded
		c.log.Info("transition pending", "to", target)
		c.checkToLoaded()
	case cur == omx.StateExecuting && target == omx.StateIdle:
		c.pending = transitionExecToIdle
		c.beginFlush(c.enabledPorts())
		c.checkExecToIdle()
	default:
		return omx.ErrIllegalTransition
	}
	return nil
}

// enabledPorts returns the ports that can hold buffers. A disabled port
// has drained, or is draining, through its own flush.
func (c *Component) enabledPorts() []*port {
	var ports []*port
	for _, p := range c.ports {
		if p.enabled() {
			ports = append(ports, p)
		}
	}
	return ports
}

// checkToIdle completes a pending LOADED→IDLE transition once every
// enabled port is populated.
func (c *Component) checkToIdle() {
	if c.pending != transitionToIdle {
		return
	}
	for _, p := range c.ports {
		if !p.ready() {
			return
		}
	}
	c.pending = transitionNone
	if err := c.startEngine(); err != nil {
		c.log.Error("starting engine", "error", err)
		c.fail(err)
		return
	}
	c.setState(omx.StateIdle)
	c.ack(omx.CmdStateSet, int(omx.StateIdle))
}

// checkToLoaded completes a pending IDLE→LOADED transition once both
// ports are unpopulated.
func (c *Component) checkToLoaded() {
	if c.pending != transitionToLoaded {
		return
	}
	for _, p := range c.ports {
		if !p.unpopulated {
			return
		}
	}
	c.pending = transitionNone
	if err := c.stopEngine(); err != nil {
		c.log.Error("stopping engine", "error", err)
		c.fail(err)
	}
	c.ts.Reset()
	c.setState(omx.StateLoaded)
	c.ack(omx.CmdStateSet, int(omx.StateLoaded))
}

// checkExecToIdle completes a pending EXECUTING→IDLE transition once no
// port is flushing.
func (c *Component) checkExecToIdle() {
	if c.pending != transitionExecToIdle {
		return
	}
	for _, p := range c.ports {
		if p.flushing {
			return
		}
	}
	c.pending = transitionNone
	c.setState(omx.StateIdle)
	c.ack(omx.CmdStateSet, int(omx.StateIdle))
}

// enterInvalid moves the component to INVALID after a fatal engine error.
// Blocked flush callers are released and the client is told once.
func (c *Component) enterInvalid(cause error) {
	if c.State() == omx.StateInvalid {
		return
	}
	c.log.Error("component invalid", "error", cause)
	c.setState(omx.StateInvalid)
	c.pending = transitionNone
	for _, p := range c.ports {
		for _, w := range p.waiters {
			if w.remaining > 0 {
				w.remaining = 0
				w.reply <- result{err: omx.ErrInvalidState}
			}
		}
		p.waiters = nil
		p.flushing = false
		p.pendingEnable = false
		p.pendingDisable = false
	}
	c.fail(omx.ErrInvalidState)
}
