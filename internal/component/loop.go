package component

import (
	"errors"

	"github.com/zsiec/vdec/internal/engine"
	"github.com/zsiec/vdec/internal/eventq"
	"github.com/zsiec/vdec/internal/omx"
)

// run is the worker goroutine. It sleeps on the scheduler's wake signal
// and drains command, output and input events in that order until all
// queues are empty.
func (c *Component) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			return
		case <-c.sched.Ready():
		}
		for {
			select {
			case <-c.quit:
				return
			default:
			}
			ev, _, ok := c.sched.Pop()
			if !ok {
				break
			}
			c.dispatch(ev)
		}
	}
}

func (c *Component) dispatch(ev event) {
	c.log.Debug("dispatch", "event", ev.id, "p1", ev.param1, "p2", ev.param2)

	if c.State() == omx.StateInvalid {
		c.dispatchInvalid(ev)
		return
	}

	switch ev.id {
	case evCommand:
		c.handleCommand(ev)
	case evRegister:
		buf, err := c.handleRegister(ev)
		ev.respond(result{buf: buf, err: err})
	case evRelease:
		ev.respond(result{err: c.handleRelease(ev)})
	case evSetDefinition:
		ev.respond(result{err: c.handleSetDefinition(ev)})
	case evError:
		c.handleError(ev)
	case evEmptyBuffer:
		c.handleEmptyBuffer(ev)
	case evFillBuffer:
		c.handleFillBuffer(ev)
	case evInputDone:
		c.handleInputDone(ev)
	case evOutputDone:
		c.handleOutputDone(ev)
	case evEngine:
		c.handleEngineEvent(ev)
	default:
		c.log.Warn("unknown event", "event", ev.id)
	}
}

// dispatchInvalid handles events after a fatal error. Requests are
// rejected and buffers still travelling are handed back to the client.
func (c *Component) dispatchInvalid(ev event) {
	switch ev.id {
	case evError:
		c.handleError(ev)
	case evEmptyBuffer, evFillBuffer:
		if e, ok := c.regs[ev.param1].validate(ev.buf); ok {
			c.bounce(omx.PortIndex(ev.param1), e)
		}
	case evInputDone:
		c.handleInputDone(ev)
	case evOutputDone:
		c.handleOutputDone(ev)
	case evEngine:
		if ev.eng.Kind == engine.EventReleaseReference {
			c.releaseReference(ev.eng.FD)
		}
	default:
		ev.respond(result{err: omx.ErrInvalidState})
	}
}

func (c *Component) handleError(ev event) {
	code := omx.CodeOf(ev.err)
	c.log.Warn("reporting error", "code", code, "error", ev.err)
	c.client.OnError(code)
}

// fail reports err to the client through the error event path, which
// yields exactly one OnError call per failure.
func (c *Component) fail(err error) {
	c.stats.errors.Add(1)
	if perr := c.sched.Push(eventq.ClassCommand, event{id: evError, err: err}); perr != nil {
		c.log.Warn("dropping error after close", "error", err)
	}
}

// post queues an event produced off the worker goroutine.
func (c *Component) post(class eventq.Class, ev event) {
	if err := c.sched.Push(class, ev); err != nil {
		if errors.Is(err, eventq.ErrClosed) {
			c.log.Debug("dropping event after close", "event", ev.id)
			return
		}
		c.log.Error("posting event", "event", ev.id, "error", err)
	}
}

func (c *Component) ack(cmd omx.Command, param int) {
	c.log.Info("command complete", "command", cmd, "param", param)
	c.client.OnCommandComplete(cmd, param)
}
