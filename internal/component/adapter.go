package component

import (
	"github.com/zsiec/vdec/internal/engine"
	"github.com/zsiec/vdec/internal/eventq"
	"github.com/zsiec/vdec/internal/omx"
)

// sink turns engine callbacks into queued events. Returned input travels
// on the input queue, returned output on the output queue and
// notifications on the command queue.
type sink struct {
	c *Component
}

func (s sink) InputConsumed(buf *engine.Buffer) {
	s.c.post(eventq.ClassInput, event{id: evInputDone, param1: int(omx.PortInput), ebuf: buf})
}

func (s sink) OutputProduced(buf *engine.Buffer) {
	s.c.post(eventq.ClassOutput, event{id: evOutputDone, param1: int(omx.PortOutput), ebuf: buf})
}

func (s sink) Event(ev engine.Event) {
	s.c.post(eventq.ClassCommand, event{id: evEngine, eng: ev})
}

func (c *Component) startEngine() error {
	if c.engineStarted {
		return nil
	}
	if err := c.engine.Start(); err != nil {
		return &engine.OpError{Op: "start", Err: err}
	}
	c.engineStarted = true
	c.stats.engineStarts.Add(1)
	c.log.Info("engine started")
	return nil
}

func (c *Component) stopEngine() error {
	if !c.engineStarted {
		return nil
	}
	c.engineStarted = false
	if err := c.engine.Stop(); err != nil {
		return &engine.OpError{Op: "stop", Err: err}
	}
	c.log.Info("engine stopped")
	return nil
}
