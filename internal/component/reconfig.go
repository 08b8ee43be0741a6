package component

import (
	"github.com/zsiec/vdec/internal/engine"
	"github.com/zsiec/vdec/internal/omx"
)

func (c *Component) requestDisable(idx omx.PortIndex) error {
	ports, err := c.portsFor(idx)
	if err != nil {
		return err
	}
	for _, p := range ports {
		if p.pendingEnable {
			return omx.ErrIncorrectState
		}
	}
	for _, p := range ports {
		if !p.enabled() {
			c.ack(omx.CmdPortDisable, int(p.index))
			continue
		}
		c.log.Info("disabling port", "port", p.index)
		p.pendingDisable = true
		c.beginFlush([]*port{p})
		p.setEnabled(false)
		c.checkFlush(p)
		c.tryCompleteDisable(p)
	}
	return nil
}

// tryCompleteDisable acknowledges a pending disable once the port has
// drained and every buffer has been released.
func (c *Component) tryCompleteDisable(p *port) {
	if !p.pendingDisable || p.flushing || !p.unpopulated {
		return
	}
	p.pendingDisable = false
	if p.index == omx.PortOutput {
		if err := c.stopEngine(); err != nil {
			c.log.Error("stopping engine", "error", err)
			c.fail(err)
		}
	}
	c.ack(omx.CmdPortDisable, int(p.index))
	c.checkToIdle()
}

func (c *Component) requestEnable(idx omx.PortIndex) error {
	ports, err := c.portsFor(idx)
	if err != nil {
		return err
	}
	for _, p := range ports {
		if p.pendingDisable {
			return omx.ErrIncorrectState
		}
	}
	for _, p := range ports {
		if p.enabled() {
			c.ack(omx.CmdPortEnable, int(p.index))
			continue
		}
		c.log.Info("enabling port", "port", p.index)
		p.setEnabled(true)
		if c.State() == omx.StateLoaded || p.populated() {
			c.completeEnable(p)
			continue
		}
		p.pendingEnable = true
	}
	return nil
}

// completeEnable acknowledges an enable. Re-enabling the output port
// restarts a stopped engine exactly once.
func (c *Component) completeEnable(p *port) {
	p.pendingEnable = false
	if p.index == omx.PortOutput {
		if st := c.State(); (st == omx.StateIdle || st == omx.StateExecuting) && !c.engineStarted {
			if err := c.startEngine(); err != nil {
				c.log.Error("restarting engine", "error", err)
				c.fail(err)
			}
		}
		if c.reconfiguring {
			c.reconfiguring = false
			c.log.Info("reconfiguration complete", "geometry", p.definition().Geometry)
		}
	}
	c.ack(omx.CmdPortEnable, int(p.index))
}

func (c *Component) handleEngineEvent(ev event) {
	e := ev.eng
	c.log.Debug("engine event", "kind", e.Kind)
	switch e.Kind {
	case engine.EventFlushInputDone:
		c.engineFlushDone(engine.FlushInput)
	case engine.EventFlushOutputDone:
		c.engineFlushDone(engine.FlushOutput)
	case engine.EventFlushAllDone:
		c.engineFlushDone(engine.FlushAll)
	case engine.EventReleaseReference:
		c.releaseReference(e.FD)
	case engine.EventReconfigure:
		c.reconfigure()
	case engine.EventDimensionsUpdated:
		c.ports[omx.PortOutput].update(func(def *omx.PortDefinition) {
			def.Geometry.Crop = e.Crop
		})
		c.log.Info("output crop changed", "crop", e.Crop)
		c.client.OnOutputCropChanged(e.Crop)
	case engine.EventFatal:
		c.enterInvalid(e.Err)
	default:
		c.log.Warn("unknown engine event", "kind", e.Kind)
	}
}

// releaseReference drops the engine's reference to a meta-buffer.
func (c *Component) releaseReference(fd int) {
	if _, err := c.meta.Release(fd); err != nil {
		c.log.Warn("engine released unknown reference", "fd", fd, "error", err)
	}
}

// reconfigure adopts the engine's new output requirements and asks the
// client to renegotiate the output port. A repeated request before the
// port is re-enabled only updates the definition; the client reads it
// after the disable completes.
func (c *Component) reconfigure() {
	req := c.engine.OutputRequirements()
	c.applyRequirements(req)
	if c.reconfiguring {
		c.log.Info("output requirements changed during reconfiguration",
			"width", req.Geometry.Width,
			"height", req.Geometry.Height,
		)
		return
	}
	c.reconfiguring = true
	c.stats.reconfigurations.Add(1)
	c.log.Info("output reconfiguration required",
		"width", req.Geometry.Width,
		"height", req.Geometry.Height,
		"buffer_size", req.BufferSize,
		"buffer_count", req.BufferCount,
	)
	c.client.OnPortSettingsChanged(omx.PortOutput)
}
