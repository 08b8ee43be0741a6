package probe

import (
	"github.com/zsiec/vdec/internal/bitstream"
	"github.com/zsiec/vdec/internal/engine"
	"github.com/zsiec/vdec/internal/omx"
)

// decode consumes queued input while output buffers are available. It
// runs with e.mu held and only queues callbacks.
func (e *Engine) decode() {
	for e.started && !e.awaiting && len(e.inputs) > 0 {
		in := e.inputs[0]
		info := bitstream.Inspect(e.cfg.Codec, in.Payload())

		if info.SPS != nil && !e.applySPS(info.SPS) {
			// The access unit is decoded after the client has
			// renegotiated output buffers and restarted the engine.
			return
		}

		eos := in.Flags.Has(omx.FlagEOS)
		if info.VCL == 0 && !eos {
			e.consume(in)
			continue
		}
		if len(e.outputs) == 0 {
			return
		}
		out := e.outputs[0]
		e.outputs = e.outputs[1:]
		e.consume(in)

		out.Offset = 0
		out.Length = 0
		out.Flags = in.Flags & omx.FlagEOS
		out.Timestamp = in.Timestamp
		if info.VCL > 0 {
			e.fill(out, info)
		}
		e.emitOutput(out)
		if eos {
			e.log.Info("end of stream", "frames", e.frames)
		}
	}
}

// applySPS compares a parameter set with the current geometry. It reports
// false when a coded-size change requires reconfiguration.
func (e *Engine) applySPS(nal []byte) bool {
	sps, err := bitstream.ParseSPSFor(e.cfg.Codec, nal)
	if err != nil {
		e.log.Warn("unparseable SPS", "error", err)
		return true
	}
	g := GeometryOf(sps)
	switch {
	case g.Stride != e.geom.Stride || g.SliceHeight != e.geom.SliceHeight:
		e.pending = g
		e.awaiting = true
		e.log.Info("coded size changed",
			"from_width", e.geom.Width, "from_height", e.geom.Height,
			"to_width", g.Width, "to_height", g.Height,
		)
		e.emitEvent(engine.Event{Kind: engine.EventReconfigure})
		return false
	case g.Crop != e.geom.Crop:
		e.geom = g
		e.log.Info("crop changed", "crop", g.Crop)
		e.emitEvent(engine.Event{Kind: engine.EventDimensionsUpdated, Crop: g.Crop})
	}
	return true
}

func (e *Engine) consume(in *engine.Buffer) {
	e.inputs = e.inputs[1:]
	in.Length = 0
	e.emitInput(in)
}

// fill marks out as holding one decoded picture.
func (e *Engine) fill(out *engine.Buffer, info bitstream.AccessUnitInfo) {
	size := min(e.geom.FrameSize(), len(out.Data))
	out.Length = size
	if info.Keyframe {
		out.Flags |= omx.FlagKeyFrame
	}
	e.frames++

	if !e.cfg.RetainReference || !out.Meta || out.FD < 0 {
		return
	}
	e.dropReference()
	out.Flags |= omx.FlagReadOnly
	e.refFD = out.FD
}
