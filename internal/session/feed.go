package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/zsiec/ccx"

	"github.com/zsiec/vdec/internal/alloc"
	"github.com/zsiec/vdec/internal/bitstream"
	"github.com/zsiec/vdec/internal/omx"
)

// split frames r into access units and closes units at end of input. A
// read error ends the stream the same way EOF does.
func (s *Session) split(ctx context.Context, r io.Reader, units chan<- []byte) error {
	defer close(units)
	sp := bitstream.NewSplitter(s.cfg.Codec)
	send := func(aus [][]byte) bool {
		for _, au := range aus {
			select {
			case units <- au:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 && !send(sp.Push(buf[:n])) {
			return nil
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("read error", "error", err)
			}
			break
		}
	}
	if last := sp.Flush(); last != nil {
		send([][]byte{last})
	}
	return nil
}

// feed submits access units as input buffers come back and finishes once
// the end-of-stream flag has reached the output port.
func (s *Session) feed(ctx context.Context, units <-chan []byte) error {
	inputDone := false
	for !s.eos {
		if inputDone && !s.eosSent && len(s.freeIn) > 0 {
			if err := s.submitEOS(); err != nil {
				return err
			}
			continue
		}

		var in <-chan []byte
		if !inputDone && len(s.freeIn) > 0 {
			in = units
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.inbox.ready:
			for _, n := range s.inbox.drain() {
				if err := s.handle(ctx, n); err != nil {
					return err
				}
			}
		case au, ok := <-in:
			if !ok {
				inputDone = true
				continue
			}
			if err := s.submitUnit(au); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) takeInput() *omx.BufferHeader {
	b := s.freeIn[len(s.freeIn)-1]
	s.freeIn = s.freeIn[:len(s.freeIn)-1]
	return b
}

func (s *Session) submitUnit(au []byte) error {
	info := bitstream.Inspect(s.cfg.Codec, au)
	ts := s.timestamp()
	s.observe(info, ts)

	b := s.takeInput()
	if len(au) > len(b.Data) {
		s.freeIn = append(s.freeIn, b)
		s.dropped.Add(1)
		s.log.Warn("access unit exceeds input buffer, dropped", "size", len(au), "capacity", len(b.Data))
		return nil
	}
	b.Offset = 0
	b.FilledLen = copy(b.Data, au)
	b.Timestamp = ts
	b.Flags = 0
	if info.ConfigOnly {
		b.Flags |= omx.FlagCodecConfig
	}
	if info.Keyframe {
		b.Flags |= omx.FlagKeyFrame
	}
	if info.VCL > 0 {
		s.pictures++
	}

	if err := s.comp.Load().SubmitInput(b); err != nil {
		s.freeIn = append(s.freeIn, b)
		return err
	}
	s.units.Add(1)
	s.bytes.Add(int64(len(au)))
	return nil
}

func (s *Session) submitEOS() error {
	b := s.takeInput()
	b.Offset, b.FilledLen = 0, 0
	b.Flags = omx.FlagEOS
	b.Timestamp = s.timestamp()
	if err := s.comp.Load().SubmitInput(b); err != nil {
		s.freeIn = append(s.freeIn, b)
		return err
	}
	s.eosSent = true
	s.log.Debug("end of stream submitted", "pictures", s.pictures)
	return nil
}

// timestamp returns the presentation time of the next picture in
// microseconds.
func (s *Session) timestamp() int64 {
	return int64(float64(s.pictures) * 1e6 / s.cfg.FrameRate)
}

// observe extracts stream metadata from an access unit before submission.
func (s *Session) observe(info bitstream.AccessUnitInfo, ts int64) {
	if info.SPS != nil {
		sps, err := bitstream.ParseSPSFor(s.cfg.Codec, info.SPS)
		if err != nil {
			s.log.Warn("unparseable SPS", "error", err)
		} else {
			s.sps = &sps
			s.mu.Lock()
			s.info.profile = sps.CodecString()
			s.info.codedWidth = sps.CodedWidth
			s.info.codedHeight = sps.CodedHeight
			s.mu.Unlock()
		}
	}
	for _, sei := range info.SEI {
		if s.sps != nil && s.cfg.Codec == bitstream.H264 {
			if tc, ok := bitstream.ParsePicTimingSEI(sei, *s.sps); ok {
				s.mu.Lock()
				s.info.timecode = tc.String()
				s.mu.Unlock()
			}
		}
		s.captions(sei, ts)
	}
}

func (s *Session) captions(sei []byte, ts int64) {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return
	}
	for _, pair := range cd.CC608Pairs {
		s.captionPairs.Add(1)
		dec := s.cc608[pair.Channel]
		if dec == nil {
			continue
		}
		text := dec.Decode(pair.Data[0], pair.Data[1])
		if text == "" {
			continue
		}
		s.mu.Lock()
		s.info.lastCaption = text
		s.mu.Unlock()
		if s.cfg.OnCaption != nil {
			frame := &ccx.CaptionFrame{PTS: ts, Text: text, Channel: pair.Channel}
			frame.Regions = dec.StyledRegions()
			s.cfg.OnCaption(frame)
		}
	}
}

// handle applies one component callback to the session's buffer
// bookkeeping.
func (s *Session) handle(ctx context.Context, n note) error {
	switch n.kind {
	case noteInput:
		s.freeIn = append(s.freeIn, n.buf)
	case noteOutput:
		return s.outputReturned(ctx, n.buf)
	case noteEOS:
		if n.port == omx.PortOutput {
			s.eos = true
		}
	case noteSettings:
		if n.port == omx.PortOutput && s.currentPhase() == phaseRunning {
			return s.disableOutput(ctx)
		}
	case noteCrop:
		s.cropChanges.Add(1)
		s.log.Info("crop changed", "crop", n.crop)
	case noteCommand:
		return s.commandComplete(ctx, n.cmd, omx.PortIndex(n.param))
	case noteError:
		s.errors.Add(1)
		s.mu.Lock()
		s.info.lastError = n.code.Error()
		s.mu.Unlock()
		if n.code == omx.ErrInvalidState {
			return n.code
		}
		s.log.Warn("component error", "error", n.code)
	}
	return nil
}

func (s *Session) outputReturned(ctx context.Context, b *omx.BufferHeader) error {
	if b.FilledLen > 0 {
		s.frames.Add(1)
		s.lastTimestamp.Store(b.Timestamp)
		if b.Flags.Has(omx.FlagKeyFrame) {
			s.keyframes.Add(1)
		}
	}

	switch s.currentPhase() {
	case phaseRunning:
		if b.Flags.Has(omx.FlagEOS) {
			s.heldOut = append(s.heldOut, b)
			return nil
		}
		return s.submitOutput(b)
	case phaseDisabling:
		return s.releaseOutput(ctx, b)
	default:
		s.heldOut = append(s.heldOut, b)
		return nil
	}
}

// disableOutput starts the client half of a reconfiguration: disable the
// output port and release its buffers as they come back.
func (s *Session) disableOutput(ctx context.Context) error {
	s.setPhase(phaseDisabling)
	s.log.Info("output settings changed, renegotiating buffers")
	if err := s.comp.Load().SetPortEnabled(ctx, omx.PortOutput, false); err != nil {
		return err
	}
	held := s.heldOut
	s.heldOut = nil
	for _, b := range held {
		if err := s.releaseOutput(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) releaseOutput(ctx context.Context, b *omx.BufferHeader) error {
	if err := s.comp.Load().ReleaseBuffer(ctx, b); err != nil {
		return err
	}
	s.detachMeta(b)
	s.outputs = slices.DeleteFunc(s.outputs, func(o *omx.BufferHeader) bool { return o == b })
	return nil
}

func (s *Session) commandComplete(ctx context.Context, cmd omx.Command, port omx.PortIndex) error {
	switch {
	case cmd == omx.CmdPortDisable && port == omx.PortOutput && s.currentPhase() == phaseDisabling:
		s.setPhase(phaseEnabling)
		if err := s.comp.Load().SetPortEnabled(ctx, omx.PortOutput, true); err != nil {
			return err
		}
		bufs, err := s.allocate(ctx, omx.PortOutput)
		s.outputs = append(s.outputs, bufs...)
		s.heldOut = append(s.heldOut, bufs...)
		return err
	case cmd == omx.CmdPortEnable && port == omx.PortOutput && s.currentPhase() == phaseEnabling:
		s.setPhase(phaseRunning)
		s.reconfigurations.Add(1)
		def, _ := s.comp.Load().PortDefinition(omx.PortOutput)
		s.log.Info("output renegotiated",
			"width", def.Geometry.Width,
			"height", def.Geometry.Height,
			"buffers", len(s.outputs),
		)
		return s.submitHeldOutputs()
	}
	return nil
}

func (s *Session) submitHeldOutputs() error {
	held := s.heldOut
	s.heldOut = nil
	for i, b := range held {
		if err := s.submitOutput(b); err != nil {
			s.heldOut = append(s.heldOut, held[i:]...)
			return err
		}
	}
	return nil
}

func (s *Session) submitOutput(b *omx.BufferHeader) error {
	if s.cfg.MetaBuffers {
		if err := s.attachMeta(b); err != nil {
			return err
		}
	}
	return s.comp.Load().SubmitOutput(b)
}

// attachMeta points b at a memfd large enough for the current output
// buffer size, replacing a smaller one.
func (s *Session) attachMeta(b *omx.BufferHeader) error {
	def, err := s.comp.Load().PortDefinition(omx.PortOutput)
	if err != nil {
		return err
	}
	if m, ok := s.meta[b]; ok && len(m.Bytes()) >= def.BufferSize {
		return nil
	}
	s.detachMeta(b)
	m, err := alloc.Memfd{Name: "vdec-meta"}.Allocate(def.BufferSize, def.Alignment)
	if err != nil {
		return fmt.Errorf("allocate meta-buffer: %w", err)
	}
	s.meta[b] = m
	b.Meta = &omx.MetaHandle{FD: m.FD(), Size: def.BufferSize}
	return nil
}

// detachMeta frees the memfd behind b. The component keeps its own
// mapping until the engine drops its reference.
func (s *Session) detachMeta(b *omx.BufferHeader) {
	m, ok := s.meta[b]
	if !ok {
		return
	}
	delete(s.meta, b)
	b.Meta = nil
	if err := m.Free(); err != nil {
		s.log.Warn("freeing meta-buffer", "error", err)
	}
}
