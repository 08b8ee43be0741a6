package probe

import (
	"sync"
	"testing"
	"time"

	"github.com/zsiec/vdec/internal/bitstream"
	"github.com/zsiec/vdec/internal/bitstream/bitstreamtest"
	"github.com/zsiec/vdec/internal/engine"
	"github.com/zsiec/vdec/internal/omx"
)

type record struct {
	kind   string
	buf    *engine.Buffer
	length int
	flags  omx.Flags
	ts     int64
	ev     engine.Event
}

type recordingSink struct {
	mu   sync.Mutex
	recs []record
}

func (s *recordingSink) add(r record) {
	s.mu.Lock()
	s.recs = append(s.recs, r)
	s.mu.Unlock()
}

func (s *recordingSink) InputConsumed(b *engine.Buffer) {
	s.add(record{kind: "input", buf: b, length: b.Length})
}

func (s *recordingSink) OutputProduced(b *engine.Buffer) {
	s.add(record{kind: "output", buf: b, length: b.Length, flags: b.Flags, ts: b.Timestamp})
}

func (s *recordingSink) Event(ev engine.Event) {
	s.add(record{kind: ev.Kind.String(), ev: ev})
}

func (s *recordingSink) wait(t *testing.T, kind string, n int) []record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		var out []record
		for _, r := range s.recs {
			if r.kind == kind {
				out = append(out, r)
			}
		}
		s.mu.Unlock()
		if len(out) >= n {
			return out
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %s records, have %d", n, kind, len(out))
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *recordingSink) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.recs {
		if r.kind == kind {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	e := New(cfg, sink)
	t.Cleanup(func() { e.Close() })
	return e, sink
}

func inputBuf(cookie uint64, data []byte, ts int64, flags omx.Flags) *engine.Buffer {
	return &engine.Buffer{Cookie: cookie, Data: data, Length: len(data), FD: -1, Timestamp: ts, Flags: flags}
}

func outputBuf(cookie uint64, size int) *engine.Buffer {
	return &engine.Buffer{Cookie: cookie, Data: make([]byte, size), FD: -1}
}

func TestDecodeProducesOneFramePerPicture(t *testing.T) {
	t.Parallel()
	e, sink := newTestEngine(t, DefaultConfig())
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	size := e.OutputRequirements().BufferSize

	b := bitstreamtest.AnnexB
	units := []*engine.Buffer{
		inputBuf(1, b(bitstreamtest.H264SPS(320, 240), bitstreamtest.H264PPS()), 0, omx.FlagCodecConfig),
		inputBuf(2, b(bitstreamtest.H264Slice(true, true)), 40, 0),
		inputBuf(3, b(bitstreamtest.H264Slice(false, true)), 80, 0),
	}
	for i := range 2 {
		e.SubmitOutput(outputBuf(uint64(10+i), size))
	}
	for _, u := range units {
		e.SubmitInput(u)
	}

	outs := sink.wait(t, "output", 2)
	sink.wait(t, "input", 3)
	if outs[0].length != size || outs[0].ts != 40 || !outs[0].flags.Has(omx.FlagKeyFrame) {
		t.Errorf("first frame = %+v", outs[0])
	}
	if outs[1].ts != 80 || outs[1].flags.Has(omx.FlagKeyFrame) {
		t.Errorf("second frame = %+v", outs[1])
	}
	if e.Frames() != 2 {
		t.Errorf("Frames = %d, want 2", e.Frames())
	}
}

func TestDecodeWaitsForOutputBuffers(t *testing.T) {
	t.Parallel()
	e, sink := newTestEngine(t, DefaultConfig())
	e.Start()
	e.SubmitInput(inputBuf(1, bitstreamtest.AnnexB(bitstreamtest.H264Slice(true, true)), 0, 0))

	time.Sleep(10 * time.Millisecond)
	if n := sink.count("input"); n != 0 {
		t.Fatalf("input consumed without an output buffer")
	}
	e.SubmitOutput(outputBuf(9, e.OutputRequirements().BufferSize))
	sink.wait(t, "output", 1)
	sink.wait(t, "input", 1)
}

func TestStoppedEngineHoldsInput(t *testing.T) {
	t.Parallel()
	e, sink := newTestEngine(t, DefaultConfig())
	e.SubmitOutput(outputBuf(9, e.OutputRequirements().BufferSize))
	e.SubmitInput(inputBuf(1, bitstreamtest.AnnexB(bitstreamtest.H264Slice(true, true)), 0, 0))

	time.Sleep(10 * time.Millisecond)
	if n := sink.count("output"); n != 0 {
		t.Fatal("stopped engine produced output")
	}
	e.Start()
	sink.wait(t, "output", 1)
}

func TestCodedSizeChangeRequestsReconfiguration(t *testing.T) {
	t.Parallel()
	e, sink := newTestEngine(t, DefaultConfig())
	e.Start()
	e.SubmitOutput(outputBuf(9, e.OutputRequirements().BufferSize))

	b := bitstreamtest.AnnexB
	e.SubmitInput(inputBuf(1, b(bitstreamtest.H264SPS(640, 480), bitstreamtest.H264PPS(), bitstreamtest.H264Slice(true, true)), 0, 0))
	sink.wait(t, engine.EventReconfigure.String(), 1)

	req := e.OutputRequirements()
	if req.Geometry.Width != 640 || req.Geometry.Height != 480 || req.BufferSize != 640*480*3/2 {
		t.Fatalf("requirements = %+v", req)
	}
	if n := sink.count("input"); n != 0 {
		t.Fatal("input consumed before restart")
	}

	// The client drains old buffers, stops, and restarts with new ones.
	e.Flush(engine.FlushOutput)
	sink.wait(t, engine.EventFlushOutputDone.String(), 1)
	e.Stop()
	e.SubmitOutput(outputBuf(20, req.BufferSize))
	e.Start()

	outs := sink.wait(t, "output", 2)
	if outs[0].length != 0 {
		t.Errorf("flushed output length = %d", outs[0].length)
	}
	if outs[1].buf.Cookie != 20 || outs[1].length != req.BufferSize {
		t.Errorf("decoded into %d with %d bytes", outs[1].buf.Cookie, outs[1].length)
	}
	if n := sink.count(engine.EventReconfigure.String()); n != 1 {
		t.Errorf("reconfigure events = %d, want 1", n)
	}
}

func TestCropOnlyChange(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Geometry = GeometryOf(bitstream.SPSInfo{CodedWidth: 1920, CodedHeight: 1088, Width: 1920, Height: 1088})
	e, sink := newTestEngine(t, cfg)
	e.Start()
	e.SubmitOutput(outputBuf(9, e.OutputRequirements().BufferSize))

	e.SubmitInput(inputBuf(1, bitstreamtest.AnnexB(bitstreamtest.H264SPS(1920, 1080), bitstreamtest.H264Slice(true, true)), 0, 0))
	evs := sink.wait(t, engine.EventDimensionsUpdated.String(), 1)
	want := omx.Crop{Width: 1920, Height: 1080}
	if evs[0].ev.Crop != want {
		t.Errorf("crop = %+v, want %+v", evs[0].ev.Crop, want)
	}
	sink.wait(t, "output", 1)
	if n := sink.count(engine.EventReconfigure.String()); n != 0 {
		t.Errorf("crop change triggered %d reconfigurations", n)
	}
}

func TestMetaBufferReferenceRetention(t *testing.T) {
	t.Parallel()
	e, sink := newTestEngine(t, DefaultConfig())
	e.Start()
	size := e.OutputRequirements().BufferSize

	for i, fd := range []int{5, 6} {
		out := outputBuf(uint64(i), size)
		out.FD, out.Meta = fd, true
		e.SubmitOutput(out)
	}
	slice := bitstreamtest.AnnexB(bitstreamtest.H264Slice(false, true))
	e.SubmitInput(inputBuf(1, slice, 0, 0))
	e.SubmitInput(inputBuf(2, slice, 1, 0))

	outs := sink.wait(t, "output", 2)
	for i, o := range outs {
		if !o.flags.Has(omx.FlagReadOnly) {
			t.Errorf("output %d not read-only", i)
		}
	}
	rel := sink.wait(t, engine.EventReleaseReference.String(), 1)
	if rel[0].ev.FD != 5 {
		t.Errorf("released fd %d, want 5", rel[0].ev.FD)
	}

	e.Flush(engine.FlushAll)
	rel = sink.wait(t, engine.EventReleaseReference.String(), 2)
	if rel[1].ev.FD != 6 {
		t.Errorf("flush released fd %d, want 6", rel[1].ev.FD)
	}
	sink.wait(t, engine.EventFlushAllDone.String(), 1)
}

func TestFlushReturnsHeldBuffers(t *testing.T) {
	t.Parallel()
	e, sink := newTestEngine(t, DefaultConfig())
	size := e.OutputRequirements().BufferSize
	e.SubmitOutput(outputBuf(1, size))
	e.SubmitOutput(outputBuf(2, size))
	e.SubmitInput(inputBuf(3, bitstreamtest.AnnexB(bitstreamtest.H264Slice(true, true)), 0, 0))

	if err := e.Flush(engine.FlushInput); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	sink.wait(t, engine.EventFlushInputDone.String(), 1)
	if n := sink.count("input"); n != 1 {
		t.Errorf("inputs returned = %d, want 1", n)
	}
	if n := sink.count("output"); n != 0 {
		t.Errorf("input flush returned %d outputs", n)
	}

	e.Flush(engine.FlushOutput)
	outs := sink.wait(t, "output", 2)
	for _, o := range outs {
		if o.length != 0 {
			t.Errorf("flushed output length = %d", o.length)
		}
	}
}

func TestEndOfStreamWithoutPicture(t *testing.T) {
	t.Parallel()
	e, sink := newTestEngine(t, DefaultConfig())
	e.Start()
	e.SubmitOutput(outputBuf(1, e.OutputRequirements().BufferSize))
	e.SubmitInput(inputBuf(2, nil, 0, omx.FlagEOS))

	outs := sink.wait(t, "output", 1)
	if outs[0].length != 0 || !outs[0].flags.Has(omx.FlagEOS) {
		t.Errorf("eos output = %+v", outs[0])
	}
}

func TestClosedEngineRejectsCalls(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, DefaultConfig())
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Start(); err != ErrClosed {
		t.Errorf("Start after Close = %v", err)
	}
	if err := e.SubmitInput(inputBuf(1, nil, 0, 0)); err != ErrClosed {
		t.Errorf("SubmitInput after Close = %v", err)
	}
}

func TestFactory(t *testing.T) {
	t.Parallel()
	eng, err := Factory(DefaultConfig())(&recordingSink{})
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}
	defer eng.Close()
	if got := eng.OutputRequirements().BufferCount; got != DefaultOutputCount {
		t.Errorf("BufferCount = %d", got)
	}
}
