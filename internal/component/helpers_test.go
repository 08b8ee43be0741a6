package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/vdec/internal/engine"
	"github.com/zsiec/vdec/internal/omx"
)

const waitTimeout = 2 * time.Second

// fakeEngine holds submitted buffers until a test returns them.
type fakeEngine struct {
	mu      sync.Mutex
	sink    engine.Sink
	inputs  []*engine.Buffer
	outputs []*engine.Buffer
	req     engine.Requirements

	starts  int
	stops   int
	flushes []engine.FlushKind
	closed  bool

	startErr  error
	submitErr error
	flushErr  error
	// holdFlush defers flush completion until finishFlush.
	holdFlush bool
}

func newFakeFactory(fe *fakeEngine) engine.Factory {
	return func(sink engine.Sink) (engine.Engine, error) {
		fe.sink = sink
		return fe, nil
	}
}

func (f *fakeEngine) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeEngine) Flush(kind engine.FlushKind) error {
	f.mu.Lock()
	f.flushes = append(f.flushes, kind)
	if f.flushErr != nil || f.holdFlush {
		err := f.flushErr
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	f.finishFlush(kind)
	return nil
}

// finishFlush returns held buffers of kind and raises flush-done.
func (f *fakeEngine) finishFlush(kind engine.FlushKind) {
	f.mu.Lock()
	var ins, outs []*engine.Buffer
	if kind == engine.FlushInput || kind == engine.FlushAll {
		ins, f.inputs = f.inputs, nil
	}
	if kind == engine.FlushOutput || kind == engine.FlushAll {
		outs, f.outputs = f.outputs, nil
	}
	f.mu.Unlock()

	for _, b := range ins {
		f.sink.InputConsumed(b)
	}
	for _, b := range outs {
		b.Length = 0
		f.sink.OutputProduced(b)
	}
	done := map[engine.FlushKind]engine.EventKind{
		engine.FlushInput:  engine.EventFlushInputDone,
		engine.FlushOutput: engine.EventFlushOutputDone,
		engine.FlushAll:    engine.EventFlushAllDone,
	}
	f.sink.Event(engine.Event{Kind: done[kind]})
}

func (f *fakeEngine) flushKinds() []engine.FlushKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.FlushKind(nil), f.flushes...)
}

func (f *fakeEngine) SubmitInput(b *engine.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.inputs = append(f.inputs, b)
	return nil
}

func (f *fakeEngine) SubmitOutput(b *engine.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.outputs = append(f.outputs, b)
	return nil
}

func (f *fakeEngine) OutputRequirements() engine.Requirements {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.req
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEngine) held() (inputs, outputs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs), len(f.outputs)
}

func (f *fakeEngine) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

// consumeInputs returns every held input.
func (f *fakeEngine) consumeInputs() {
	f.mu.Lock()
	ins := f.inputs
	f.inputs = nil
	f.mu.Unlock()
	for _, b := range ins {
		b.Length = 0
		f.sink.InputConsumed(b)
	}
}

// produce fills the oldest held output with n bytes.
func (f *fakeEngine) produce(t *testing.T, n int, flags omx.Flags) *engine.Buffer {
	t.Helper()
	f.mu.Lock()
	if len(f.outputs) == 0 {
		f.mu.Unlock()
		t.Fatal("no output buffer held by engine")
	}
	b := f.outputs[0]
	f.outputs = f.outputs[1:]
	f.mu.Unlock()
	b.Offset = 0
	b.Length = n
	b.Flags = flags
	f.sink.OutputProduced(b)
	return b
}

type callback struct {
	kind   string
	cmd    omx.Command
	param  int
	code   omx.Error
	buf    *omx.BufferHeader
	filled int
	ts     int64
	flags  omx.Flags
	crop   omx.Crop
}

// recorder is an omx.Client that logs every callback in order.
type recorder struct {
	mu    sync.Mutex
	log   []callback
	taken []bool
}

func (r *recorder) add(cb callback) {
	r.mu.Lock()
	r.log = append(r.log, cb)
	r.taken = append(r.taken, false)
	r.mu.Unlock()
}

func (r *recorder) OnCommandComplete(cmd omx.Command, param int) {
	r.add(callback{kind: "command", cmd: cmd, param: param})
}

func (r *recorder) OnError(code omx.Error) {
	r.add(callback{kind: "error", code: code})
}

func (r *recorder) OnInputReturned(b *omx.BufferHeader) {
	r.add(callback{kind: "input", buf: b, filled: b.FilledLen, ts: b.Timestamp, flags: b.Flags})
}

func (r *recorder) OnOutputReturned(b *omx.BufferHeader) {
	r.add(callback{kind: "output", buf: b, filled: b.FilledLen, ts: b.Timestamp, flags: b.Flags})
}

func (r *recorder) OnEndOfStream(p omx.PortIndex, flags omx.Flags) {
	r.add(callback{kind: "eos", param: int(p), flags: flags})
}

func (r *recorder) OnPortSettingsChanged(p omx.PortIndex) {
	r.add(callback{kind: "settings", param: int(p)})
}

func (r *recorder) OnOutputCropChanged(crop omx.Crop) {
	r.add(callback{kind: "crop", crop: crop})
}

// take waits for the first untaken callback matching pred.
func (r *recorder) take(t *testing.T, what string, pred func(callback) bool) callback {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		r.mu.Lock()
		for i, cb := range r.log {
			if !r.taken[i] && pred(cb) {
				r.taken[i] = true
				r.mu.Unlock()
				return cb
			}
		}
		r.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (r *recorder) takeCommand(t *testing.T, cmd omx.Command, param int) {
	t.Helper()
	r.take(t, fmt.Sprintf("%s(%d) ack", cmd, param), func(cb callback) bool {
		return cb.kind == "command" && cb.cmd == cmd && cb.param == param
	})
}

func (r *recorder) takeError(t *testing.T, code omx.Error) {
	t.Helper()
	r.take(t, code.Error(), func(cb callback) bool {
		return cb.kind == "error" && cb.code == code
	})
}

func (r *recorder) takeKind(t *testing.T, kind string) callback {
	t.Helper()
	return r.take(t, kind, func(cb callback) bool { return cb.kind == kind })
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, cb := range r.log {
		if cb.kind == kind {
			n++
		}
	}
	return n
}

// commands counts acknowledgements of cmd for param.
func (r *recorder) commands(cmd omx.Command, param int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, cb := range r.log {
		if cb.kind == "command" && cb.cmd == cmd && cb.param == param {
			n++
		}
	}
	return n
}

// kinds returns the callback kinds recorded so far, in order.
func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.log))
	for i, cb := range r.log {
		out[i] = cb.kind
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type harness struct {
	c   *Component
	eng *fakeEngine
	rec *recorder
	ctx context.Context
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InputBufferCount = 3
	cfg.InputBufferSize = 64
	cfg.OutputBufferCount = 3
	cfg.Geometry = GeometryFor(16, 16)
	return cfg
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	eng := &fakeEngine{}
	rec := &recorder{}
	c, err := New(cfg, rec, newFakeFactory(eng))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return &harness{c: c, eng: eng, rec: rec, ctx: context.Background()}
}

func (h *harness) populate(t *testing.T, idx omx.PortIndex) []*omx.BufferHeader {
	t.Helper()
	def, err := h.c.PortDefinition(idx)
	if err != nil {
		t.Fatalf("PortDefinition: %v", err)
	}
	bufs := make([]*omx.BufferHeader, 0, def.CountActual)
	for range def.CountActual {
		b, err := h.c.AllocateBuffer(h.ctx, idx, def.BufferSize)
		if err != nil {
			t.Fatalf("AllocateBuffer(%s): %v", idx, err)
		}
		bufs = append(bufs, b)
	}
	return bufs
}

func (h *harness) release(t *testing.T, bufs []*omx.BufferHeader) {
	t.Helper()
	for _, b := range bufs {
		if err := h.c.ReleaseBuffer(h.ctx, b); err != nil {
			t.Fatalf("ReleaseBuffer: %v", err)
		}
	}
}

// executing drives a fresh component to EXECUTING and returns its buffers.
func (h *harness) executing(t *testing.T) (in, out []*omx.BufferHeader) {
	t.Helper()
	if err := h.c.RequestState(h.ctx, omx.StateIdle); err != nil {
		t.Fatalf("RequestState(idle): %v", err)
	}
	in = h.populate(t, omx.PortInput)
	out = h.populate(t, omx.PortOutput)
	h.rec.takeCommand(t, omx.CmdStateSet, int(omx.StateIdle))
	if err := h.c.RequestState(h.ctx, omx.StateExecuting); err != nil {
		t.Fatalf("RequestState(executing): %v", err)
	}
	h.rec.takeCommand(t, omx.CmdStateSet, int(omx.StateExecuting))
	return in, out
}

func (h *harness) submitInput(t *testing.T, b *omx.BufferHeader, payload []byte, ts int64, flags omx.Flags) {
	t.Helper()
	n := copy(b.Data, payload)
	b.Offset = 0
	b.FilledLen = n
	b.Timestamp = ts
	b.Flags = flags
	if err := h.c.SubmitInput(b); err != nil {
		t.Fatalf("SubmitInput: %v", err)
	}
}

func (h *harness) submitOutputs(t *testing.T, bufs []*omx.BufferHeader) {
	t.Helper()
	_, held := h.eng.held()
	want := held + len(bufs)
	for _, b := range bufs {
		if err := h.c.SubmitOutput(b); err != nil {
			t.Fatalf("SubmitOutput: %v", err)
		}
	}
	eventually(t, "engine to hold outputs", func() bool {
		_, n := h.eng.held()
		return n >= want
	})
}

func isCode(err error, code omx.Error) bool {
	return errors.Is(err, code)
}

// messageCounter is a slog.Handler that counts records by message.
type messageCounter struct {
	mu sync.Mutex
	n  map[string]int
}

func newMessageCounter() *messageCounter {
	return &messageCounter{n: make(map[string]int)}
}

func (m *messageCounter) Enabled(context.Context, slog.Level) bool { return true }

func (m *messageCounter) Handle(_ context.Context, r slog.Record) error {
	m.mu.Lock()
	m.n[r.Message]++
	m.mu.Unlock()
	return nil
}

func (m *messageCounter) WithAttrs([]slog.Attr) slog.Handler { return m }
func (m *messageCounter) WithGroup(string) slog.Handler      { return m }

func (m *messageCounter) count(msg string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n[msg]
}
