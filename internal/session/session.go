// Package session drives one decoder component end to end for an Annex B
// byte stream. It frames the stream into access units, feeds them with
// synthetic timestamps, recycles output frames, performs the client half
// of output-port reconfiguration, and tears the component down at end of
// stream.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/ccx"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/vdec/internal/alloc"
	"github.com/zsiec/vdec/internal/bitstream"
	"github.com/zsiec/vdec/internal/component"
	"github.com/zsiec/vdec/internal/engine"
	"github.com/zsiec/vdec/internal/engine/probe"
	"github.com/zsiec/vdec/internal/omx"
)

// DefaultFrameRate is used when Config.FrameRate is unset.
const DefaultFrameRate = 30.0

const (
	readBufferSize = 64 << 10
	unitQueueDepth = 8
	stopTimeout    = 5 * time.Second
)

// Config configures a Session.
type Config struct {
	Codec bitstream.Codec
	// FrameRate paces the synthetic input timestamps, in frames per second.
	FrameRate float64
	Component component.Config
	// Engine builds the decode engine. If nil, a probe engine for Codec
	// is used.
	Engine engine.Factory
	// MetaBuffers backs every output frame with a memfd handed to the
	// component as a meta-buffer rather than the registered memory.
	MetaBuffers bool
	// OnCaption receives decoded CEA-608 caption text. It is called from
	// the session goroutine.
	OnCaption func(*ccx.CaptionFrame)
	Log       *slog.Logger
}

// DefaultConfig returns an H.264 configuration at DefaultFrameRate.
func DefaultConfig() Config {
	return Config{
		Codec:     bitstream.H264,
		FrameRate: DefaultFrameRate,
		Component: component.DefaultConfig(),
	}
}

type phase int32

const (
	phaseStarting phase = iota
	phaseRunning
	phaseDisabling
	phaseEnabling
	phaseStopping
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseStarting:
		return "starting"
	case phaseRunning:
		return "running"
	case phaseDisabling:
		return "disabling-output"
	case phaseEnabling:
		return "enabling-output"
	case phaseStopping:
		return "stopping"
	default:
		return "done"
	}
}

// Session decodes a single stream.
type Session struct {
	log       *slog.Logger
	key       string
	cfg       Config
	inbox     *inbox
	comp      atomic.Pointer[component.Component]
	startedAt time.Time
	phase     atomic.Int32

	// Owned by the goroutine running the component protocol.
	inputs   []*omx.BufferHeader
	outputs  []*omx.BufferHeader
	freeIn   []*omx.BufferHeader
	heldOut  []*omx.BufferHeader
	pictures int64
	eosSent  bool
	eos      bool
	sps      *bitstream.SPSInfo
	cc608    map[int]*ccx.CEA608Decoder
	meta     map[*omx.BufferHeader]alloc.Memory

	units            atomic.Int64
	bytes            atomic.Int64
	dropped          atomic.Int64
	frames           atomic.Int64
	keyframes        atomic.Int64
	reconfigurations atomic.Int64
	cropChanges      atomic.Int64
	captionPairs     atomic.Int64
	errors           atomic.Int64
	lastTimestamp    atomic.Int64

	mu   sync.Mutex
	info streamInfo
}

type streamInfo struct {
	profile     string
	codedWidth  int
	codedHeight int
	timecode    string
	lastCaption string
	lastError   string
}

// New creates a session for the stream identified by key.
func New(key string, cfg Config) *Session {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if cfg.Engine == nil {
		pc := probe.DefaultConfig()
		pc.Codec = cfg.Codec
		pc.Log = cfg.Log
		cfg.Engine = probe.Factory(pc)
	}
	log := cfg.Log.With("component", "session", "stream", key)
	cfg.Component.Name = key
	cfg.Component.Log = cfg.Log

	s := &Session{
		log:       log,
		key:       key,
		cfg:       cfg,
		inbox:     newInbox(),
		startedAt: time.Now(),
		meta:      make(map[*omx.BufferHeader]alloc.Memory),
		cc608: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
	}
	return s
}

// Key returns the stream key.
func (s *Session) Key() string { return s.key }

// Run decodes r until end of stream or until ctx is cancelled, then tears
// the component down. A Session runs once.
func (s *Session) Run(ctx context.Context, r io.Reader) error {
	comp, err := component.New(s.cfg.Component, s.inbox, s.cfg.Engine)
	if err != nil {
		return fmt.Errorf("session %s: %w", s.key, err)
	}
	s.comp.Store(comp)

	runErr := s.start(ctx)
	if runErr == nil {
		units := make(chan []byte, unitQueueDepth)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return s.split(gctx, r, units)
		})
		g.Go(func() error {
			return s.feed(gctx, units)
		})
		runErr = g.Wait()
	}

	if err := s.stop(); err != nil {
		s.log.Warn("teardown incomplete", "error", err)
	}
	if err := comp.Close(); err != nil {
		s.log.Warn("closing component", "error", err)
	}
	for b := range s.meta {
		s.detachMeta(b)
	}
	s.setPhase(phaseDone)
	s.log.Info("session ended",
		"frames", s.frames.Load(),
		"units", s.units.Load(),
		"reconfigurations", s.reconfigurations.Load(),
	)
	return runErr
}

// start registers every buffer and walks the component to EXECUTING.
func (s *Session) start(ctx context.Context) error {
	comp := s.comp.Load()
	if err := comp.RequestState(ctx, omx.StateIdle); err != nil {
		return fmt.Errorf("request idle: %w", err)
	}
	var err error
	if s.inputs, err = s.allocate(ctx, omx.PortInput); err != nil {
		return err
	}
	s.freeIn = append(s.freeIn, s.inputs...)
	if s.outputs, err = s.allocate(ctx, omx.PortOutput); err != nil {
		return err
	}
	s.heldOut = append(s.heldOut, s.outputs...)
	if err := s.await(ctx, stateAck(omx.StateIdle)); err != nil {
		return fmt.Errorf("await idle: %w", err)
	}

	if err := comp.RequestState(ctx, omx.StateExecuting); err != nil {
		return fmt.Errorf("request executing: %w", err)
	}
	if err := s.await(ctx, stateAck(omx.StateExecuting)); err != nil {
		return fmt.Errorf("await executing: %w", err)
	}
	s.setPhase(phaseRunning)
	s.log.Info("decoding", "inputs", len(s.inputs), "outputs", len(s.outputs))
	return s.submitHeldOutputs()
}

// allocate registers CountActual buffers of the port's buffer size.
func (s *Session) allocate(ctx context.Context, idx omx.PortIndex) ([]*omx.BufferHeader, error) {
	comp := s.comp.Load()
	def, err := comp.PortDefinition(idx)
	if err != nil {
		return nil, err
	}
	bufs := make([]*omx.BufferHeader, 0, def.CountActual)
	for range def.CountActual {
		b, err := comp.AllocateBuffer(ctx, idx, def.BufferSize)
		if err != nil {
			return bufs, fmt.Errorf("allocate %s buffer: %w", idx, err)
		}
		bufs = append(bufs, b)
	}
	return bufs, nil
}

// stop walks the component back to LOADED, releasing every buffer.
func (s *Session) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	s.setPhase(phaseStopping)
	comp := s.comp.Load()

	if comp.State() == omx.StateExecuting {
		if err := comp.RequestState(ctx, omx.StateIdle); err != nil {
			return fmt.Errorf("request idle: %w", err)
		}
		if err := s.await(ctx, stateAck(omx.StateIdle)); err != nil {
			return fmt.Errorf("await idle: %w", err)
		}
	}
	if comp.State() != omx.StateIdle {
		return nil
	}
	if err := comp.RequestState(ctx, omx.StateLoaded); err != nil {
		return fmt.Errorf("request loaded: %w", err)
	}
	var errs []error
	for _, b := range append(s.inputs, s.outputs...) {
		if err := comp.ReleaseBuffer(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	s.inputs, s.outputs, s.freeIn, s.heldOut = nil, nil, nil, nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("release buffers: %w", err)
	}
	return s.await(ctx, stateAck(omx.StateLoaded))
}

func stateAck(st omx.State) func(note) bool {
	return func(n note) bool {
		return n.kind == noteCommand && n.cmd == omx.CmdStateSet && omx.State(n.param) == st
	}
}

// await processes callbacks until one satisfies match.
func (s *Session) await(ctx context.Context, match func(note) bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.inbox.ready:
		}
		matched := false
		for _, n := range s.inbox.drain() {
			if err := s.handle(ctx, n); err != nil {
				return err
			}
			if match(n) {
				matched = true
			}
		}
		if matched {
			return nil
		}
	}
}

func (s *Session) setPhase(p phase) {
	s.phase.Store(int32(p))
}

func (s *Session) currentPhase() phase {
	return phase(s.phase.Load())
}
