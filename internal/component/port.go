package component

import (
	"sync"
	"sync/atomic"

	"github.com/zsiec/vdec/internal/omx"
)

// flushWaiter is a blocked Flush call waiting for remaining ports.
type flushWaiter struct {
	remaining int
	reply     chan result
}

// port holds per-port bookkeeping. The definition is guarded by mu because
// clients read it; everything below the inFlight counter belongs to the
// worker goroutine.
type port struct {
	index omx.PortIndex

	mu  sync.RWMutex
	def omx.PortDefinition

	// inFlight counts buffers submitted by the client and not yet
	// returned, including those still queued for the worker.
	inFlight atomic.Int32

	registered     int
	unpopulated    bool
	flushing       bool
	engineFlushed  bool
	pendingEnable  bool
	pendingDisable bool
	waiters        []*flushWaiter
}

func newPort(def omx.PortDefinition) *port {
	def.Enabled = true
	def.Populated = false
	return &port{
		index:       def.Port,
		def:         def,
		unpopulated: true,
	}
}

func (p *port) definition() omx.PortDefinition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.def
}

func (p *port) update(fn func(def *omx.PortDefinition)) {
	p.mu.Lock()
	fn(&p.def)
	p.mu.Unlock()
}

func (p *port) enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.def.Enabled
}

func (p *port) populated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.def.Populated
}

func (p *port) setEnabled(v bool) {
	p.update(func(def *omx.PortDefinition) { def.Enabled = v })
}

func (p *port) countActual() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.def.CountActual
}

// ready reports whether the port satisfies a populate-gated transition:
// disabled ports need no buffers.
func (p *port) ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.def.Enabled || p.def.Populated
}

// addBuffer records a registration and reports whether it completed
// population.
func (p *port) addBuffer() bool {
	p.registered++
	p.unpopulated = false
	if p.registered < p.countActual() || p.populated() {
		return false
	}
	p.update(func(def *omx.PortDefinition) { def.Populated = true })
	return true
}

// removeBuffer records a release. It reports whether the port was
// populated before and whether it is now empty.
func (p *port) removeBuffer() (wasPopulated, empty bool) {
	p.registered--
	wasPopulated = p.populated()
	if wasPopulated {
		p.update(func(def *omx.PortDefinition) { def.Populated = false })
	}
	if p.registered == 0 {
		p.unpopulated = true
	}
	return wasPopulated, p.unpopulated
}
