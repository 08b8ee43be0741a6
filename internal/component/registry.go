package component

import (
	"sync"

	"github.com/zsiec/vdec/internal/alloc"
	"github.com/zsiec/vdec/internal/engine"
	"github.com/zsiec/vdec/internal/omx"
)

// entry ties a client header to its backing memory and engine descriptor.
type entry struct {
	hdr  *omx.BufferHeader
	mem  alloc.Memory
	ebuf *engine.Buffer
	// metaFD is the meta-buffer fd referenced by the current submission,
	// or -1.
	metaFD int
	// atEngine is set while the engine holds ebuf.
	atEngine bool
}

// registry maps buffer handles to entries for one port. Only the worker
// goroutine mutates it; client goroutines perform lookups.
type registry struct {
	mu      sync.RWMutex
	entries map[uint64]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[uint64]*entry)}
}

func (r *registry) add(e *entry) {
	r.mu.Lock()
	r.entries[e.hdr.Handle()] = e
	r.mu.Unlock()
}

func (r *registry) lookup(handle uint64) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[handle]
}

// validate returns the entry for hdr if hdr is the header registered under
// its handle.
func (r *registry) validate(hdr *omx.BufferHeader) (*entry, bool) {
	if hdr == nil {
		return nil, false
	}
	e := r.lookup(hdr.Handle())
	if e == nil || e.hdr != hdr {
		return nil, false
	}
	return e, true
}

func (r *registry) remove(handle uint64) {
	r.mu.Lock()
	delete(r.entries, handle)
	r.mu.Unlock()
}

func (r *registry) all() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
