// Package metabuf reference-counts the shared memory behind meta-buffer
// output. A backing fd is mapped the first time it is acquired and
// unmapped exactly when its last reference is released. The table is the
// one piece of component state mutated off the worker goroutine, so it
// carries its own lock.
package metabuf

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrNotMapped is returned when releasing an fd that holds no reference.
var ErrNotMapped = errors.New("metabuf: fd not mapped")

// Mapper maps and unmaps shared memory.
type Mapper interface {
	Map(fd, size int) ([]byte, error)
	Unmap(b []byte) error
}

// MmapMapper maps fds read-write and shared with mmap(2).
type MmapMapper struct{}

// Map maps size bytes of fd.
func (MmapMapper) Map(fd, size int) ([]byte, error) {
	b, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap fd %d: %w", fd, err)
	}
	return b, nil
}

// Unmap releases a mapping returned by Map.
func (MmapMapper) Unmap(b []byte) error {
	return unix.Munmap(b)
}

type ref struct {
	fd    int
	count int
	data  []byte
}

// Table tracks one mapping per backing fd.
type Table struct {
	log    *slog.Logger
	mapper Mapper

	mu   sync.Mutex
	refs map[int]*ref
}

// NewTable creates a Table. If mapper is nil, MmapMapper is used; if log
// is nil, slog.Default() is used.
func NewTable(mapper Mapper, log *slog.Logger) *Table {
	if mapper == nil {
		mapper = MmapMapper{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Table{
		log:    log.With("component", "metabuf"),
		mapper: mapper,
		refs:   make(map[int]*ref),
	}
}

// Acquire takes a reference on fd, mapping size bytes on first use, and
// returns the mapping. A failed map leaves the table unchanged.
func (t *Table) Acquire(fd, size int) ([]byte, error) {
	if fd < 0 {
		return nil, fmt.Errorf("metabuf: invalid fd %d", fd)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.refs[fd]; ok {
		r.count++
		return r.data, nil
	}

	data, err := t.mapper.Map(fd, size)
	if err != nil {
		return nil, err
	}
	t.refs[fd] = &ref{fd: fd, count: 1, data: data}
	t.log.Debug("mapped", "fd", fd, "size", size)
	return data, nil
}

// Release drops a reference on fd and unmaps it when the count reaches
// zero. It reports whether the mapping was removed.
func (t *Table) Release(fd int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.refs[fd]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrNotMapped, fd)
	}
	r.count--
	if r.count > 0 {
		return false, nil
	}

	delete(t.refs, fd)
	if err := t.mapper.Unmap(r.data); err != nil {
		return true, fmt.Errorf("munmap fd %d: %w", fd, err)
	}
	t.log.Debug("unmapped", "fd", fd)
	return true, nil
}

// Count returns the current reference count of fd (zero if unmapped).
func (t *Table) Count(fd int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.refs[fd]; ok {
		return r.count
	}
	return 0
}

// Len returns the number of live mappings.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.refs)
}

// Clear unmaps every remaining mapping regardless of its count. It is
// called at component teardown.
func (t *Table) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for fd, r := range t.refs {
		delete(t.refs, fd)
		if err := t.mapper.Unmap(r.data); err != nil {
			errs = append(errs, fmt.Errorf("munmap fd %d: %w", fd, err))
		}
	}
	return errors.Join(errs...)
}
