// Package alloc provides backing memory for component-allocated buffers.
// Heap returns ordinary Go memory; Memfd returns anonymous shared memory
// with a file descriptor that can be handed to another process or to a
// decode engine that maps buffers by fd.
package alloc

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrInvalidSize is returned for non-positive allocation sizes.
var ErrInvalidSize = errors.New("alloc: invalid size")

// Memory is an allocated region.
type Memory interface {
	// Bytes returns the usable region, exactly the requested size.
	Bytes() []byte
	// FD returns the shareable descriptor, or -1 for process-local memory.
	FD() int
	// Free releases the region. Calling Free more than once is a no-op.
	Free() error
}

// Allocator hands out Memory.
type Allocator interface {
	Allocate(size, align int) (Memory, error)
}

// ErrUnknownAllocator is returned by Parse for an unrecognized name.
var ErrUnknownAllocator = errors.New("alloc: unknown allocator")

// Parse returns the allocator named "heap" or "memfd". An empty name
// selects Heap.
func Parse(name string) (Allocator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "heap":
		return Heap{}, nil
	case "memfd":
		return Memfd{Name: "vdec"}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAllocator, name)
	}
}

// AlignUp rounds n up to a multiple of align. Alignments below 2 leave n
// unchanged.
func AlignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// Heap allocates from the Go heap.
type Heap struct{}

// Allocate returns size bytes whose start is aligned to align.
func (Heap) Allocate(size, align int) (Memory, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if align < 1 {
		align = 1
	}
	raw := make([]byte, size+align-1)
	off := 0
	if align > 1 {
		addr := uintptrOf(raw)
		off = int((uintptr(align) - addr%uintptr(align)) % uintptr(align))
	}
	return &heapMemory{b: raw[off : off+size : off+size]}, nil
}

type heapMemory struct {
	b []byte
}

func (m *heapMemory) Bytes() []byte { return m.b }
func (m *heapMemory) FD() int       { return -1 }
func (m *heapMemory) Free() error {
	m.b = nil
	return nil
}

// Memfd allocates anonymous shared memory with memfd_create(2) and maps
// it into the process.
type Memfd struct {
	// Name labels the memfd in /proc/<pid>/fd.
	Name string
}

// Allocate creates a memfd of at least size bytes, rounded up to align and
// the page size, and maps it read-write.
func (a Memfd) Allocate(size, align int) (Memory, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	name := a.Name
	if name == "" {
		name = "vdec"
	}
	length := AlignUp(AlignUp(size, align), unix.Getpagesize())

	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(length)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate memfd: %w", err)
	}
	mapped, err := unix.Mmap(fd, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap memfd: %w", err)
	}
	return &memfdMemory{fd: fd, mapped: mapped, size: size}, nil
}

type memfdMemory struct {
	fd     int
	mapped []byte
	size   int
	freed  atomic.Bool
}

func (m *memfdMemory) Bytes() []byte { return m.mapped[:m.size:m.size] }
func (m *memfdMemory) FD() int       { return m.fd }

func (m *memfdMemory) Free() error {
	if m.freed.Swap(true) {
		return nil
	}
	return errors.Join(unix.Munmap(m.mapped), unix.Close(m.fd))
}
