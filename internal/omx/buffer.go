package omx

import "sync/atomic"

// Owner records which side currently holds a buffer.
type Owner int32

// Buffer owners. A buffer is never owned by both sides; ownership flips
// exactly once per submit/return cycle.
const (
	OwnerClient Owner = iota
	OwnerComponent
)

func (o Owner) String() string {
	if o == OwnerComponent {
		return "component"
	}
	return "client"
}

// MetaHandle names externally shareable memory that backs an output
// buffer in meta-buffer mode. The client may point a header at a
// different handle before each submission.
type MetaHandle struct {
	FD   int
	Size int
}

// BufferHeader is the client-visible descriptor of a registered buffer.
//
// The client may write Offset, FilledLen, Flags, Timestamp and Meta only
// while it owns the buffer. The component writes them back before
// returning the buffer through a callback.
type BufferHeader struct {
	Data      []byte
	AllocLen  int
	Offset    int
	FilledLen int
	Flags     Flags
	Timestamp int64
	Meta      *MetaHandle

	// AppData is an opaque client cookie, untouched by the component.
	AppData any

	handle uint64
	port   PortIndex
	owner  atomic.Int32
}

// NewBufferHeader creates a client-owned header. It is used by the
// component when registering buffers and by tests.
func NewBufferHeader(handle uint64, port PortIndex, data []byte) *BufferHeader {
	return &BufferHeader{
		Data:     data,
		AllocLen: len(data),
		handle:   handle,
		port:     port,
	}
}

// Handle returns the opaque registry handle of the buffer.
func (b *BufferHeader) Handle() uint64 { return b.handle }

// Port returns the port the buffer is registered on.
func (b *BufferHeader) Port() PortIndex { return b.port }

// Owner returns the current owner.
func (b *BufferHeader) Owner() Owner { return Owner(b.owner.Load()) }

// Claim transfers ownership from one side to the other. It reports false
// if the buffer was not owned by from, leaving ownership unchanged.
func (b *BufferHeader) Claim(from, to Owner) bool {
	return b.owner.CompareAndSwap(int32(from), int32(to))
}

// Payload returns the filled region of the buffer.
func (b *BufferHeader) Payload() []byte {
	end := b.Offset + b.FilledLen
	if b.Offset < 0 || end > len(b.Data) || b.FilledLen <= 0 {
		return nil
	}
	return b.Data[b.Offset:end]
}
