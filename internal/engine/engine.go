// Package engine defines the contract between the decoder component and
// an external decode engine: the calls the component makes, the engine-side
// buffer descriptor, and the callbacks and events the engine raises.
package engine

import (
	"fmt"

	"github.com/zsiec/vdec/internal/omx"
)

// FlushKind selects which held buffers a flush returns.
type FlushKind int

// Flush kinds.
const (
	FlushInput FlushKind = iota
	FlushOutput
	FlushAll
)

func (k FlushKind) String() string {
	switch k {
	case FlushInput:
		return "input"
	case FlushOutput:
		return "output"
	case FlushAll:
		return "all"
	default:
		return fmt.Sprintf("flush(%d)", int(k))
	}
}

// Buffer is the engine-side descriptor of a component buffer. The
// component owns it between submissions; the engine owns it from
// SubmitInput/SubmitOutput until it hands it back through the Sink.
type Buffer struct {
	// Cookie identifies the component buffer. Engines must not change it.
	Cookie uint64
	Data   []byte
	// FD is the shareable descriptor backing Data, or -1.
	FD int
	// Meta marks Data as a mapped meta-buffer. Engines may keep such a
	// frame as a reference after returning it, flagged read-only, and
	// drop it later with EventReleaseReference.
	Meta      bool
	Offset    int
	Length    int
	Flags     omx.Flags
	Timestamp int64
}

// Payload returns the filled region.
func (b *Buffer) Payload() []byte {
	end := b.Offset + b.Length
	if b.Offset < 0 || end > len(b.Data) || b.Length <= 0 {
		return nil
	}
	return b.Data[b.Offset:end]
}

// EventKind identifies an asynchronous engine notification.
type EventKind int

// Engine events.
const (
	EventFlushInputDone EventKind = iota
	EventFlushOutputDone
	EventFlushAllDone
	// EventReleaseReference drops the engine's reference to the meta-buffer
	// backed by Event.FD.
	EventReleaseReference
	// EventReconfigure reports that output buffers must be renegotiated;
	// output production pauses until the engine is started again.
	EventReconfigure
	// EventDimensionsUpdated reports a crop-only change.
	EventDimensionsUpdated
	// EventFatal reports an unrecoverable engine failure.
	EventFatal
)

func (k EventKind) String() string {
	switch k {
	case EventFlushInputDone:
		return "flush-input-done"
	case EventFlushOutputDone:
		return "flush-output-done"
	case EventFlushAllDone:
		return "flush-all-done"
	case EventReleaseReference:
		return "release-reference"
	case EventReconfigure:
		return "reconfigure"
	case EventDimensionsUpdated:
		return "dimensions-updated"
	case EventFatal:
		return "fatal"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is an engine notification.
type Event struct {
	Kind EventKind
	// FD accompanies EventReleaseReference.
	FD int
	// Crop accompanies EventDimensionsUpdated.
	Crop omx.Crop
	// Err accompanies EventFatal.
	Err error
}

// Requirements describes the output buffers an engine needs.
type Requirements struct {
	Geometry    omx.Geometry
	BufferSize  int
	BufferCount int
}

// Sink receives engine callbacks. Implementations must be safe to call
// from any goroutine and must not block.
type Sink interface {
	InputConsumed(buf *Buffer)
	OutputProduced(buf *Buffer)
	Event(ev Event)
}

// Engine is an external decode capability.
//
// After Flush, the engine returns every held buffer of the flushed kind
// through the Sink (output with zero length) and then raises the matching
// flush-done event. Stop pauses decoding without returning buffers; Start
// resumes it, adopting any geometry announced by EventReconfigure.
type Engine interface {
	Start() error
	Stop() error
	Flush(kind FlushKind) error
	SubmitInput(buf *Buffer) error
	SubmitOutput(buf *Buffer) error
	OutputRequirements() Requirements
	Close() error
}

// Factory builds an engine bound to sink.
type Factory func(sink Sink) (Engine, error)

// OpError records a failed engine call.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("engine: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
