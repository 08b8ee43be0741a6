package component

import (
	"github.com/zsiec/vdec/internal/engine"
	"github.com/zsiec/vdec/internal/omx"
)

type eventID int

const (
	evCommand eventID = iota
	evRegister
	evRelease
	evSetDefinition
	evError
	evEmptyBuffer
	evFillBuffer
	evInputDone
	evOutputDone
	evEngine
)

func (id eventID) String() string {
	switch id {
	case evCommand:
		return "command"
	case evRegister:
		return "register"
	case evRelease:
		return "release"
	case evSetDefinition:
		return "set-definition"
	case evError:
		return "error"
	case evEmptyBuffer:
		return "empty-buffer"
	case evFillBuffer:
		return "fill-buffer"
	case evInputDone:
		return "input-done"
	case evOutputDone:
		return "output-done"
	case evEngine:
		return "engine"
	default:
		return "unknown"
	}
}

// event is the single message type carried by the scheduler. param1 and
// param2 are interpreted per id.
type event struct {
	id     eventID
	param1 int
	param2 int

	buf  *omx.BufferHeader
	ebuf *engine.Buffer
	mem  []byte
	def  omx.PortDefinition
	eng  engine.Event
	err  error

	reply chan result
}

type result struct {
	buf *omx.BufferHeader
	err error
}

func (ev event) respond(r result) {
	if ev.reply != nil {
		ev.reply <- r
	}
}
