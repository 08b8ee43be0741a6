package session

import (
	"sync"

	"github.com/zsiec/vdec/internal/omx"
)

type noteKind int

const (
	noteCommand noteKind = iota
	noteError
	noteInput
	noteOutput
	noteEOS
	noteSettings
	noteCrop
)

// note is one component callback, queued for the session goroutine.
type note struct {
	kind  noteKind
	cmd   omx.Command
	param int
	code  omx.Error
	buf   *omx.BufferHeader
	port  omx.PortIndex
	flags omx.Flags
	crop  omx.Crop
}

// inbox implements omx.Client by queueing callbacks. The component's
// worker never blocks on it.
type inbox struct {
	mu    sync.Mutex
	notes []note
	ready chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (in *inbox) push(n note) {
	in.mu.Lock()
	in.notes = append(in.notes, n)
	in.mu.Unlock()
	select {
	case in.ready <- struct{}{}:
	default:
	}
}

func (in *inbox) drain() []note {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.notes
	in.notes = nil
	return out
}

func (in *inbox) OnCommandComplete(cmd omx.Command, param int) {
	in.push(note{kind: noteCommand, cmd: cmd, param: param})
}

func (in *inbox) OnError(code omx.Error) {
	in.push(note{kind: noteError, code: code})
}

func (in *inbox) OnInputReturned(buf *omx.BufferHeader) {
	in.push(note{kind: noteInput, buf: buf})
}

func (in *inbox) OnOutputReturned(buf *omx.BufferHeader) {
	in.push(note{kind: noteOutput, buf: buf})
}

func (in *inbox) OnEndOfStream(port omx.PortIndex, flags omx.Flags) {
	in.push(note{kind: noteEOS, port: port, flags: flags})
}

func (in *inbox) OnPortSettingsChanged(port omx.PortIndex) {
	in.push(note{kind: noteSettings, port: port})
}

func (in *inbox) OnOutputCropChanged(crop omx.Crop) {
	in.push(note{kind: noteCrop, crop: crop})
}
