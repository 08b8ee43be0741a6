package session

import (
	"time"

	"github.com/zsiec/vdec/internal/component"
	"github.com/zsiec/vdec/internal/omx"
)

// Snapshot is a point-in-time view of a session, suitable for JSON
// serialization by the status API.
type Snapshot struct {
	Key              string              `json:"key"`
	Codec            string              `json:"codec"`
	Profile          string              `json:"profile,omitempty"`
	Phase            string              `json:"phase"`
	UptimeMs         int64               `json:"uptimeMs"`
	CodedWidth       int                 `json:"codedWidth,omitempty"`
	CodedHeight      int                 `json:"codedHeight,omitempty"`
	UnitsSubmitted   int64               `json:"unitsSubmitted"`
	BytesSubmitted   int64               `json:"bytesSubmitted"`
	UnitsDropped     int64               `json:"unitsDropped"`
	FramesDecoded    int64               `json:"framesDecoded"`
	Keyframes        int64               `json:"keyframes"`
	LastTimestamp    int64               `json:"lastTimestamp"`
	Reconfigurations int64               `json:"reconfigurations"`
	CropChanges      int64               `json:"cropChanges"`
	CaptionPairs     int64               `json:"captionPairs"`
	LastCaption      string              `json:"lastCaption,omitempty"`
	Timecode         string              `json:"timecode,omitempty"`
	Errors           int64               `json:"errors"`
	LastError        string              `json:"lastError,omitempty"`
	Output           *omx.PortDefinition `json:"output,omitempty"`
	Component        *component.Stats    `json:"component,omitempty"`
}

// Snapshot returns the current session state. It is safe to call from
// any goroutine.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	info := s.info
	s.mu.Unlock()

	snap := Snapshot{
		Key:              s.key,
		Codec:            s.cfg.Codec.String(),
		Profile:          info.profile,
		Phase:            s.currentPhase().String(),
		UptimeMs:         time.Since(s.startedAt).Milliseconds(),
		CodedWidth:       info.codedWidth,
		CodedHeight:      info.codedHeight,
		UnitsSubmitted:   s.units.Load(),
		BytesSubmitted:   s.bytes.Load(),
		UnitsDropped:     s.dropped.Load(),
		FramesDecoded:    s.frames.Load(),
		Keyframes:        s.keyframes.Load(),
		LastTimestamp:    s.lastTimestamp.Load(),
		Reconfigurations: s.reconfigurations.Load(),
		CropChanges:      s.cropChanges.Load(),
		CaptionPairs:     s.captionPairs.Load(),
		LastCaption:      info.lastCaption,
		Timecode:         info.timecode,
		Errors:           s.errors.Load(),
		LastError:        info.lastError,
	}
	if comp := s.comp.Load(); comp != nil {
		if def, err := comp.PortDefinition(omx.PortOutput); err == nil {
			snap.Output = &def
		}
		st := comp.Stats()
		snap.Component = &st
	}
	return snap
}
