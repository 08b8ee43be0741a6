package omx

import "fmt"

// State is the lifecycle state of a decoder component.
type State int

// Component states. StateInvalid is reachable only through a fatal engine
// error (or before construction completes) and is never left.
const (
	StateInvalid State = iota
	StateLoaded
	StateIdle
	StateExecuting
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateLoaded:
		return "loaded"
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PortIndex identifies a buffer-exchange port.
type PortIndex int

// Port indices. PortAll is accepted by flush and port enable/disable
// commands to address both ports at once.
const (
	PortInput  PortIndex = 0
	PortOutput PortIndex = 1
	PortAll    PortIndex = -1
)

// NumPorts is the number of ports on a decoder component.
const NumPorts = 2

func (p PortIndex) String() string {
	switch p {
	case PortInput:
		return "input"
	case PortOutput:
		return "output"
	case PortAll:
		return "all"
	default:
		return fmt.Sprintf("port(%d)", int(p))
	}
}

// Valid reports whether p names a single port.
func (p PortIndex) Valid() bool {
	return p == PortInput || p == PortOutput
}

// Command is a client request that is acknowledged asynchronously through
// Client.OnCommandComplete.
type Command int

// Commands.
const (
	CmdStateSet Command = iota
	CmdFlush
	CmdPortDisable
	CmdPortEnable
)

func (c Command) String() string {
	switch c {
	case CmdStateSet:
		return "state-set"
	case CmdFlush:
		return "flush"
	case CmdPortDisable:
		return "port-disable"
	case CmdPortEnable:
		return "port-enable"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// Flags annotate a buffer's payload.
type Flags uint32

// Buffer flags.
const (
	// FlagEOS marks the last buffer of a stream.
	FlagEOS Flags = 1 << iota
	// FlagCodecConfig marks a buffer carrying only codec configuration
	// (parameter sets), which produces no picture.
	FlagCodecConfig
	// FlagCorrupt marks output decoded from a damaged bitstream.
	FlagCorrupt
	// FlagReadOnly marks an output buffer the engine still references;
	// the client must not write to it and the engine will release the
	// reference later.
	FlagReadOnly
	// FlagKeyFrame marks a random access point.
	FlagKeyFrame
)

// Has reports whether all bits of mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Crop is a visible rectangle within a decoded frame.
type Crop struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Geometry describes the layout of decoded frames in output buffers.
type Geometry struct {
	Width       int  `json:"width"`
	Height      int  `json:"height"`
	Stride      int  `json:"stride"`
	SliceHeight int  `json:"sliceHeight"`
	Crop        Crop `json:"crop"`
}

// FrameSize returns the byte size of one 4:2:0 frame with this geometry.
func (g Geometry) FrameSize() int {
	return g.Stride * g.SliceHeight * 3 / 2
}

// PortDefinition is the negotiable configuration of a port.
type PortDefinition struct {
	Port        PortIndex `json:"port"`
	Enabled     bool      `json:"enabled"`
	Populated   bool      `json:"populated"`
	CountActual int       `json:"countActual"`
	CountMin    int       `json:"countMin"`
	BufferSize  int       `json:"bufferSize"`
	Alignment   int       `json:"alignment"`
	Geometry    Geometry  `json:"geometry"`
}
