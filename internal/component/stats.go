package component

import (
	"sync/atomic"

	"github.com/zsiec/vdec/internal/omx"
)

type counters struct {
	inputSubmitted     atomic.Int64
	outputSubmitted    atomic.Int64
	inputReturned      atomic.Int64
	outputReturned     atomic.Int64
	zeroLength         atomic.Int64
	timestampUnderflow atomic.Int64
	flushes            atomic.Int64
	reconfigurations   atomic.Int64
	engineStarts       atomic.Int64
	errors             atomic.Int64
}

// Stats is a point-in-time view of component activity.
type Stats struct {
	State              string               `json:"state"`
	InputSubmitted     int64                `json:"inputSubmitted"`
	OutputSubmitted    int64                `json:"outputSubmitted"`
	InputReturned      int64                `json:"inputReturned"`
	OutputReturned     int64                `json:"outputReturned"`
	ZeroLengthBounced  int64                `json:"zeroLengthBounced"`
	TimestampUnderflow int64                `json:"timestampUnderflow"`
	Flushes            int64                `json:"flushes"`
	Reconfigurations   int64                `json:"reconfigurations"`
	EngineStarts       int64                `json:"engineStarts"`
	Errors             int64                `json:"errors"`
	MetaMappings       int                  `json:"metaMappings"`
	PendingTimestamps  int                  `json:"pendingTimestamps"`
	Ports              []omx.PortDefinition `json:"ports"`
}

// Stats returns current counters and port definitions.
func (c *Component) Stats() Stats {
	s := Stats{
		State:              c.State().String(),
		InputSubmitted:     c.stats.inputSubmitted.Load(),
		OutputSubmitted:    c.stats.outputSubmitted.Load(),
		InputReturned:      c.stats.inputReturned.Load(),
		OutputReturned:     c.stats.outputReturned.Load(),
		ZeroLengthBounced:  c.stats.zeroLength.Load(),
		TimestampUnderflow: c.stats.timestampUnderflow.Load(),
		Flushes:            c.stats.flushes.Load(),
		Reconfigurations:   c.stats.reconfigurations.Load(),
		EngineStarts:       c.stats.engineStarts.Load(),
		Errors:             c.stats.errors.Load(),
		MetaMappings:       c.meta.Len(),
		PendingTimestamps:  c.ts.Len(),
	}
	for _, p := range c.ports {
		s.Ports = append(s.Ports, p.definition())
	}
	return s
}
