package main

import (
	"time"

	"github.com/zsiec/vdec/internal/bitstream"
	"github.com/zsiec/vdec/internal/ingest"
)

// tsChunk is seven transport packets, the usual SRT payload.
const tsChunk = 7 * 188

type chunk struct {
	data []byte
	at   time.Duration // offset from the start of a pass
	gap  time.Duration // time until the next chunk
}

// plan cuts data into send units with their pacing. Elementary streams
// are sent one access unit per frame interval. Transport streams are cut
// into packet groups paced at rate bytes per second.
func plan(data []byte, format ingest.InputFormat, fps float64, rate int) []chunk {
	if format == ingest.FormatMPEGTS {
		if rate <= 0 {
			rate = 1_000_000
		}
		var out []chunk
		var offset time.Duration
		for i := 0; i < len(data); i += tsChunk {
			b := data[i:min(i+tsChunk, len(data))]
			gap := time.Duration(len(b)) * time.Second / time.Duration(rate)
			out = append(out, chunk{data: b, at: offset, gap: gap})
			offset += gap
		}
		return out
	}

	if fps <= 0 {
		fps = 30
	}
	frame := time.Duration(float64(time.Second) / fps)
	sp := bitstream.NewSplitter(format.Codec())
	units := sp.Push(data)
	if last := sp.Flush(); last != nil {
		units = append(units, last)
	}

	out := make([]chunk, 0, len(units))
	var offset time.Duration
	for _, au := range units {
		gap := time.Duration(0)
		if bitstream.Inspect(format.Codec(), au).VCL > 0 {
			gap = frame
		}
		out = append(out, chunk{data: au, at: offset, gap: gap})
		offset += gap
	}
	return out
}
