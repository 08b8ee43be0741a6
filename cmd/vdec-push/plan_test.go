package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/zsiec/vdec/internal/bitstream/bitstreamtest"
	"github.com/zsiec/vdec/internal/ingest"
)

func TestPlanElementary(t *testing.T) {
	t.Parallel()
	stream := bitstreamtest.AnnexB(
		bitstreamtest.H264SPS(320, 240),
		bitstreamtest.H264PPS(),
		bitstreamtest.H264Slice(true, true),
		bitstreamtest.H264Slice(false, true),
		bitstreamtest.H264Slice(false, true),
	)

	chunks := plan(stream, ingest.FormatH264, 25, 0)
	var total []byte
	var frames int
	for _, c := range chunks {
		total = append(total, c.data...)
		if c.gap > 0 {
			frames++
		}
	}
	if !bytes.Equal(total, stream) {
		t.Fatal("chunks do not reassemble the input")
	}
	if frames != 3 {
		t.Errorf("paced frames = %d, want 3", frames)
	}
	if last := chunks[len(chunks)-1]; last.at != 80*time.Millisecond {
		t.Errorf("last chunk at %v, want 80ms", last.at)
	}
}

func TestPlanTransportStream(t *testing.T) {
	t.Parallel()
	data := make([]byte, 3*tsChunk+188)
	chunks := plan(data, ingest.FormatMPEGTS, 0, tsChunk)
	if len(chunks) != 4 {
		t.Fatalf("chunks = %d, want 4", len(chunks))
	}
	if chunks[1].at != time.Second || chunks[3].at != 3*time.Second {
		t.Errorf("offsets = %v, %v", chunks[1].at, chunks[3].at)
	}
	if len(chunks[3].data) != 188 || chunks[3].gap != time.Second/7 {
		t.Errorf("tail chunk = %d bytes, gap %v", len(chunks[3].data), chunks[3].gap)
	}
}

func TestFormatFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path, flag, want string
	}{
		{"clip.ts", "", "ts"},
		{"clip.M2TS", "", "ts"},
		{"clip.hevc", "", "h265"},
		{"clip.264", "", "h264"},
		{"clip.ts", "h265", "h265"},
	}
	for _, tc := range tests {
		if got := formatFor(tc.path, tc.flag); got != tc.want {
			t.Errorf("formatFor(%q, %q) = %q, want %q", tc.path, tc.flag, got, tc.want)
		}
	}
	if got := streamIDFor("cam", ingest.FormatMPEGTS); got != "live/cam?format=ts" {
		t.Errorf("ts stream id = %q", got)
	}
	if got := streamIDFor("cam", ingest.FormatH265); got != "live/cam?codec=h265" {
		t.Errorf("h265 stream id = %q", got)
	}
}
