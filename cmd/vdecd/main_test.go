package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/zsiec/vdec/internal/bitstream"
	"github.com/zsiec/vdec/internal/ingest"
	"github.com/zsiec/vdec/internal/mpegts"
)

func TestOpenInputElementary(t *testing.T) {
	t.Parallel()
	src := strings.NewReader("annexb")
	r, codec, err := openInput(src, ingest.FormatH265, nil)
	if err != nil {
		t.Fatalf("openInput: %v", err)
	}
	if r != src || codec != bitstream.H265 {
		t.Errorf("openInput = %v, %v; want passthrough h265", r, codec)
	}
}

func TestOpenInputTransportStreamWithoutVideo(t *testing.T) {
	t.Parallel()
	if _, _, err := openInput(bytes.NewReader(nil), ingest.FormatMPEGTS, nil); !errors.Is(err, mpegts.ErrNoVideo) {
		t.Errorf("openInput error = %v, want ErrNoVideo", err)
	}
}
