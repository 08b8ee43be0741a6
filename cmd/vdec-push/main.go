// Command vdec-push publishes an Annex B or MPEG-TS file to vdecd over SRT,
// paced in real time.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	srt "github.com/zsiec/srtgo"

	"github.com/zsiec/vdec/internal/ingest"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6000", "SRT server address")
	key := flag.String("key", "", "stream key (default: file name without extension)")
	formatName := flag.String("format", "", "h264, h265 or ts (default: from the file extension)")
	fps := flag.Float64("fps", 30, "access units per second for elementary streams")
	rate := flag.Int("rate", 1_000_000, "bytes per second for transport streams")
	loop := flag.Bool("loop", false, "restart from the beginning at end of file")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vdec-push [flags] <file>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	format, err := ingest.ParseFormat(formatFor(path, *formatName))
	if err != nil {
		slog.Error("invalid format", "error", err)
		os.Exit(2)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("reading input", "error", err)
		os.Exit(1)
	}
	chunks := plan(data, format, *fps, *rate)
	if len(chunks) == 0 {
		slog.Error("nothing to send", "file", path)
		os.Exit(1)
	}

	if *key == "" {
		base := filepath.Base(path)
		*key = strings.TrimSuffix(base, filepath.Ext(base))
	}
	streamID := streamIDFor(*key, format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := slog.With("stream_id", streamID, "addr", *addr)
	log.Info("pushing",
		"file", path,
		"format", format,
		"chunks", len(chunks),
		"duration", chunks[len(chunks)-1].at,
	)

	for {
		err := push(ctx, *addr, streamID, chunks, *loop)
		if err == nil || ctx.Err() != nil {
			return
		}
		log.Warn("connection lost, reconnecting", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func formatFor(path, name string) string {
	if name != "" {
		return name
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".m2ts":
		return "ts"
	case ".h265", ".hevc", ".265":
		return "h265"
	}
	return "h264"
}

func streamIDFor(key string, format ingest.InputFormat) string {
	if format == ingest.FormatMPEGTS {
		return "live/" + key + "?format=ts"
	}
	return "live/" + key + "?codec=" + format.String()
}

// push sends chunks on their schedule, once or in a loop, and returns nil
// when done or cancelled.
func push(ctx context.Context, addr, streamID string, chunks []chunk, loop bool) error {
	cfg := srt.DefaultConfig()
	cfg.StreamID = streamID

	conn, err := srt.Dial(addr, cfg)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	slog.Info("connected", "stream_id", streamID)

	period := chunks[len(chunks)-1].at + chunks[len(chunks)-1].gap
	start := time.Now()
	var sent int64
	for pass := 0; ; pass++ {
		for _, c := range chunks {
			due := start.Add(time.Duration(pass)*period + c.at)
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			}
			if _, err := conn.Write(c.data); err != nil {
				return err
			}
			sent += int64(len(c.data))
		}
		slog.Info("pass complete", "pass", pass+1, "sent_bytes", sent, "elapsed", time.Since(start).Truncate(time.Second))
		if !loop || ctx.Err() != nil {
			return nil
		}
	}
}
