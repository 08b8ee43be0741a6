package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/vdec/internal/ingest"
)

// srtReadBufferSize is the read buffer for SRT socket reads, ten default
// 1316-byte payloads.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// Server accepts incoming SRT publish connections and registers them
// with the ingest registry.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
}

// NewServer creates an SRT server that listens on addr and registers
// incoming streams with the given registry. If log is nil, slog.Default() is used.
func NewServer(addr string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
	}
}

// Start begins accepting SRT publish connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		key, _, err := parseStreamID(req.StreamID)
		if err != nil {
			s.log.Warn("rejecting publish", "stream_id", req.StreamID, "error", err)
			return srtgo.RejPeer
		}
		if s.registry.Active(key) {
			s.log.Warn("rejecting duplicate publish", "stream_key", key)
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		key, format, err := parseStreamID(conn.StreamID())
		if err != nil {
			conn.Close()
			continue
		}
		s.log.Info("publish", "stream_key", key, "format", format, "remote", conn.RemoteAddr())

		go s.handleConnection(ctx, conn, key, format)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn, key string, format ingest.InputFormat) {
	defer conn.Close()

	stream, writer, err := s.registry.Register(key, format)
	if err != nil {
		s.log.Warn("register failed", "stream_key", key, "error", err)
		return
	}
	stream.SetRemoteAddr(conn.RemoteAddr().String())

	pump(ctx, s.log, conn, stream, writer)

	stats := stream.IngestStats()
	s.registry.Unregister(key)
	s.log.Info("connection closed", "stream_key", key,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// pump copies SRT payloads into the ingest pipe until the peer closes,
// the pipe reader goes away, or ctx is cancelled.
func pump(ctx context.Context, log *slog.Logger, r io.Reader, stream *ingest.Stream, w io.Writer) {
	buf := make([]byte, srtReadBufferSize)
	for ctx.Err() == nil {
		n, err := r.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read error", "stream_key", stream.Key, "error", err)
			}
			return
		}
		stream.RecordRead(n)
		if _, err := w.Write(buf[:n]); err != nil {
			log.Debug("pipe write error", "stream_key", stream.Key, "error", err)
			return
		}
	}
}

// parseStreamID splits an SRT stream ID into a stream key and format.
func parseStreamID(streamID string) (string, ingest.InputFormat, error) {
	path, query, _ := strings.Cut(streamID, "?")
	values, err := url.ParseQuery(query)
	if err != nil {
		return "", 0, fmt.Errorf("stream id %q: %w", streamID, err)
	}
	name := values.Get("format")
	if name == "" {
		name = values.Get("codec")
	}
	format, err := ingest.ParseFormat(name)
	if err != nil {
		return "", 0, err
	}
	return extractStreamKey(path), format, nil
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
