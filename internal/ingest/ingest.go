// Package ingest manages active ingest connections, coupling byte pipes
// carrying Annex B elementary streams or MPEG transport streams with
// connection metadata and session dispatch.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/vdec/internal/bitstream"
)

// ErrDuplicate is returned when a key already has an active ingest.
var ErrDuplicate = errors.New("ingest: stream key already active")

// InputFormat identifies what an ingest carries.
type InputFormat int

// Supported ingest formats.
const (
	FormatH264 InputFormat = iota
	FormatH265
	// FormatMPEGTS is a transport stream whose video codec is announced by
	// its PMT.
	FormatMPEGTS
)

func (f InputFormat) String() string {
	switch f {
	case FormatH265:
		return "h265"
	case FormatMPEGTS:
		return "mpegts"
	default:
		return "h264"
	}
}

// Codec returns the bitstream codec of an elementary stream format.
// FormatMPEGTS reports H.264 until its PMT has been read.
func (f InputFormat) Codec() bitstream.Codec {
	if f == FormatH265 {
		return bitstream.H265
	}
	return bitstream.H264
}

// ParseFormat accepts "ts" or "mpegts" and the names understood by
// bitstream.ParseCodec. An empty name selects H.264.
func ParseFormat(name string) (InputFormat, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return FormatH264, nil
	case "ts", "mpegts":
		return FormatMPEGTS, nil
	}
	c, err := bitstream.ParseCodec(name)
	if err != nil {
		return 0, fmt.Errorf("ingest: %w", err)
	}
	if c == bitstream.H265 {
		return FormatH265, nil
	}
	return FormatH264, nil
}

// IngestStats captures connection-level metrics for an ingest stream.
type IngestStats struct {
	Format        string `json:"format"`
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Stream is an active ingest connection. Bytes written to its pipe by a
// transport are read by the decoder session.
type Stream struct {
	Key       string
	StartedAt time.Time
	Format    InputFormat
	input     io.ReadCloser
	pw        io.WriteCloser
	done      chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead counts one transport read of n bytes.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the peer address for diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Done is closed when the stream is unregistered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// IngestStats returns a snapshot of connection metrics.
func (s *Stream) IngestStats() IngestStats {
	addr, _ := s.remoteAddr.Load().(string)
	return IngestStats{
		Format:        s.Format.String(),
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Handler starts decoding a newly registered stream. It runs on its own
// goroutine and owns input until it returns.
type Handler func(key string, input io.Reader, format InputFormat)

// Registry tracks active ingest streams by key and hands each new stream
// to the handler. At most one ingest is active per key.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	onStream Handler
}

// NewRegistry creates a Registry. onStream may be nil.
func NewRegistry(onStream Handler) *Registry {
	return &Registry{
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
}

// Register creates an ingest stream and returns it with the writer the
// transport should fill. It fails with ErrDuplicate if key is active.
func (r *Registry) Register(key string, format InputFormat) (*Stream, io.Writer, error) {
	r.mu.Lock()
	if _, ok := r.streams[key]; ok {
		r.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %q", ErrDuplicate, key)
	}
	pr, pw := io.Pipe()
	stream := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		Format:    format,
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}
	r.streams[key] = stream
	r.mu.Unlock()

	if r.onStream != nil {
		go func() {
			r.onStream(key, pr, format)
			// Unblock the transport if the handler stops reading early.
			pr.CloseWithError(io.ErrClosedPipe)
		}()
	}
	return stream, pw, nil
}

// Unregister removes a stream by key, closing its pipe and signaling Done.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	stream, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		stream.pw.Close()
		close(stream.done)
	}
}

// Active reports whether key has a registered stream.
func (r *Registry) Active(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Get returns the Stream for the given key, or false if not found.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// Keys returns the active stream keys in order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.streams))
	for k := range r.streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
