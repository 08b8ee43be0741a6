package srt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/vdec/internal/ingest"
)

const dialTimeout = 10 * time.Second

// PullRequest describes a remote SRT source to pull from.
type PullRequest struct {
	Address   string `json:"address"`
	StreamKey string `json:"streamKey"`
	StreamID  string `json:"streamId,omitempty"`
	// Codec names the elementary stream codec, or "ts" for a transport
	// stream. Empty means H.264.
	Codec string `json:"codec,omitempty"`
}

type activePull struct {
	req    PullRequest
	cancel context.CancelFunc
}

// Caller manages SRT pull connections, dialing remote SRT sources and
// streaming their data into the ingest registry.
type Caller struct {
	log      *slog.Logger
	registry *ingest.Registry

	mu    sync.Mutex
	pulls map[string]*activePull
}

// NewCaller creates a Caller that registers pulled streams with registry.
// If log is nil, slog.Default() is used.
func NewCaller(registry *ingest.Registry, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:      log.With("component", "srt-caller"),
		registry: registry,
		pulls:    make(map[string]*activePull),
	}
}

func (req PullRequest) validate() (ingest.InputFormat, error) {
	if req.Address == "" {
		return 0, fmt.Errorf("address is required")
	}
	if req.StreamKey == "" {
		return 0, fmt.Errorf("streamKey is required")
	}
	return ingest.ParseFormat(req.Codec)
}

// Pull dials the remote SRT listener with a timeout and returns once the
// connection is up. Streaming continues in a background goroutine.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	format, err := req.validate()
	if err != nil {
		return err
	}
	if c.active(req.StreamKey) || c.registry.Active(req.StreamKey) {
		return fmt.Errorf("stream key %q already active", req.StreamKey)
	}

	c.log.Info("dialing", "address", req.Address, "stream_key", req.StreamKey)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = req.StreamID
	if cfg.StreamID == "" {
		cfg.StreamID = "live/" + req.StreamKey
	}

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- dialResult{conn, err}
	}()
	drain := func() {
		if res := <-ch; res.conn != nil {
			res.conn.Close()
		}
	}

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("SRT dial failed: %w", res.err)
		}
		return c.startStreaming(ctx, req, format, res.conn)
	case <-timer.C:
		go drain()
		return fmt.Errorf("SRT dial timed out after %s", dialTimeout)
	case <-ctx.Done():
		go drain()
		return ctx.Err()
	}
}

func (c *Caller) active(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pulls[key]
	return ok
}

func (c *Caller) startStreaming(ctx context.Context, req PullRequest, format ingest.InputFormat, conn *srtgo.Conn) error {
	pullCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if _, exists := c.pulls[req.StreamKey]; exists {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return fmt.Errorf("pull already active for stream key %q", req.StreamKey)
	}
	c.pulls[req.StreamKey] = &activePull{req: req, cancel: cancel}
	c.mu.Unlock()

	stream, writer, err := c.registry.Register(req.StreamKey, format)
	if err != nil {
		c.forget(req.StreamKey)
		cancel()
		conn.Close()
		return err
	}
	stream.SetRemoteAddr(req.Address)
	c.log.Info("connected", "address", req.Address, "stream_key", req.StreamKey, "format", format)

	go func() {
		defer func() {
			conn.Close()
			stats := stream.IngestStats()
			c.registry.Unregister(req.StreamKey)
			c.forget(req.StreamKey)
			cancel()
			c.log.Info("pull ended", "stream_key", req.StreamKey,
				"bytes", stats.BytesReceived, "reads", stats.ReadCount,
				"uptime_ms", stats.UptimeMs)
		}()
		pump(pullCtx, c.log, conn, stream, writer)
	}()
	return nil
}

func (c *Caller) forget(key string) {
	c.mu.Lock()
	delete(c.pulls, key)
	c.mu.Unlock()
}

// Stop cancels the pull for streamKey.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	ap, ok := c.pulls[streamKey]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("no active pull for stream key %q", streamKey)
	}
	ap.cancel()
	return nil
}

// ActivePulls returns the active pull requests ordered by stream key.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PullRequest, 0, len(c.pulls))
	for _, ap := range c.pulls {
		out = append(out, ap.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamKey < out[j].StreamKey })
	return out
}
