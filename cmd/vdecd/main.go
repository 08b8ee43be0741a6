package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/vdec/internal/api"
	"github.com/zsiec/vdec/internal/bitstream"
	"github.com/zsiec/vdec/internal/certs"
	"github.com/zsiec/vdec/internal/ingest"
	srtingest "github.com/zsiec/vdec/internal/ingest/srt"
	"github.com/zsiec/vdec/internal/mpegts"
	"github.com/zsiec/vdec/internal/session"
	"github.com/zsiec/vdec/internal/stream"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	cert, err := certs.Generate(certs.MaxValidity, envOr("VDEC_HOST", "localhost"))
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{
		mgr:     stream.NewManager(nil),
		session: cfg.session,
	}

	slog.Info("vdecd starting",
		"version", version,
		"srt", cfg.srtAddr,
		"api", cfg.apiAddr,
		"h3", cfg.h3Addr,
		"frame_rate", cfg.session.FrameRate,
		"trick_play", cfg.session.Component.ZeroTimestamps,
		"meta_buffers", cfg.session.MetaBuffers,
		"allocator", fmt.Sprintf("%T", cfg.session.Component.Allocator),
	)

	g, ctx := errgroup.WithContext(ctx)

	// The registry and caller capture the errgroup context so sessions end
	// when any server fails.
	a.registry = ingest.NewRegistry(func(key string, input io.Reader, format ingest.InputFormat) {
		a.handleNewStream(ctx, key, input, format)
	})
	a.srtCaller = srtingest.NewCaller(a.registry, nil)

	apiSrv, err := api.NewServer(api.Config{
		H3Addr:   cfg.h3Addr,
		Cert:     cert,
		Sessions: a.listSessions,
		Lookup:   a.lookupSession,
		Ingest:   a.lookupIngest,
		SRTPull: func(req srtingest.PullRequest) error {
			return a.srtCaller.Pull(ctx, req)
		},
		SRTStop: a.srtCaller.Stop,
		SRTList: a.srtCaller.ActivePulls,
	})
	if err != nil {
		slog.Error("failed to create API server", "error", err)
		os.Exit(1)
	}

	srtSrv := srtingest.NewServer(cfg.srtAddr, a.registry, nil)

	httpsSrv := &http.Server{
		Addr:      cfg.apiAddr,
		Handler:   apiSrv.Handler(),
		TLSConfig: cert.TLSConfig(),
	}

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	g.Go(func() error {
		slog.Info("HTTPS API server listening", "addr", cfg.apiAddr)
		if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpsSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return apiSrv.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type app struct {
	mgr       *stream.Manager
	registry  *ingest.Registry
	srtCaller *srtingest.Caller
	session   session.Config
}

func (a *app) listSessions() []stream.Info {
	streams := a.mgr.List()
	infos := make([]stream.Info, len(streams))
	for i, s := range streams {
		infos[i] = s.Info()
	}
	return infos
}

func (a *app) lookupSession(key string) (stream.Info, bool) {
	s, ok := a.mgr.Get(key)
	if !ok {
		return stream.Info{}, false
	}
	return s.Info(), true
}

func (a *app) lookupIngest(key string) *ingest.IngestStats {
	s, ok := a.registry.Get(key)
	if !ok {
		return nil
	}
	stats := s.IngestStats()
	return &stats
}

func (a *app) handleNewStream(ctx context.Context, key string, input io.Reader, format ingest.InputFormat) {
	log := slog.With("stream", key, "codec", format)
	log.Info("new stream from ingest")

	if _, created := a.mgr.Create(key); !created {
		log.Warn("rejecting duplicate stream connection")
		return
	}
	defer a.mgr.Remove(key)

	input, codec, err := openInput(input, format, log)
	if err != nil {
		log.Error("unreadable ingest", "error", err)
		return
	}

	cfg := a.session
	cfg.Codec = codec
	sess := session.New(key, cfg)
	a.mgr.Attach(key, sess)

	if err := sess.Run(ctx, input); err != nil {
		log.Error("session error", "error", err)
	}
	snap := sess.Snapshot()
	log.Info("stream ended",
		"frames", snap.FramesDecoded,
		"reconfigurations", snap.Reconfigurations,
		"dropped", snap.UnitsDropped,
	)
}

// openInput returns the Annex B reader and codec of an ingest. Transport
// streams are unwrapped to their video PID.
func openInput(input io.Reader, format ingest.InputFormat, log *slog.Logger) (io.Reader, bitstream.Codec, error) {
	if format != ingest.FormatMPEGTS {
		return input, format.Codec(), nil
	}
	vr := mpegts.NewVideoReader(input, log)
	codec, err := vr.Probe()
	if err != nil {
		return nil, 0, err
	}
	return vr, codec, nil
}
