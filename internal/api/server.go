// Package api serves the JSON status API for live decoder sessions over
// HTTPS and HTTP/3.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/vdec/internal/certs"
	"github.com/zsiec/vdec/internal/ingest"
	"github.com/zsiec/vdec/internal/ingest/srt"
	"github.com/zsiec/vdec/internal/stream"
)

// SessionLister returns every live session.
type SessionLister func() []stream.Info

// SessionLookup resolves a stream key to its session.
type SessionLookup func(key string) (stream.Info, bool)

// IngestLookup resolves a stream key to its ingest connection metrics, or
// nil if nothing is being ingested under the key.
type IngestLookup func(key string) *ingest.IngestStats

// SRTPullFunc starts an SRT caller-mode pull.
type SRTPullFunc func(req srt.PullRequest) error

// SRTStopFunc stops an active SRT pull by stream key.
type SRTStopFunc func(streamKey string) error

// SRTListFunc returns all active SRT pulls.
type SRTListFunc func() []srt.PullRequest

// Config holds the listen address, certificate and data hooks.
type Config struct {
	// H3Addr is the UDP address of the HTTP/3 listener.
	H3Addr   string
	Cert     *certs.CertInfo
	Sessions SessionLister
	Lookup   SessionLookup
	Ingest   IngestLookup
	SRTPull  SRTPullFunc
	SRTStop  SRTStopFunc
	SRTList  SRTListFunc
	Log      *slog.Logger
}

// SessionDetail is the response of GET /api/sessions/{key}.
type SessionDetail struct {
	stream.Info
	Ingest *ingest.IngestStats `json:"ingest,omitempty"`
}

type certHashResponse struct {
	Hash string `json:"hash"`
	Addr string `json:"addr"`
}

// Server serves the status API.
type Server struct {
	log    *slog.Logger
	config Config
	h3     *http3.Server
}

// NewServer creates a Server. It returns an error if required fields are
// missing.
func NewServer(config Config) (*Server, error) {
	if config.Cert == nil {
		return nil, errors.New("api: Cert is required")
	}
	if config.Sessions == nil || config.Lookup == nil {
		return nil, errors.New("api: Sessions and Lookup are required")
	}
	if config.Log == nil {
		config.Log = slog.Default()
	}
	s := &Server{
		log:    config.Log.With("component", "api"),
		config: config,
	}
	if config.H3Addr != "" {
		s.h3 = &http3.Server{
			Addr:      config.H3Addr,
			Handler:   s.routes(),
			TLSConfig: config.Cert.TLSConfig(),
			QUICConfig: &quic.Config{
				MaxIdleTimeout: 30 * time.Second,
			},
		}
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{key...}", s.handleGetSession)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	mux.HandleFunc("GET /api/srt-pull", s.handleSRTPullList)
	mux.HandleFunc("POST /api/srt-pull", s.handleSRTPullCreate)
	mux.HandleFunc("DELETE /api/srt-pull", s.handleSRTPullStop)
	return corsMiddleware(mux)
}

// Handler returns the API handler for the HTTPS listener. Responses
// advertise the HTTP/3 endpoint when one is configured.
func (s *Server) Handler() http.Handler {
	h := s.routes()
	if s.h3 == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.h3.SetQUICHeaders(w.Header()); err != nil {
			s.log.Debug("setting Alt-Svc", "error", err)
		}
		h.ServeHTTP(w, r)
	})
}

// Start runs the HTTP/3 listener until ctx is cancelled. It returns
// immediately if no H3Addr is configured.
func (s *Server) Start(ctx context.Context) error {
	if s.h3 == nil {
		return nil
	}
	s.log.Info("HTTP/3 API server listening", "addr", s.config.H3Addr)

	stop := context.AfterFunc(ctx, func() { s.h3.Close() })
	defer stop()

	err := s.h3.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	resp := s.config.Sessions()
	if resp == nil {
		resp = make([]stream.Info, 0)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	info, ok := s.config.Lookup(key)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	detail := SessionDetail{Info: info}
	if s.config.Ingest != nil {
		detail.Ingest = s.config.Ingest(key)
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, certHashResponse{
		Hash: s.config.Cert.FingerprintBase64(),
		Addr: s.config.H3Addr,
	})
}

func (s *Server) handleSRTPullList(w http.ResponseWriter, _ *http.Request) {
	if s.config.SRTList == nil {
		writeJSON(w, http.StatusOK, []srt.PullRequest{})
		return
	}
	writeJSON(w, http.StatusOK, s.config.SRTList())
}

// SECURITY: the pull endpoint dials arbitrary addresses. Expose it only to
// trusted operators.
func (s *Server) handleSRTPullCreate(w http.ResponseWriter, r *http.Request) {
	if s.config.SRTPull == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	var req srt.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" || req.StreamKey == "" {
		writeError(w, http.StatusBadRequest, "address and streamKey are required")
		return
	}
	if err := s.config.SRTPull(req); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "pulling", "streamKey": req.StreamKey})
}

func (s *Server) handleSRTPullStop(w http.ResponseWriter, r *http.Request) {
	if s.config.SRTStop == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	streamKey := r.URL.Query().Get("streamKey")
	if streamKey == "" {
		writeError(w, http.StatusBadRequest, "streamKey query parameter required")
		return
	}
	if err := s.config.SRTStop(streamKey); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "streamKey": streamKey})
}
