package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/vdec/internal/certs"
	"github.com/zsiec/vdec/internal/ingest"
	"github.com/zsiec/vdec/internal/ingest/srt"
	"github.com/zsiec/vdec/internal/session"
	"github.com/zsiec/vdec/internal/stream"
)

func testCert(t *testing.T) *certs.CertInfo {
	t.Helper()
	cert, err := certs.Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("certs.Generate: %v", err)
	}
	return cert
}

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	mgr := stream.NewManager(nil)
	mgr.Create("cam1")
	mgr.Attach("cam1", session.New("cam1", session.DefaultConfig()))
	mgr.Create("studio/cam2")

	cfg := Config{
		Cert: testCert(t),
		Sessions: func() []stream.Info {
			var out []stream.Info
			for _, s := range mgr.List() {
				out = append(out, s.Info())
			}
			return out
		},
		Lookup: func(key string) (stream.Info, bool) {
			s, ok := mgr.Get(key)
			if !ok {
				return stream.Info{}, false
			}
			return s.Info(), true
		},
		Ingest: func(key string) *ingest.IngestStats {
			if key != "cam1" {
				return nil
			}
			return &ingest.IngestStats{Format: "h264", BytesReceived: 42}
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServerValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewServer(Config{}); err == nil {
		t.Error("missing Cert accepted")
	}
	if _, err := NewServer(Config{Cert: testCert(t)}); err == nil {
		t.Error("missing Sessions accepted")
	}
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	rec := serve(newTestServer(t, nil).Handler(), "GET", "/api/sessions", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
	var infos []stream.Info
	if err := json.NewDecoder(rec.Body).Decode(&infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "cam1" || infos[1].Key != "studio/cam2" {
		t.Fatalf("sessions = %+v", infos)
	}
	if infos[0].Session == nil || infos[0].Session.Codec != "h264" {
		t.Errorf("cam1 session = %+v", infos[0].Session)
	}
	if infos[1].Session != nil {
		t.Error("unattached stream reported a session")
	}
}

func TestListSessionsEmpty(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, func(c *Config) {
		c.Sessions = func() []stream.Info { return nil }
	})
	rec := serve(srv.Handler(), "GET", "/api/sessions", "")
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestGetSession(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, nil).Handler()

	tests := []struct {
		path       string
		wantStatus int
		wantIngest bool
	}{
		{"/api/sessions/cam1", http.StatusOK, true},
		{"/api/sessions/studio/cam2", http.StatusOK, false},
		{"/api/sessions/missing", http.StatusNotFound, false},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()
			rec := serve(h, "GET", tc.path, "")
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if tc.wantStatus != http.StatusOK {
				return
			}
			var detail SessionDetail
			if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got := detail.Ingest != nil; got != tc.wantIngest {
				t.Errorf("ingest present = %v, want %v", got, tc.wantIngest)
			}
			if tc.wantIngest && detail.Ingest.BytesReceived != 42 {
				t.Errorf("ingest = %+v", detail.Ingest)
			}
			if detail.ID == "" {
				t.Error("missing session id")
			}
		})
	}
}

func TestCertHash(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, func(c *Config) { c.H3Addr = ":4445" })
	rec := serve(srv.Handler(), "GET", "/api/cert-hash", "")

	var resp certHashResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Hash != srv.config.Cert.FingerprintBase64() || resp.Addr != ":4445" {
		t.Errorf("response = %+v", resp)
	}
	if rec.Header().Get("Alt-Svc") == "" {
		t.Error("missing Alt-Svc header with HTTP/3 configured")
	}
}

func TestSRTPullRoutes(t *testing.T) {
	t.Parallel()
	var pulled []srt.PullRequest
	srv := newTestServer(t, func(c *Config) {
		c.SRTPull = func(req srt.PullRequest) error {
			if req.StreamKey == "busy" {
				return errors.New("already active")
			}
			pulled = append(pulled, req)
			return nil
		}
		c.SRTStop = func(key string) error {
			if key != "cam1" {
				return errors.New("no pull")
			}
			return nil
		}
		c.SRTList = func() []srt.PullRequest { return pulled }
	})
	h := srv.Handler()

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{"create", "POST", "/api/srt-pull", `{"address":"10.0.0.1:6000","streamKey":"cam1","codec":"hevc"}`, http.StatusCreated},
		{"create bad json", "POST", "/api/srt-pull", `{`, http.StatusBadRequest},
		{"create missing fields", "POST", "/api/srt-pull", `{"address":"10.0.0.1:6000"}`, http.StatusBadRequest},
		{"create conflict", "POST", "/api/srt-pull", `{"address":"10.0.0.1:6000","streamKey":"busy"}`, http.StatusConflict},
		{"stop", "DELETE", "/api/srt-pull?streamKey=cam1", "", http.StatusOK},
		{"stop missing key", "DELETE", "/api/srt-pull", "", http.StatusBadRequest},
		{"stop unknown", "DELETE", "/api/srt-pull?streamKey=nope", "", http.StatusNotFound},
	}
	for _, tc := range tests {
		rec := serve(h, tc.method, tc.target, tc.body)
		if rec.Code != tc.wantStatus {
			t.Errorf("%s: status = %d, want %d (%s)", tc.name, rec.Code, tc.wantStatus, rec.Body)
		}
	}

	if len(pulled) != 1 || pulled[0].Codec != "hevc" {
		t.Fatalf("pulled = %+v", pulled)
	}
	rec := serve(h, "GET", "/api/srt-pull", "")
	var list []srt.PullRequest
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].StreamKey != "cam1" {
		t.Errorf("list = %+v", list)
	}
}

func TestSRTPullNotConfigured(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, nil).Handler()
	if rec := serve(h, "POST", "/api/srt-pull", `{}`); rec.Code != http.StatusNotImplemented {
		t.Errorf("POST status = %d", rec.Code)
	}
	if rec := serve(h, "DELETE", "/api/srt-pull?streamKey=x", ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("DELETE status = %d", rec.Code)
	}
	if rec := serve(h, "GET", "/api/srt-pull", ""); strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("GET body = %q", rec.Body)
	}
}
