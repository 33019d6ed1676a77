package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/generation"
	"github.com/vango-go/vai-voice/pkg/gateway/metrics"
)

type staticGenerator struct{}

func (staticGenerator) Generate(ctx context.Context, req generation.Request) (string, error) {
	return "ok", nil
}

func testConfig() config.Config {
	return config.Config{
		DefaultModel:       config.DefaultModel,
		BackupModel:        config.DefaultBackupModel,
		CORSAllowedOrigins: map[string]struct{}{},
		WSMaxMessageBytes:  64 * 1024,
		WSPingInterval:     time.Hour,
		WSWriteTimeout:     time.Second,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(testConfig(), slog.New(slog.NewJSONHandler(io.Discard, nil)), staticGenerator{}, metrics.New(""))
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_HealthAndMetricsReachable(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status=%d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s: missing X-Request-ID", path)
		}
	}
}

func TestServer_DrainFlipsReadiness(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !s.Drain(ctx) {
		t.Fatalf("expected drain with no sessions to complete")
	}

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestServer_DrainCancelsOpenSessions(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read connection_established: %v", err)
	}
	if s.Sessions().Count() != 1 {
		t.Fatalf("sessions=%d", s.Sessions().Count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if s.Drain(ctx) {
		t.Fatalf("expected drain to time out with an open session")
	}

	// The canceled session closes its socket.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to close after cancel")
	}
}

func TestServer_SessionCapRejectsSecondSocket(t *testing.T) {
	cfg := testConfig()
	cfg.WSMaxSessionsPerClient = 1
	s := New(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)), staticGenerator{}, metrics.New(""))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err != nil {
		t.Fatalf("read connection_established: %v", err)
	}

	second, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		second.Close()
		t.Fatalf("expected second dial to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("resp=%v err=%v", resp, err)
	}
}
