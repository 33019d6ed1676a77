package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/client/config"
	gatewayconfig "github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/generation"
	"github.com/vango-go/vai-voice/pkg/gateway/metrics"
	gatewayserver "github.com/vango-go/vai-voice/pkg/gateway/server"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, req generation.Request) (string, error) {
	return "echo: " + req.Text, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitForOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("output never contained %q:\n%s", want, out.String())
}

func TestParseClientFlags(t *testing.T) {
	env := map[string]string{}
	getenv := func(k string) string { return env[k] }

	f, err := parseClientFlags(nil, getenv)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.ConfigPath != config.DefaultPath || f.Required {
		t.Fatalf("flags=%+v", f)
	}

	env["VAI_VOICE_CONFIG"] = "/etc/vai-voice.toml"
	f, _ = parseClientFlags(nil, getenv)
	if f.ConfigPath != "/etc/vai-voice.toml" || !f.Required {
		t.Fatalf("flags=%+v", f)
	}

	delete(env, "VAI_VOICE_CONFIG")
	f, _ = parseClientFlags([]string{"-config", "mine.toml", "-lang", "ta-IN", "-server-url", "ws://h/ws"}, getenv)
	if f.ConfigPath != "mine.toml" || !f.Required || f.Language != "ta-IN" || f.ServerURL != "ws://h/ws" {
		t.Fatalf("flags=%+v", f)
	}

	if _, err := parseClientFlags([]string{"-nope"}, getenv); err == nil {
		t.Fatalf("expected unknown flag error")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.toml")
	cfg, err := loadConfig(clientFlags{ConfigPath: missing, Language: "kn-IN"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Language != "kn-IN" || cfg.ServerURL != config.DefaultServerURL {
		t.Fatalf("cfg=%+v", cfg)
	}
	if _, err := loadConfig(clientFlags{ConfigPath: missing, ServerURL: "http://localhost/ws"}); err == nil {
		t.Fatalf("expected validation error for http url")
	}
}

func TestRunMain_MissingRequiredConfig(t *testing.T) {
	var stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "none.toml")}, strings.NewReader(""), io.Discard, &stderr)
	if code != 1 || !strings.Contains(stderr.String(), "vai-voice:") {
		t.Fatalf("code=%d stderr=%q", code, stderr.String())
	}
}

func TestRunClient_TalksToGateway(t *testing.T) {
	gw := gatewayserver.New(gatewayconfig.Config{
		DefaultModel:       gatewayconfig.DefaultModel,
		BackupModel:        gatewayconfig.DefaultBackupModel,
		CORSAllowedOrigins: map[string]struct{}{},
		WSMaxMessageBytes:  64 * 1024,
		WSPingInterval:     time.Hour,
		WSWriteTimeout:     time.Second,
	}, quietLogger(), echoGenerator{}, metrics.New(""))
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	cfg := config.Default()
	cfg.ServerURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg.Store = config.StoreConfig{Driver: "memory"}
	cfg.Log.File = ""
	cfg.SettleDelay = 10 * time.Millisecond
	cfg.ReconnectBackoff = 50 * time.Millisecond
	cfg.Speech.WordDuration = time.Millisecond

	pr, pw := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- runClient(context.Background(), cfg, quietLogger(), pr, out) }()

	waitForOutput(t, out, "Type /start to talk")
	if _, err := io.WriteString(pw, "what is the range of RV400\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForOutput(t, out, "cho: what is the range of RV400")

	if _, err := io.WriteString(pw, "/quit\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runClient=%v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runClient did not stop")
	}
	_ = pw.Close()
}
