package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/vango-go/vai-voice/pkg/gateway/chat"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/handlers"
	"github.com/vango-go/vai-voice/pkg/gateway/metrics"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-voice/pkg/gateway/sessions"
)

type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	mux       *http.ServeMux
	generator chat.Generator
	metrics   *metrics.Metrics
	sessions  *sessions.Registry
	limiter   *ratelimit.Limiter
	draining  atomic.Bool
}

// New wires the gateway routes. m may be nil, in which case /metrics
// answers 404.
func New(cfg config.Config, logger *slog.Logger, generator chat.Generator, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		generator: generator,
		metrics:   m,
		sessions:  sessions.NewRegistry(),
	}
	if lc := limiterConfig(cfg); lc.Enabled() {
		s.limiter = ratelimit.New(lc)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/health", handlers.HealthHandler{})
	s.mux.Handle("/ready", handlers.ReadyHandler{
		Draining: s.IsDraining,
		Sessions: s.sessions.Count,
	})
	s.mux.Handle("/metrics", s.metrics.Handler())
	s.mux.Handle("/ws", mw.RateLimit(s.limiter, s.metrics, handlers.ChatHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Generator: s.generator,
		Sessions:  s.sessions,
		Metrics:   s.metrics,
		Draining:  s.IsDraining,
	}))
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func limiterConfig(cfg config.Config) ratelimit.Config {
	return ratelimit.Config{
		UpgradesPerSecond:    cfg.WSUpgradesPerSecond,
		Burst:                cfg.WSUpgradeBurst,
		MaxSessionsPerClient: cfg.WSMaxSessionsPerClient,
	}
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

func (s *Server) SetDraining(draining bool) { s.draining.Store(draining) }

func (s *Server) IsDraining() bool { return s.draining.Load() }

func (s *Server) Sessions() *sessions.Registry { return s.sessions }

// Drain stops accepting chat sessions and waits for open ones to finish.
// Sessions still open when ctx ends are canceled; Drain then reports false.
func (s *Server) Drain(ctx context.Context) bool {
	s.SetDraining(true)
	if s.sessions.Wait(ctx) {
		return true
	}
	n := s.sessions.CancelAll()
	s.logger.Warn("canceled chat sessions at shutdown", "sessions", n)
	return false
}
