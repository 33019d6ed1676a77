package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/gateway/apierror"
	"github.com/vango-go/vai-voice/pkg/gateway/chat"
	"github.com/vango-go/vai-voice/pkg/gateway/config"
	"github.com/vango-go/vai-voice/pkg/gateway/metrics"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
	"github.com/vango-go/vai-voice/pkg/gateway/sessions"
)

const defaultSessionLanguage = "en-US"

// ChatHandler upgrades /ws requests and serves one chat session per
// connection.
type ChatHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Generator chat.Generator
	Sessions  *sessions.Registry
	Metrics   *metrics.Metrics
	Draining  func() bool
	Now       func() time.Time
	// NewID overrides connection id generation in tests.
	NewID func() string
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if h.Draining != nil && h.Draining() {
		writeError(w, r, &apierror.Error{Type: apierror.ErrOverloaded, Message: "gateway is draining", Code: "draining"})
		return
	}
	if !mw.OriginAllowed(h.Config.CORSAllowedOrigins, r) {
		writeError(w, r, &apierror.Error{Type: apierror.ErrPermission, Message: "origin is not allowed", Param: "Origin"})
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := h.Now
	if now == nil {
		now = time.Now
	}
	newID := h.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	// Origin was checked above against the CORS allowlist.
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("chat upgrade failed", "error", err)
		return
	}

	connectedAt := now()
	sess := sessions.NewSession(newID(), h.Config.DefaultModel, defaultSessionLanguage, connectedAt)
	reqID, _ := mw.RequestIDFrom(r.Context())

	conn, err := chat.New(chat.Dependencies{
		Conn:      ws,
		Logger:    logger.With("request_id", reqID),
		Generator: h.Generator,
		Session:   sess,
		Metrics:   h.Metrics,
		Config: chat.Config{
			MaxMessageBytes: h.Config.WSMaxMessageBytes,
			PingInterval:    h.Config.WSPingInterval,
			WriteTimeout:    h.Config.WSWriteTimeout,
			ReadTimeout:     h.Config.WSReadTimeout,
			BackupModel:     h.Config.BackupModel,
		},
		Now: now,
	})
	if err != nil {
		logger.Error("chat session setup failed", "error", err)
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session setup failed"), time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}

	if h.Sessions != nil {
		unregister := h.Sessions.Register(sess, sessions.Handle{Cancel: conn.Cancel})
		defer unregister()
	}
	h.Metrics.RecordSessionStart()
	defer func() { h.Metrics.RecordSessionEnd(now().Sub(connectedAt)) }()

	if err := conn.Run(); err != nil {
		logger.Info("chat session ended", "connection_id", sess.ID, "error", err)
		return
	}
	logger.Info("chat session ended", "connection_id", sess.ID)
}
