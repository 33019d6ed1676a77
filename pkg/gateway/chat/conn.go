// Package chat runs one chat WebSocket connection: it decodes client
// frames, enforces one generation at a time per session, and relays
// answers and classified failures back to the client.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/gateway/generation"
	"github.com/vango-go/vai-voice/pkg/gateway/metrics"
	"github.com/vango-go/vai-voice/pkg/gateway/sessions"
	"github.com/vango-go/vai-voice/pkg/protocol"
)

const rateLimitedMessage = "Rate limited by the API"

var errBackpressure = errors.New("chat outbound backpressure")

// Generator answers one text request. Errors are classified with
// generation.Classify unless they already are a *generation.Error.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (string, error)
}

type Config struct {
	MaxMessageBytes   int64
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	OutboundQueueSize int

	// BackupModel is used by switch_model frames that name no model.
	BackupModel string
}

type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Generator Generator
	Session   *sessions.Session
	Metrics   *metrics.Metrics
	Config    Config
	Now       func() time.Time
}

type Conn struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	generator Generator
	session   *sessions.Session
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outbound chan []byte
	wg       sync.WaitGroup
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*Conn, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 32
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		conn:      deps.Conn,
		logger:    deps.Logger.With("connection_id", deps.Session.ID),
		generator: deps.Generator,
		session:   deps.Session,
		metrics:   deps.Metrics,
		cfg:       deps.Config,
		now:       deps.Now,
		ctx:       ctx,
		cancel:    cancel,
		outbound:  make(chan []byte, deps.Config.OutboundQueueSize),
	}, nil
}

// Run serves the connection until the client disconnects, a write fails,
// or Cancel is called.
func (c *Conn) Run() error {
	defer c.wg.Wait()
	defer c.cancel()

	if c.cfg.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	}
	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 16)
	writerErrCh := make(chan error, 1)
	go c.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:           c.conn,
			ctx:          c.ctx,
			frames:       c.outbound,
			pingInterval: c.cfg.PingInterval,
			writeTimeout: c.cfg.WriteTimeout,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	_ = c.send(protocol.ServerConnectionEstablished{Type: protocol.TypeConnectionEstablished, ConnectionID: c.session.ID})
	c.logger.Info("chat session connected", "model", c.session.Model())

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case err := <-writerErrCh:
			if err != nil {
				c.logger.Warn("chat writer failed", "error", err)
			}
			return err
		case frame, ok := <-readCh:
			if !ok {
				return nil
			}
			if frame.err != nil {
				if websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Info("chat session closed by client")
					return nil
				}
				c.logger.Info("chat session read ended", "error", frame.err)
				return nil
			}
			if frame.messageType != websocket.TextMessage {
				c.logger.Debug("ignoring non-text frame", "message_type", frame.messageType)
				continue
			}
			c.handleFrame(frame.data)
		}
	}
}

func (c *Conn) Cancel() {
	if c == nil || c.cancel == nil {
		return
	}
	c.cancel()
}

func (c *Conn) handleFrame(data []byte) {
	env, msg, err := protocol.DecodeClientMessage(data)
	if env.Language != "" {
		c.session.SetLanguage(env.Language)
	}
	if err != nil {
		if protocol.IsUnsupported(err) {
			c.logger.Info("unknown message type", "type", env.Type)
			return
		}
		c.logger.Warn("invalid client frame", "error", err)
		return
	}

	switch m := msg.(type) {
	case protocol.ClientText:
		c.handleText(m)
	case protocol.ClientInterrupt:
		c.metrics.RecordControl(protocol.TypeInterrupt)
		_ = c.send(protocol.ServerInterrupted{Type: protocol.TypeInterrupted})
	case protocol.ClientReset:
		c.metrics.RecordControl(protocol.TypeReset)
		_ = c.send(protocol.ServerResetComplete{Type: protocol.TypeResetComplete})
	case protocol.ClientSwitchModel:
		model := m.Model
		if model == "" {
			model = c.cfg.BackupModel
		}
		if model == "" {
			c.logger.Warn("switch_model without model and no backup configured")
			return
		}
		c.session.SetModel(model)
		c.metrics.RecordModelSwitch(model)
		c.logger.Info("model switched", "model", model)
		_ = c.send(protocol.ServerModelSwitched{Type: protocol.TypeModelSwitched, Model: model})
	}
}

func (c *Conn) handleText(m protocol.ClientText) {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}
	if !c.session.TryBeginProcessing() {
		c.metrics.RecordDropped()
		c.logger.Debug("dropping text while processing")
		return
	}

	req := generation.Request{
		ModelID:  c.session.Model(),
		Text:     text,
		Language: c.session.Language(),
		History:  m.Context,
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.process(req)
	}()
}

// process runs one generation. processing_end is always sent after the
// session flag is released.
func (c *Conn) process(req generation.Request) {
	defer func() {
		c.session.EndProcessing()
		_ = c.send(protocol.ServerProcessingEnd{Type: protocol.TypeProcessingEnd})
	}()
	_ = c.send(protocol.ServerProcessingStart{Type: protocol.TypeProcessingStart})

	start := c.now()
	out, err := c.generator.Generate(c.ctx, req)
	elapsed := c.now().Sub(start)
	if err == nil {
		c.metrics.RecordRequest(req.ModelID, metrics.OutcomeOK, elapsed)
		_ = c.send(protocol.ServerResponse{Type: protocol.TypeResponse, Text: out})
		return
	}

	gerr := generation.Classify(err, c.now())
	switch gerr.Code {
	case generation.CodeDailyQuotaExceeded:
		c.metrics.RecordRequest(req.ModelID, metrics.OutcomeDailyQuotaExceeded, elapsed)
		c.logger.Warn("daily quota exceeded", "model", req.ModelID, "resets_at", gerr.ResetsAt)
		_ = c.send(protocol.ServerQuotaExceeded{
			Type:       protocol.TypeQuotaExceeded,
			Model:      req.ModelID,
			ResetsAtMS: gerr.ResetsAt.UnixMilli(),
		})
	case generation.CodeRateLimited:
		c.metrics.RecordRequest(req.ModelID, metrics.OutcomeRateLimited, elapsed)
		retry := gerr.RetryAfter.Milliseconds()
		c.logger.Warn("rate limited", "model", req.ModelID, "retry_after_ms", retry)
		_ = c.send(protocol.ServerError{
			Type:         protocol.TypeError,
			Code:         protocol.CodeRateLimited,
			Message:      rateLimitedMessage,
			RetryAfterMS: &retry,
		})
	default:
		c.metrics.RecordRequest(req.ModelID, metrics.OutcomeUnknown, elapsed)
		c.logger.Error("generation failed", "model", req.ModelID, "error", err)
		_ = c.send(protocol.ServerError{
			Type:    protocol.TypeError,
			Code:    protocol.CodeUnknown,
			Message: gerr.Message,
		})
	}
}

func (c *Conn) send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}
	select {
	case c.outbound <- payload:
		return nil
	default:
		c.logger.Warn("dropping outbound frame", "error", errBackpressure)
		return errBackpressure
	}
}

func (c *Conn) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-c.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-c.ctx.Done():
			return
		}
	}
}
