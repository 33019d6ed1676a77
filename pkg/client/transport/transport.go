// Package transport is the client's reconnecting WebSocket channel to the
// chat gateway.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/protocol"
)

var ErrNotConnected = errors.New("transport: not connected")

const (
	DefaultBackoff      = 3 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Handler receives connection lifecycle events and decoded server
// messages. Calls come from the Run goroutine, one at a time.
type Handler interface {
	OnOpen()
	OnClose(err error)
	OnError(err error)
	OnMessage(msg any)
}

type Options struct {
	URL          string
	Dialer       *websocket.Dialer
	Backoff      time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

type Client struct {
	url          string
	dialer       *websocket.Dialer
	backoff      time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	kick chan struct{}
}

func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("transport: url is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		url:          opts.URL,
		dialer:       opts.Dialer,
		backoff:      opts.Backoff,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		kick:         make(chan struct{}, 1),
	}, nil
}

// Run dials, serves and redials until ctx is done. It returns nil on
// cancellation.
func (c *Client) Run(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("transport: handler is required")
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("dial failed", "url", c.url, "error", err)
			h.OnError(fmt.Errorf("dial %s: %w", c.url, err))
		} else {
			c.serve(ctx, conn, h)
		}
		if !c.wait(ctx) {
			return nil
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn, h Handler) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("connected", "url", c.url)
	h.OnOpen()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	err := c.readLoop(conn, h)

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	_ = conn.Close()

	if ctx.Err() != nil {
		return
	}
	c.logger.Info("disconnected", "error", err)
	h.OnClose(err)
}

func (c *Client) readLoop(conn *websocket.Conn, h Handler) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			c.logger.Warn("skipping undecodable frame", "error", err)
			continue
		}
		h.OnMessage(msg)
	}
}

// wait sleeps for the backoff or until a Send kicks a redial. It reports
// false when ctx ended.
func (c *Client) wait(ctx context.Context) bool {
	timer := time.NewTimer(c.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-c.kick:
		return true
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes v as one JSON text frame. While disconnected it returns
// ErrNotConnected at once and asks Run to redial without waiting out the
// backoff.
func (c *Client) Send(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		select {
		case c.kick <- struct{}{}:
		default:
		}
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}
