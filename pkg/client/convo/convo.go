// Package convo keeps the bounded in-memory conversation the client sends
// as context with each request.
package convo

import (
	"time"

	"github.com/vango-go/vai-voice/pkg/protocol"
)

const (
	DefaultCapacity = 10
	DefaultWindow   = 4
)

// Context holds the most recent turns, evicting the oldest first. It is
// not safe for concurrent use.
type Context struct {
	capacity int
	turns    []protocol.Turn
}

func New(capacity int) *Context {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Context{capacity: capacity, turns: make([]protocol.Turn, 0, capacity)}
}

func (c *Context) Append(t protocol.Turn) {
	if len(c.turns) == c.capacity {
		copy(c.turns, c.turns[1:])
		c.turns = c.turns[:len(c.turns)-1]
	}
	c.turns = append(c.turns, t)
}

func (c *Context) AddUser(text string, at time.Time) {
	c.Append(protocol.Turn{Role: protocol.RoleUser, Text: text, Timestamp: at.UnixMilli()})
}

func (c *Context) AddAssistant(text string, at time.Time) {
	c.Append(protocol.Turn{Role: protocol.RoleAssistant, Text: text, Timestamp: at.UnixMilli()})
}

func (c *Context) Len() int { return len(c.turns) }

func (c *Context) Turns() []protocol.Turn {
	return append([]protocol.Turn(nil), c.turns...)
}

// Window returns a copy of the trailing n turns.
func (c *Context) Window(n int) []protocol.Turn {
	if n <= 0 {
		return nil
	}
	start := len(c.turns) - n
	if start < 0 {
		start = 0
	}
	return append([]protocol.Turn(nil), c.turns[start:]...)
}

func (c *Context) Reset() {
	c.turns = c.turns[:0]
}
