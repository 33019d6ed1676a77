package convo

import (
	"fmt"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/protocol"
)

func TestContext_EvictsOldestAtCapacity(t *testing.T) {
	c := New(DefaultCapacity)
	base := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 11; i++ {
		c.AddUser(fmt.Sprintf("turn %d", i), base.Add(time.Duration(i)*time.Second))
	}

	if c.Len() != 10 {
		t.Fatalf("len=%d, want 10", c.Len())
	}
	turns := c.Turns()
	if turns[0].Text != "turn 1" || turns[9].Text != "turn 10" {
		t.Fatalf("first=%q last=%q", turns[0].Text, turns[9].Text)
	}

	w := c.Window(DefaultWindow)
	if len(w) != 4 || w[0].Text != "turn 7" || w[3].Text != "turn 10" {
		t.Fatalf("window=%v", w)
	}
}

func TestContext_WindowShorterThanRequested(t *testing.T) {
	c := New(0)
	at := time.UnixMilli(42)
	c.AddUser("hi", at)
	c.AddAssistant("hello!", at)

	w := c.Window(4)
	if len(w) != 2 {
		t.Fatalf("len=%d", len(w))
	}
	if w[1].Role != protocol.RoleAssistant || w[1].Timestamp != 42 {
		t.Fatalf("turn=%+v", w[1])
	}

	w[0].Text = "mutated"
	if c.Turns()[0].Text != "hi" {
		t.Fatalf("window must be a copy")
	}
}

func TestContext_Reset(t *testing.T) {
	c := New(3)
	c.AddUser("a", time.Now())
	c.Reset()
	if c.Len() != 0 || len(c.Window(4)) != 0 {
		t.Fatalf("expected empty context after reset")
	}
}
