package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/protocol"
)

type fakeBackend struct {
	got   []BackendRequest
	reply string
	err   error
	block bool
}

func (f *fakeBackend) Generate(ctx context.Context, req BackendRequest) (string, error) {
	f.got = append(f.got, req)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

type fixedInstructions struct{}

func (fixedInstructions) SystemInstruction(language string) string { return "persona:" + language }

func newTestGateway(t *testing.T, backend Backend, opts Options) *Gateway {
	t.Helper()
	opts.Backend = backend
	opts.Instructions = fixedInstructions{}
	g, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func TestGateway_TrimsHistoryAndMapsRoles(t *testing.T) {
	backend := &fakeBackend{reply: "The RV400 has a range of 150 km."}
	g := newTestGateway(t, backend, Options{HistoryTurns: 6, MaxOutputTokens: 150, Temperature: 0.7})

	var history []protocol.Turn
	for i := 0; i < 8; i++ {
		role := protocol.RoleUser
		if i%2 == 1 {
			role = protocol.RoleAssistant
		}
		history = append(history, protocol.Turn{Role: role, Text: string(rune('a' + i))})
	}

	out, err := g.Generate(context.Background(), Request{ModelID: "m", Text: "range?", Language: "hi-IN", History: history})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != backend.reply {
		t.Fatalf("out=%q", out)
	}
	req := backend.got[0]
	if req.SystemInstruction != "persona:hi-IN" || req.Model != "m" {
		t.Fatalf("req=%+v", req)
	}
	if req.MaxOutputTokens != 150 || req.Temperature != 0.7 {
		t.Fatalf("generation params=%d/%v", req.MaxOutputTokens, req.Temperature)
	}
	if len(req.Contents) != 7 {
		t.Fatalf("contents=%d, want 6 history + 1", len(req.Contents))
	}
	if req.Contents[0].Text != "c" || req.Contents[0].Role != RoleUser {
		t.Fatalf("first kept turn=%+v", req.Contents[0])
	}
	if req.Contents[1].Role != RoleModel {
		t.Fatalf("assistant role=%q, want model", req.Contents[1].Role)
	}
	last := req.Contents[len(req.Contents)-1]
	if last.Role != RoleUser || last.Text != "range?" {
		t.Fatalf("last=%+v", last)
	}
}

func TestGateway_ClassifiesBackendErrors(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	backend := &fakeBackend{err: &ProviderError{HTTPStatus: 429, Details: []map[string]any{quotaFailure("PerDay", "")}}}
	g := newTestGateway(t, backend, Options{Now: func() time.Time { return now }})

	_, err := g.Generate(context.Background(), Request{ModelID: "m", Text: "hi"})
	var gerr *Error
	if !errors.As(err, &gerr) {
		t.Fatalf("err=%T, want *Error", err)
	}
	if gerr.Code != CodeDailyQuotaExceeded || !gerr.ResetsAt.Equal(time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("gerr=%+v", gerr)
	}
}

func TestGateway_TimeoutIsUnknownTimedOut(t *testing.T) {
	backend := &fakeBackend{block: true}
	g := newTestGateway(t, backend, Options{Timeout: 10 * time.Millisecond})

	_, err := g.Generate(context.Background(), Request{ModelID: "m", Text: "hi"})
	var gerr *Error
	if !errors.As(err, &gerr) {
		t.Fatalf("err=%T", err)
	}
	if gerr.Code != CodeUnknown || !strings.Contains(gerr.Message, "timed out") {
		t.Fatalf("gerr=%+v", gerr)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Options{Instructions: fixedInstructions{}}); err == nil {
		t.Fatalf("expected error without backend")
	}
	if _, err := New(Options{Backend: &fakeBackend{}}); err == nil {
		t.Fatalf("expected error without instructions")
	}
}
