// Package generation wraps the hosted language-model call used to answer
// chat turns and classifies its failures.
package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/vai-voice/pkg/protocol"
)

const tracerName = "github.com/vango-go/vai-voice/pkg/gateway/generation"

// Backend roles. Assistant turns are sent as RoleModel.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

type Content struct {
	Role string
	Text string
}

type BackendRequest struct {
	Model             string
	SystemInstruction string
	Contents          []Content
	MaxOutputTokens   int
	Temperature       float64
}

// Backend performs one non-streaming generation call.
type Backend interface {
	Generate(ctx context.Context, req BackendRequest) (string, error)
}

type Request struct {
	ModelID  string
	Text     string
	Language string
	History  []protocol.Turn
}

// InstructionSource localizes the system instruction.
type InstructionSource interface {
	SystemInstruction(language string) string
}

type Options struct {
	Backend      Backend
	Instructions InstructionSource

	HistoryTurns    int
	MaxOutputTokens int
	Temperature     float64
	Timeout         time.Duration

	Tracer trace.Tracer
	Now    func() time.Time
}

type Gateway struct {
	backend      Backend
	instructions InstructionSource
	historyTurns int
	maxTokens    int
	temperature  float64
	timeout      time.Duration
	tracer       trace.Tracer
	now          func() time.Time
}

func New(opts Options) (*Gateway, error) {
	if opts.Backend == nil {
		return nil, errors.New("generation: backend is required")
	}
	if opts.Instructions == nil {
		return nil, errors.New("generation: instruction source is required")
	}
	g := &Gateway{
		backend:      opts.Backend,
		instructions: opts.Instructions,
		historyTurns: opts.HistoryTurns,
		maxTokens:    opts.MaxOutputTokens,
		temperature:  opts.Temperature,
		timeout:      opts.Timeout,
		tracer:       opts.Tracer,
		now:          opts.Now,
	}
	if g.historyTurns < 0 {
		g.historyTurns = 0
	}
	if g.maxTokens <= 0 {
		g.maxTokens = 150
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(tracerName)
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Generate answers req.Text. Failures are always returned as *Error.
func (g *Gateway) Generate(ctx context.Context, req Request) (string, error) {
	ctx, span := g.tracer.Start(ctx, "generation.generate", trace.WithAttributes(
		attribute.String("gen.model", req.ModelID),
		attribute.String("gen.language", req.Language),
		attribute.Int("gen.history_turns", len(req.History)),
	))
	defer span.End()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.backend.Generate(ctx, BackendRequest{
		Model:             req.ModelID,
		SystemInstruction: g.instructions.SystemInstruction(req.Language),
		Contents:          g.buildContents(req.Text, req.History),
		MaxOutputTokens:   g.maxTokens,
		Temperature:       g.temperature,
	})
	if err != nil {
		classified := Classify(err, g.now())
		span.RecordError(err)
		span.SetStatus(codes.Error, string(classified.Code))
		span.SetAttributes(attribute.String("gen.error_code", string(classified.Code)))
		return "", classified
	}
	span.SetAttributes(attribute.Int("gen.output_chars", len(out)))
	return out, nil
}

// buildContents keeps the trailing historyTurns turns and appends the new
// user text.
func (g *Gateway) buildContents(text string, history []protocol.Turn) []Content {
	if len(history) > g.historyTurns {
		history = history[len(history)-g.historyTurns:]
	}
	contents := make([]Content, 0, len(history)+1)
	for _, turn := range history {
		role := RoleUser
		if strings.EqualFold(turn.Role, protocol.RoleAssistant) {
			role = RoleModel
		}
		contents = append(contents, Content{Role: role, Text: turn.Text})
	}
	return append(contents, Content{Role: RoleUser, Text: text})
}
