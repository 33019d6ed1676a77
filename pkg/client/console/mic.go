package console

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-voice/pkg/client/clock"
	"github.com/vango-go/vai-voice/pkg/client/turn"
)

// DefaultSilenceTimeout mirrors how long a browser recognizer waits before
// reporting no-speech.
const DefaultSilenceTimeout = 8 * time.Second

type MicOptions struct {
	Clock          clock.Clock
	SilenceTimeout time.Duration
	Logger         *slog.Logger
}

// Mic turns typed lines into recognizer results. At most one recognizer it
// built is live at a time.
type Mic struct {
	clock   clock.Clock
	silence time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	live    *micRecognizer
	silentT clock.Timer
	armSeq  uint64
}

func NewMic(opts MicOptions) *Mic {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.SilenceTimeout <= 0 {
		opts.SilenceTimeout = DefaultSilenceTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Mic{clock: opts.Clock, silence: opts.SilenceTimeout, logger: opts.Logger}
}

// Factory builds recognizers for the turn controller.
func (m *Mic) Factory() turn.RecognizerFactory {
	return func(cfg turn.RecognizerConfig, events turn.RecognizerEvents) (turn.Recognizer, error) {
		return &micRecognizer{mic: m, cfg: cfg, events: events}, nil
	}
}

// Hear delivers text as speech to the live recognizer. It reports false
// when nothing is listening.
func (m *Mic) Hear(text string) bool {
	m.mu.Lock()
	r := m.live
	if r == nil {
		m.mu.Unlock()
		return false
	}
	if r.cfg.Continuous {
		m.armSilenceLocked(r)
	} else {
		m.endLocked()
	}
	m.mu.Unlock()

	if r.cfg.InterimResults {
		r.events.Result(turn.Transcript{Interim: text})
	}
	r.events.Result(turn.Transcript{Final: text, IsFinal: true})
	if !r.cfg.Continuous {
		r.events.Ended()
	}
	return true
}

func (m *Mic) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live != nil
}

func (m *Mic) armSilenceLocked(r *micRecognizer) {
	if m.silentT != nil {
		m.silentT.Stop()
	}
	m.armSeq++
	seq := m.armSeq
	m.silentT = m.clock.AfterFunc(m.silence, func() { m.onSilence(r, seq) })
}

func (m *Mic) endLocked() {
	if m.silentT != nil {
		m.silentT.Stop()
		m.silentT = nil
	}
	m.live = nil
}

func (m *Mic) onSilence(r *micRecognizer, seq uint64) {
	m.mu.Lock()
	if m.live != r || seq != m.armSeq {
		m.mu.Unlock()
		return
	}
	m.silentT = nil
	m.live = nil
	m.mu.Unlock()

	m.logger.Debug("mic silence", "language", r.cfg.Language)
	r.events.Error(turn.RecognizerNoSpeech)
	r.events.Ended()
}

type micRecognizer struct {
	mic    *Mic
	cfg    turn.RecognizerConfig
	events turn.RecognizerEvents
}

// Start makes r the live recognizer, replacing any other.
func (r *micRecognizer) Start(ctx context.Context) error {
	m := r.mic
	m.mu.Lock()
	if m.live == r {
		m.mu.Unlock()
		return nil
	}
	prev := m.live
	m.live = r
	m.armSilenceLocked(r)
	m.mu.Unlock()

	if prev != nil {
		prev.events.Error(turn.RecognizerAborted)
		prev.events.Ended()
	}
	r.events.Started()
	return nil
}

func (r *micRecognizer) Stop() error {
	m := r.mic
	m.mu.Lock()
	if m.live != r {
		m.mu.Unlock()
		return nil
	}
	m.endLocked()
	m.mu.Unlock()

	r.events.Ended()
	return nil
}
