// Package turn is the client's turn-taking controller. It decides when the
// assistant listens, thinks and speaks, keeps at most one request in
// flight, and handles barge-in, language switching and quota recovery.
//
// All state lives on one goroutine. Collaborator callbacks, timers and
// public methods only enqueue work for it.
package turn

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/vango-go/vai-voice/pkg/client/clock"
	"github.com/vango-go/vai-voice/pkg/client/convo"
	"github.com/vango-go/vai-voice/pkg/client/language"
	"github.com/vango-go/vai-voice/pkg/client/localstore"
	"github.com/vango-go/vai-voice/pkg/client/quota"
)

type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

const (
	DefaultSettleDelay    = 250 * time.Millisecond
	DefaultIdleTimeout    = 30 * time.Second
	DefaultRestartDelay   = 300 * time.Millisecond
	DefaultNoSpeechWindow = 10 * time.Second

	voicePollInterval = 100 * time.Millisecond
	voicePollAttempts = 10

	contextWindow = convo.DefaultWindow
)

type SpeechParams struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

func DefaultSpeechParams() SpeechParams {
	return SpeechParams{Rate: 1.04, Pitch: 1.06, Volume: 1.0}
}

type Options struct {
	Sender        Sender
	Synthesizer   Synthesizer
	NewRecognizer RecognizerFactory
	UI            UI
	Logger        *slog.Logger
	Clock         clock.Clock
	Rand          Rand

	// Quota options; the controller wires the lock hooks and banner.
	Store       localstore.Store
	BackupModel string

	Language       string
	SettleDelay    time.Duration
	IdleTimeout    time.Duration
	RestartDelay   time.Duration
	NoSpeechWindow time.Duration
	Speech         SpeechParams
}

type Controller struct {
	sender     Sender
	synth      Synthesizer
	newRec     RecognizerFactory
	ui         UI
	logger     *slog.Logger
	clock      clock.Clock
	rnd        Rand
	quota      *quota.Guard
	queue      *eventQueue
	ctx        context.Context
	settle     time.Duration
	idleAfter  time.Duration
	restart    time.Duration
	noSpeech   time.Duration
	speech     SpeechParams

	conversation *convo.Context

	state    State
	active   bool
	language string

	// Request pipe.
	busy      bool
	pending   string
	lastSent  string
	retryHold bool
	flushT    clock.Timer
	retryT    clock.Timer

	// Recognizer. recGen tags events so a torn-down instance is ignored.
	rec        Recognizer
	recGen     uint64
	recRunning bool
	restartT   clock.Timer

	// Synthesis. Events for any id but current are stale.
	utterSeq   uint64
	current    uint64
	bargeArmed bool
	voice      *language.Voice
	voiceWait  *voiceWait

	// Interrupt frames sent and not yet acknowledged.
	interruptAcks int

	idleT      clock.Timer
	idleSeq    uint64
	lastSpeech time.Time

	connected          bool
	disconnectNotified bool
	connectionID       string
}

type voiceWait struct {
	text     string
	attempts int
	timer    clock.Timer
}

func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Language == "" {
		opts.Language = language.Default
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.NoSpeechWindow <= 0 {
		opts.NoSpeechWindow = DefaultNoSpeechWindow
	}
	if opts.Speech == (SpeechParams{}) {
		opts.Speech = DefaultSpeechParams()
	}

	c := &Controller{
		sender:       opts.Sender,
		synth:        opts.Synthesizer,
		newRec:       opts.NewRecognizer,
		ui:           opts.UI,
		logger:       opts.Logger,
		clock:        opts.Clock,
		rnd:          opts.Rand,
		queue:        newEventQueue(),
		ctx:          context.Background(),
		settle:       opts.SettleDelay,
		idleAfter:    opts.IdleTimeout,
		restart:      opts.RestartDelay,
		noSpeech:     opts.NoSpeechWindow,
		speech:       opts.Speech,
		conversation: convo.New(convo.DefaultCapacity),
		language:     opts.Language,
		lastSpeech:   opts.Clock.Now(),
	}
	c.quota = quota.New(quota.Options{
		Store:       opts.Store,
		Clock:       opts.Clock,
		Banner:      opts.UI,
		Sender:      opts.Sender,
		Logger:      opts.Logger,
		BackupModel: opts.BackupModel,
		OnLock:      func(string, time.Time) { c.post(c.onQuotaLocked) },
		OnUnlock:    func() { c.post(c.onQuotaUnlocked) },
	})
	return c
}

// Run processes events until ctx is done. It restores a persisted quota
// lock first.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	if err := c.quota.Restore(ctx); err != nil {
		c.logger.Warn("quota restore failed", "error", err)
	}
	for {
		c.drain()
		select {
		case <-ctx.Done():
			c.post(c.shutdown)
			c.drain()
			return nil
		case <-c.queue.ready:
		}
	}
}

func (c *Controller) post(f func()) { c.queue.push(f) }

func (c *Controller) drain() {
	for {
		f, ok := c.queue.pop()
		if !ok {
			return
		}
		f()
	}
}

// after runs f on the loop once d has elapsed.
func (c *Controller) after(d time.Duration, f func()) clock.Timer {
	return c.clock.AfterFunc(d, func() { c.post(f) })
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (c *Controller) shutdown() {
	c.active = false
	stopTimer(&c.flushT)
	stopTimer(&c.retryT)
	stopTimer(&c.restartT)
	stopTimer(&c.idleT)
	c.cancelSpeech()
	c.teardownRecognizer()
	c.setState(StateIdle, "Stopped")
}

// Quota exposes the lock guard, for banners and the model-switch command.
func (c *Controller) Quota() *quota.Guard { return c.quota }

// Greet shows and speaks a welcome line.
func (c *Controller) Greet() {
	c.post(func() {
		msg := pick(welcomeMessages, c.rnd)
		c.say(msg)
	})
}

// Start begins a conversation: the recognizer runs and idle prompts arm.
func (c *Controller) Start() {
	c.post(func() {
		c.active = true
		if !c.quota.Locked() {
			c.ensureRecognizer()
		}
		if c.state == StateIdle {
			c.setState(StateListening, "Listening...")
		}
	})
}

// Stop ends the conversation without clearing it. Speech in progress
// finishes.
func (c *Controller) Stop() {
	c.post(func() {
		c.active = false
		stopTimer(&c.idleT)
		stopTimer(&c.restartT)
		c.stopRecognizer()
		if c.state != StateSpeaking {
			c.setState(StateIdle, "Ready")
		}
	})
}

// SubmitText handles typed input the same way as a final transcript.
func (c *Controller) SubmitText(text string) {
	c.post(func() {
		c.handleUserText(text, true)
	})
}

// Interrupt is the keyboard barge-in.
func (c *Controller) Interrupt() {
	c.post(func() {
		if c.state == StateSpeaking {
			c.bargeIn()
		}
	})
}

func (c *Controller) ChangeLanguage(tag string) {
	c.post(func() { c.switchLanguage(tag) })
}

// SwitchModel asks the server for the backup model.
func (c *Controller) SwitchModel() {
	c.post(func() {
		if err := c.quota.SwitchModel(""); err != nil {
			c.logger.Warn("switch model failed", "error", err)
			c.notice("Couldn't switch models right now. Please try again once connected.")
			return
		}
		c.notice("Switching to " + c.quota.BackupModel() + "...")
	})
}

func (c *Controller) DismissQuotaBanner() {
	c.quota.DismissBanner()
}

// Reset clears the conversation and returns to Idle. The quota lock is
// kept.
func (c *Controller) Reset() {
	c.post(func() {
		c.active = false
		c.conversation.Reset()
		c.pending = ""
		c.lastSent = ""
		c.busy = false
		c.retryHold = false
		stopTimer(&c.flushT)
		stopTimer(&c.retryT)
		stopTimer(&c.idleT)
		stopTimer(&c.restartT)
		c.cancelSpeech()
		c.stopRecognizer()
		c.setState(StateIdle, "Ready")
		if err := c.sender.Send(resetMessage()); err != nil {
			c.logger.Warn("send reset failed", "error", err)
		}
	})
}

// Snapshot is a read-only view of controller state, for status lines and
// tests.
type Snapshot struct {
	State        State
	Active       bool
	Language     string
	Busy         bool
	Pending      string
	LastSent     string
	RetryHold    bool
	Locked       bool
	Connected    bool
	ConnectionID string
	ContextLen   int
}

// snapshot must run on the loop.
func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		State:        c.state,
		Active:       c.active,
		Language:     c.language,
		Busy:         c.busy,
		Pending:      c.pending,
		LastSent:     c.lastSent,
		RetryHold:    c.retryHold,
		Locked:       c.quota.Locked(),
		Connected:    c.connected,
		ConnectionID: c.connectionID,
		ContextLen:   c.conversation.Len(),
	}
}

// Inspect delivers a Snapshot from the loop goroutine.
func (c *Controller) Inspect(f func(Snapshot)) {
	c.post(func() { f(c.snapshot()) })
}

func (c *Controller) setState(s State, status string) {
	prev := c.state
	c.state = s
	if c.ui != nil {
		c.ui.SetStatus(s, status)
	}
	if s == StateListening && prev != StateListening {
		c.armIdle()
	}
	if prev != s {
		c.logger.Debug("state", "from", prev.String(), "to", s.String())
	}
}

// settleState is where a finished turn lands.
func (c *Controller) settleState() {
	if c.active {
		c.setState(StateListening, "Listening...")
		return
	}
	c.setState(StateIdle, "Ready")
}

func (c *Controller) notice(text string) {
	if c.ui != nil {
		c.ui.ShowMessage(SpeakerSystem, text)
	}
}

// say shows text as the assistant and speaks it.
func (c *Controller) say(text string) {
	if c.ui != nil {
		c.ui.ShowMessage(SpeakerAssistant, text)
	}
	c.speak(text)
}
