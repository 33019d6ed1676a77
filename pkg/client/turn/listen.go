package turn

import (
	"strings"
	"unicode/utf8"

	"github.com/vango-go/vai-voice/pkg/client/language"
)

// recognizerSink tags recognizer callbacks with the generation that
// produced them.
type recognizerSink struct {
	c   *Controller
	gen uint64
}

func (s recognizerSink) Started() {
	s.c.post(func() { s.c.onRecognizerStarted(s.gen) })
}

func (s recognizerSink) Result(t Transcript) {
	s.c.post(func() { s.c.onRecognizerResult(s.gen, t) })
}

func (s recognizerSink) Error(kind string) {
	s.c.post(func() { s.c.onRecognizerError(s.gen, kind) })
}

func (s recognizerSink) Ended() {
	s.c.post(func() { s.c.onRecognizerEnded(s.gen) })
}

func (c *Controller) ensureRecognizer() {
	if c.recRunning {
		return
	}
	if c.rec == nil {
		if c.newRec == nil {
			return
		}
		c.recGen++
		rec, err := c.newRec(RecognizerConfig{
			Language:       c.language,
			Continuous:     true,
			InterimResults: true,
		}, recognizerSink{c: c, gen: c.recGen})
		if err != nil {
			c.logger.Error("build recognizer failed", "language", c.language, "error", err)
			c.notice("Speech recognition is not available. You can still type your questions.")
			return
		}
		c.rec = rec
	}
	if err := c.rec.Start(c.ctx); err != nil {
		c.logger.Warn("start recognizer failed", "error", err)
		return
	}
	c.recRunning = true
}

// stopRecognizer is best-effort; errors are only logged.
func (c *Controller) stopRecognizer() {
	stopTimer(&c.restartT)
	if c.rec == nil || !c.recRunning {
		return
	}
	c.recRunning = false
	if err := c.rec.Stop(); err != nil {
		c.logger.Debug("stop recognizer", "error", err)
	}
}

// teardownRecognizer drops the instance; events it still emits are stale.
func (c *Controller) teardownRecognizer() {
	c.stopRecognizer()
	c.rec = nil
	c.recGen++
}

func (c *Controller) onRecognizerStarted(gen uint64) {
	if gen != c.recGen {
		return
	}
	c.recRunning = true
	if c.state == StateIdle && c.active {
		c.setState(StateListening, "Listening...")
	}
}

func (c *Controller) onRecognizerResult(gen uint64, t Transcript) {
	if gen != c.recGen {
		return
	}
	interim := strings.TrimSpace(t.Interim)
	final := strings.TrimSpace(t.Final)

	if c.state == StateSpeaking && c.bargeArmed && (utf8.RuneCountInString(interim) > 1 || final != "") {
		c.logger.Info("barge-in", "interim", interim, "final", final)
		c.bargeIn()
		if final == "" {
			if c.ui != nil {
				c.ui.ShowTranscript(interim, false)
			}
			return
		}
	}

	if interim != "" && c.state != StateSpeaking {
		c.heardSpeech()
		if c.ui != nil {
			c.ui.ShowTranscript(interim, false)
		}
	}

	if final != "" {
		c.heardSpeech()
		if c.ui != nil {
			c.ui.ShowTranscript(final, true)
		}
		c.handleUserText(final, false)
	}
}

func (c *Controller) onRecognizerError(gen uint64, kind string) {
	if gen != c.recGen {
		return
	}
	c.logger.Warn("recognizer error", "kind", kind)
	switch kind {
	case RecognizerNoSpeech:
		if c.active && c.clock.Now().Sub(c.lastSpeech) > c.noSpeech && c.mayPrompt() {
			c.offerHelp()
		}
	case RecognizerAborted:
		// Stop() in progress.
	default:
		c.say(recognizerErrorMessage(kind))
	}
}

func (c *Controller) onRecognizerEnded(gen uint64) {
	if gen != c.recGen {
		return
	}
	c.recRunning = false
	if !c.active || c.quota.Locked() {
		return
	}
	stopTimer(&c.restartT)
	c.restartT = c.after(c.restart, func() {
		c.restartT = nil
		if gen != c.recGen || !c.active || c.quota.Locked() {
			return
		}
		c.ensureRecognizer()
	})
	if c.state != StateSpeaking {
		c.armIdle()
	}
}

func (c *Controller) heardSpeech() {
	c.lastSpeech = c.clock.Now()
	if c.active {
		c.armIdle()
	}
}

// handleUserText routes one finished user utterance or typed line.
func (c *Controller) handleUserText(text string, typed bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if typed {
		c.lastSpeech = c.clock.Now()
		if c.ui != nil {
			c.ui.ShowMessage(SpeakerUser, text)
		}
	}
	c.active = true

	if tag, ok := language.Detect(text); ok {
		c.switchLanguage(tag)
		return
	}
	c.submit(text)
}

func (c *Controller) switchLanguage(tag string) {
	c.active = true
	prev := c.language
	c.language = tag
	c.logger.Info("language changed", "from", prev, "to", tag)
	c.notice("Changed from " + language.DisplayName(prev) + " to " + language.DisplayName(tag))
	if c.ui != nil {
		c.ui.SetLanguage(tag)
	}

	c.teardownRecognizer()
	if !c.quota.Locked() {
		c.ensureRecognizer()
	}
	c.pickVoice()
	c.say(language.Announcement(tag))
}

func (c *Controller) armIdle() {
	stopTimer(&c.idleT)
	if !c.active {
		return
	}
	c.idleSeq++
	seq := c.idleSeq
	c.idleT = c.after(c.idleAfter, func() {
		if seq != c.idleSeq {
			return
		}
		c.idleT = nil
		if c.active && c.clock.Now().Sub(c.lastSpeech) >= c.idleAfter && c.mayPrompt() {
			c.offerHelp()
		}
	})
}

func (c *Controller) mayPrompt() bool {
	return c.state != StateSpeaking && !c.busy && !c.quota.Locked()
}

func (c *Controller) offerHelp() {
	c.say(pick(idlePrompts, c.rnd))
}
