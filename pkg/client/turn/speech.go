package turn

import (
	"github.com/vango-go/vai-voice/pkg/client/language"
	"github.com/vango-go/vai-voice/pkg/protocol"
)

type speechSink struct{ c *Controller }

func (s speechSink) Started(id uint64) {
	s.c.post(func() { s.c.onSpeechStarted(id) })
}

func (s speechSink) Ended(id uint64) {
	s.c.post(func() { s.c.onSpeechEnded(id) })
}

func (s speechSink) Failed(id uint64, err error) {
	s.c.post(func() {
		s.c.logger.Warn("synthesis failed", "utterance", id, "error", err)
		s.c.onSpeechEnded(id)
	})
}

// speak replaces whatever is being said with text. When the engine has no
// voices yet it polls for them, and a newer speak takes over the wait.
func (c *Controller) speak(text string) {
	if c.synth == nil || text == "" {
		return
	}
	c.cancelSpeech()

	if len(c.synth.Voices()) > 0 {
		c.startUtterance(text)
		return
	}
	c.voiceWait = &voiceWait{text: text}
	c.scheduleVoicePoll(c.voiceWait)
}

func (c *Controller) scheduleVoicePoll(w *voiceWait) {
	w.timer = c.after(voicePollInterval, func() {
		if c.voiceWait != w {
			return
		}
		w.attempts++
		if len(c.synth.Voices()) == 0 && w.attempts < voicePollAttempts {
			c.scheduleVoicePoll(w)
			return
		}
		c.voiceWait = nil
		c.startUtterance(w.text)
	})
}

func (c *Controller) startUtterance(text string) {
	c.pickVoice()
	c.utterSeq++
	c.current = c.utterSeq
	u := Utterance{
		ID:       c.current,
		Text:     text,
		Language: c.language,
		Voice:    c.voice,
		Rate:     c.speech.Rate,
		Pitch:    c.speech.Pitch,
		Volume:   c.speech.Volume,
	}
	c.setState(StateSpeaking, "Speaking...")
	// The recognizer keeps running so the user can barge in.
	if c.active && !c.quota.Locked() {
		c.ensureRecognizer()
	}
	if err := c.synth.Speak(u, speechSink{c: c}); err != nil {
		c.logger.Warn("speak failed", "error", err)
		c.onSpeechEnded(u.ID)
	}
}

func (c *Controller) pickVoice() {
	if c.synth == nil {
		return
	}
	if v, ok := language.PickVoice(c.synth.Voices(), c.language); ok {
		c.voice = &v
		return
	}
	c.voice = nil
}

func (c *Controller) onSpeechStarted(id uint64) {
	if id != c.current {
		return
	}
	c.bargeArmed = true
}

func (c *Controller) onSpeechEnded(id uint64) {
	if id != c.current {
		return
	}
	c.current = 0
	c.bargeArmed = false
	if c.state == StateSpeaking {
		c.settleState()
	}
}

// cancelSpeech stops synthesis at once and abandons any voice wait.
func (c *Controller) cancelSpeech() {
	if c.voiceWait != nil {
		stopTimer(&c.voiceWait.timer)
		c.voiceWait = nil
	}
	c.bargeArmed = false
	c.current = 0
	if c.synth != nil {
		c.synth.Cancel()
	}
}

// bargeIn cuts the assistant off: synthesis first, then one interrupt
// frame, then back to listening.
func (c *Controller) bargeIn() {
	c.cancelSpeech()
	if err := c.sender.Send(protocol.ClientInterrupt{Type: protocol.TypeInterrupt}); err != nil {
		c.logger.Warn("send interrupt failed", "error", err)
	} else {
		c.interruptAcks++
	}
	c.setState(StateInterrupted, "Listening to you...")
	if c.active && !c.quota.Locked() {
		c.ensureRecognizer()
	}
	c.setState(StateListening, "Listening to you...")
}
