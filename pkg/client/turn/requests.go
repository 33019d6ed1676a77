package turn

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vango-go/vai-voice/pkg/client/quota"
	"github.com/vango-go/vai-voice/pkg/protocol"
)

var quotaExceededRe = regexp.MustCompile(`(?i)quota.*exceeded`)

// defaultRetryAfter applies to a rate limit that names no delay.
const defaultRetryAfter = 5 * time.Second

func isRateLimitMessage(message string) bool {
	return strings.Contains(strings.ToLower(message), "rate limit")
}

func resetMessage() protocol.ClientReset {
	return protocol.ClientReset{Type: protocol.TypeReset}
}

// submit is the single-flight gate for outgoing text.
func (c *Controller) submit(text string) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return
	case c.quota.Locked():
		c.notice(noticeLocked)
		return
	case text == c.lastSent:
		c.logger.Debug("dropping repeat of last sent text")
		return
	case c.busy:
		c.pending = text
		c.notice(noticeQueued)
		return
	}
	c.send(text)
}

func (c *Controller) send(text string) {
	msg := protocol.ClientText{
		Type:     protocol.TypeText,
		Text:     text,
		Language: c.language,
		Context:  c.conversation.Window(contextWindow),
	}
	if err := c.sender.Send(msg); err != nil {
		c.logger.Warn("send text failed", "error", err)
		// Held until the transport reopens.
		c.pending = text
		if !c.disconnectNotified {
			c.disconnectNotified = true
			c.say(msgSendFailed)
		}
		return
	}
	c.lastSent = text
	c.busy = true
	c.conversation.AddUser(text, c.clock.Now())
	c.setState(StateThinking, "Thinking...")
}

// scheduleFlush arms the one pending-slot flush.
func (c *Controller) scheduleFlush(delay time.Duration) {
	if c.pending == "" || c.quota.Locked() || c.retryHold || c.flushT != nil {
		return
	}
	c.flushT = c.after(delay, func() {
		c.flushT = nil
		c.flush()
	})
}

func (c *Controller) flush() {
	if c.busy || c.pending == "" || c.quota.Locked() || c.retryHold {
		return
	}
	text := c.pending
	c.pending = ""
	c.submit(text)
}

// requestDone runs when the in-flight request ends for any reason.
func (c *Controller) requestDone() {
	c.busy = false
	if c.state == StateThinking {
		c.settleState()
	}
	c.scheduleFlush(c.settle)
}

func (c *Controller) OnOpen() {
	c.post(func() {
		c.connected = true
		c.disconnectNotified = false
		if c.ui != nil {
			c.ui.SetStatus(c.state, "Connected")
		}
		if !c.busy {
			c.scheduleFlush(c.settle)
		}
	})
}

func (c *Controller) OnClose(err error) {
	c.post(func() {
		c.connected = false
		c.connectionID = ""
		c.interruptAcks = 0
		if c.ui != nil {
			c.ui.SetStatus(c.state, "Disconnected")
		}
		c.informDisconnected()
		if c.busy {
			// The answer is lost with the connection; allow a manual repeat.
			c.lastSent = ""
			c.requestDone()
		}
	})
}

func (c *Controller) OnError(err error) {
	c.post(func() {
		c.logger.Warn("transport error", "error", err)
		if c.ui != nil {
			c.ui.SetStatus(c.state, "Connection error")
		}
		c.informDisconnected()
	})
}

func (c *Controller) OnMessage(msg any) {
	c.post(func() { c.handleServerMessage(msg) })
}

func (c *Controller) informDisconnected() {
	if c.disconnectNotified {
		return
	}
	c.disconnectNotified = true
	c.say(msgDisconnected)
}

func (c *Controller) handleServerMessage(msg any) {
	switch m := msg.(type) {
	case protocol.ServerConnectionEstablished:
		c.connectionID = m.ConnectionID
		c.logger.Info("connection established", "connection_id", m.ConnectionID)
	case protocol.ServerProcessingStart:
		c.busy = true
		if c.state != StateSpeaking {
			c.setState(StateThinking, "Thinking...")
		}
	case protocol.ServerProcessingEnd:
		c.requestDone()
	case protocol.ServerResponse:
		c.conversation.AddAssistant(m.Text, c.clock.Now())
		c.say(humanize(m.Text, c.rnd))
	case protocol.ServerError:
		c.handleServerError(m)
	case protocol.ServerQuotaExceeded:
		c.lastSent = ""
		c.lockQuota(m.Model, m.ResetsAtMS)
	case protocol.ServerModelSwitched:
		c.quota.Unlock(c.ctx)
		c.notice("Switched to " + m.Model + ". You can keep chatting.")
		c.scheduleFlush(c.settle)
	case protocol.ServerInterrupted:
		// Acks for our own barge-in arrive after the cut, possibly while a
		// newer utterance is playing.
		if c.interruptAcks > 0 {
			c.interruptAcks--
			if c.ui != nil && c.state != StateSpeaking {
				c.ui.SetStatus(c.state, "I heard you!")
			}
			return
		}
		c.cancelSpeech()
		if c.state == StateSpeaking || c.state == StateInterrupted {
			c.settleState()
		}
		if c.ui != nil {
			c.ui.SetStatus(c.state, "I heard you!")
		}
	case protocol.ServerResetComplete:
		c.notice("Conversation reset.")
	default:
		c.logger.Warn("ignoring server message", "type", fmt.Sprintf("%T", msg))
	}
}

func (c *Controller) handleServerError(m protocol.ServerError) {
	c.lastSent = ""

	// Without a structured code, fall back to the message text.
	uncoded := m.Code == "" || m.Code == protocol.CodeUnknown
	if m.Code == protocol.CodeRateLimited || (uncoded && isRateLimitMessage(m.Message)) {
		delay := defaultRetryAfter
		if m.RetryAfterMS != nil && *m.RetryAfterMS > 0 {
			delay = time.Duration(*m.RetryAfterMS) * time.Millisecond
		}
		c.retryHold = true
		stopTimer(&c.flushT)
		stopTimer(&c.retryT)
		c.retryT = c.after(delay, func() {
			c.retryT = nil
			c.retryHold = false
			if !c.busy {
				c.flush()
			}
		})
		c.notice("The model is busy. Retrying in " + quota.FormatRemaining(delay) + ".")
		return
	}

	if m.Code == protocol.CodeDailyQuotaExceeded || (uncoded && quotaExceededRe.MatchString(m.Message)) {
		c.lockQuota("", 0)
		return
	}
	c.say(friendlyError(m.Message))
}

func (c *Controller) lockQuota(model string, resetsAtMS int64) {
	unlockAt := quota.NextLocalMidnight(c.clock.Now())
	if resetsAtMS > 0 {
		unlockAt = time.UnixMilli(resetsAtMS)
	}
	reason := "Daily quota exceeded"
	if model != "" {
		reason += " for " + model
	}
	c.quota.Lock(c.ctx, reason, unlockAt)
}

func (c *Controller) onQuotaLocked() {
	stopTimer(&c.flushT)
	stopTimer(&c.idleT)
	c.cancelSpeech()
	c.stopRecognizer()
	if c.ui != nil {
		c.ui.SetInputEnabled(false)
	}
	c.setState(StateIdle, "Daily quota reached")
}

func (c *Controller) onQuotaUnlocked() {
	if c.ui != nil {
		c.ui.SetInputEnabled(true)
	}
	if c.active {
		c.ensureRecognizer()
		if c.state == StateIdle {
			c.setState(StateListening, "Listening...")
		}
	}
	if !c.busy {
		c.scheduleFlush(c.settle)
	}
}
