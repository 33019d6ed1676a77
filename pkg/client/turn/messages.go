package turn

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rand is the subset of *math/rand.Rand the controller draws from.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

var welcomeMessages = []string{
	"Hi there! I'm Rev, your Revolt Motors assistant. Just start talking and ask me anything!",
	"Hello! I'm ready to help with all your Revolt Motors questions. Start talking whenever you like.",
	"Welcome! I'm Rev, your friendly Revolt Motors guide. Speak up when you're ready to talk.",
	"Hey there! Ready to talk about Revolt Motors? Just start our conversation.",
}

var idlePrompts = []string{
	"Is there anything else you'd like to know about Revolt Motors?",
	"I'm still here if you have more questions. Just speak up!",
	"Feel free to ask me anything else about Revolt's electric motorcycles.",
	"Is there something specific about Revolt Motors you'd like to learn?",
}

const (
	msgTimeout    = "I'm taking a bit longer than usual to think. Let me try again. Could you repeat your question?"
	msgBreather   = "I've been talking quite a lot! Give me a moment to catch my breath, then we can continue."
	msgConnection = "I'm having trouble connecting to my brain. Let's give it another try in a moment."
	msgGeneric    = "I hit a small snag. Let's try that again, maybe phrase your question a bit differently?"

	msgDisconnected = "I'm having trouble connecting. Please check your internet connection and try again."
	msgSendFailed   = "I'm having trouble connecting right now. Let me try again..."

	hearingPrefix       = "I had trouble hearing you: "
	hearingAudioCapture = "I can't access your microphone. Please check your microphone settings."
	hearingNotAllowed   = "I need permission to use your microphone. Please enable it in your system settings."
	hearingDefault      = "There was a technical issue. Please try again."

	noticeQueued = "Got it, I'll answer that next."
	noticeLocked = "Input is paused until the daily quota resets."
)

// friendlyError rephrases a server error message for speaking.
func friendlyError(message string) string {
	message = strings.ToLower(message)
	switch {
	case strings.Contains(message, "timeout"), strings.Contains(message, "timed out"):
		return msgTimeout
	case isRateLimitMessage(message), strings.Contains(message, "quota"):
		return msgBreather
	case strings.Contains(message, "connectivity"), strings.Contains(message, "network"):
		return msgConnection
	default:
		return msgGeneric
	}
}

func recognizerErrorMessage(kind string) string {
	switch kind {
	case RecognizerAudioCapture:
		return hearingPrefix + hearingAudioCapture
	case RecognizerNotAllowed:
		return hearingPrefix + hearingNotAllowed
	default:
		return hearingPrefix + hearingDefault
	}
}

var fillers = []string{"Actually, ", "You know what, ", "I'd say ", "Well, ", "So, "}

var contractions = []struct{ long, short string }{
	{"cannot", "can't"},
	{"will not", "won't"},
	{"do not", "don't"},
}

// humanize gives a reply a more casual tone: sometimes a filler opening,
// contractions, and sometimes an exclamation in place of the final period.
func humanize(text string, rnd Rand) string {
	if rnd.Float64() < 0.3 {
		filler := fillers[rnd.Intn(len(fillers))]
		text = filler + lowerFirst(text)
	}
	for _, c := range contractions {
		text = strings.Replace(text, c.long, c.short, 1)
	}
	if !strings.Contains(text, "!") && rnd.Float64() < 0.3 && strings.HasSuffix(text, ".") {
		text = strings.TrimSuffix(text, ".") + "!"
	}
	return text
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

func pick(list []string, rnd Rand) string {
	return list[rnd.Intn(len(list))]
}
