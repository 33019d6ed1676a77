package turn

import (
	"context"
	"time"

	"github.com/vango-go/vai-voice/pkg/client/language"
)

type RecognizerConfig struct {
	Language       string
	Continuous     bool
	InterimResults bool
}

// Transcript is one recognizer result. Interim and Final may both be set
// when a result batch carries finished and unfinished segments.
type Transcript struct {
	Interim string
	Final   string
	IsFinal bool
}

// RecognizerEvents receives recognizer callbacks. Every method may be
// called from any goroutine.
type RecognizerEvents interface {
	Started()
	Result(t Transcript)
	Error(kind string)
	Ended()
}

// Recognizer kinds reported through RecognizerEvents.Error.
const (
	RecognizerNoSpeech     = "no-speech"
	RecognizerAudioCapture = "audio-capture"
	RecognizerNotAllowed   = "not-allowed"
	RecognizerAborted      = "aborted"
	RecognizerNetwork      = "network"
)

type Recognizer interface {
	Start(ctx context.Context) error
	Stop() error
}

// RecognizerFactory builds one recognizer instance. The controller builds
// a fresh one whenever the language changes.
type RecognizerFactory func(cfg RecognizerConfig, events RecognizerEvents) (Recognizer, error)

type Utterance struct {
	ID       uint64
	Text     string
	Language string
	// Voice is nil when no voice was available; the engine default is used.
	Voice  *language.Voice
	Rate   float64
	Pitch  float64
	Volume float64
}

// SpeechEvents receives synthesizer callbacks for one utterance.
type SpeechEvents interface {
	Started(id uint64)
	Ended(id uint64)
	Failed(id uint64, err error)
}

type Synthesizer interface {
	Speak(u Utterance, events SpeechEvents) error
	// Cancel drops the current and queued utterances. It is idempotent.
	Cancel()
	Voices() []language.Voice
}

type Sender interface {
	Send(v any) error
}

type Speaker string

const (
	SpeakerUser      Speaker = "You"
	SpeakerAssistant Speaker = "Rev"
	SpeakerSystem    Speaker = "System"
)

type UI interface {
	ShowMessage(from Speaker, text string)
	// ShowTranscript renders the in-progress user transcript.
	ShowTranscript(text string, final bool)
	SetStatus(state State, text string)
	SetInputEnabled(enabled bool)
	SetLanguage(tag string)
	ShowQuotaBanner(reason string, remaining time.Duration)
	HideQuotaBanner()
}
