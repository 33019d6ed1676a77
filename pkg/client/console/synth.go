package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-voice/pkg/client/clock"
	"github.com/vango-go/vai-voice/pkg/client/language"
	"github.com/vango-go/vai-voice/pkg/client/turn"
)

// DefaultWordDuration paces speech at roughly 170 words per minute.
const DefaultWordDuration = 350 * time.Millisecond

type SynthOptions struct {
	// Out receives each utterance; nil prints nothing.
	Out   io.Writer
	Clock clock.Clock
	// Voices defaults to DefaultVoices.
	Voices []language.Voice
	// VoicesAfter delays voice availability, like an engine still loading.
	VoicesAfter  time.Duration
	WordDuration time.Duration
}

// Synth "speaks" by printing the text and holding the utterance open for a
// time proportional to its length.
type Synth struct {
	out     io.Writer
	clock   clock.Clock
	voices  []language.Voice
	readyAt time.Time
	word    time.Duration

	mu      sync.Mutex
	current uint64
	timer   clock.Timer
}

func NewSynth(opts SynthOptions) *Synth {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Voices == nil {
		opts.Voices = DefaultVoices()
	}
	if opts.WordDuration <= 0 {
		opts.WordDuration = DefaultWordDuration
	}
	return &Synth{
		out:     opts.Out,
		clock:   opts.Clock,
		voices:  opts.Voices,
		readyAt: opts.Clock.Now().Add(opts.VoicesAfter),
		word:    opts.WordDuration,
	}
}

// DefaultVoices offers one voice per catalog language.
func DefaultVoices() []language.Voice {
	tags := language.Tags()
	voices := make([]language.Voice, 0, len(tags))
	for _, tag := range tags {
		l, _ := language.Lookup(tag)
		voices = append(voices, language.Voice{Name: "Console " + l.Name + " Female", Lang: tag})
	}
	return voices
}

// Duration is how long u takes to say.
func (s *Synth) Duration(u turn.Utterance) time.Duration {
	words := len(strings.Fields(u.Text))
	if words == 0 {
		words = 1
	}
	d := time.Duration(words) * s.word
	if u.Rate > 0 {
		d = time.Duration(float64(d) / u.Rate)
	}
	return d
}

func (s *Synth) Speak(u turn.Utterance, events turn.SpeechEvents) error {
	s.mu.Lock()
	s.stopLocked()
	s.current = u.ID
	s.timer = s.clock.AfterFunc(s.Duration(u), func() {
		s.mu.Lock()
		if s.current != u.ID {
			s.mu.Unlock()
			return
		}
		s.current = 0
		s.timer = nil
		s.mu.Unlock()
		events.Ended(u.ID)
	})
	s.mu.Unlock()

	if s.out != nil {
		voice := "default voice"
		if u.Voice != nil {
			voice = u.Voice.Name
		}
		fmt.Fprintf(s.out, "  ~ (%s) %s\n", voice, u.Text)
	}
	events.Started(u.ID)
	return nil
}

// Cancel stops the current utterance without an end event.
func (s *Synth) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Synth) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.current = 0
}

func (s *Synth) Voices() []language.Voice {
	if s.clock.Now().Before(s.readyAt) {
		return nil
	}
	return append([]language.Voice(nil), s.voices...)
}

func (s *Synth) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != 0
}
