// Package console adapts the turn controller to a terminal. Typed lines
// stand in for speech and replies are printed instead of played.
package console

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vango-go/vai-voice/pkg/client/language"
	"github.com/vango-go/vai-voice/pkg/client/quota"
	"github.com/vango-go/vai-voice/pkg/client/turn"
)

// UI prints controller output as a chat log. It is safe for concurrent use;
// the quota banner is driven from the guard's timer goroutine.
type UI struct {
	mu  sync.Mutex
	out io.Writer

	status       string
	inputEnabled bool
	bannerShown  bool
	bannerMinute int64
}

func NewUI(out io.Writer) *UI {
	return &UI{out: out, inputEnabled: true}
}

func (u *UI) ShowMessage(from turn.Speaker, text string) {
	if from == turn.SpeakerSystem {
		u.printf("* %s\n", text)
		return
	}
	u.printf("%s: %s\n", from, text)
}

// ShowTranscript echoes finished transcripts only; the terminal already
// shows what is being typed.
func (u *UI) ShowTranscript(text string, final bool) {
	if final {
		u.printf("%s: %s\n", turn.SpeakerUser, text)
	}
}

func (u *UI) SetStatus(state turn.State, text string) {
	line := fmt.Sprintf("[%s] %s", state, text)
	u.mu.Lock()
	defer u.mu.Unlock()
	if line == u.status {
		return
	}
	u.status = line
	fmt.Fprintln(u.out, line)
}

func (u *UI) SetInputEnabled(enabled bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if enabled == u.inputEnabled {
		return
	}
	u.inputEnabled = enabled
	if enabled {
		fmt.Fprintln(u.out, "* Input enabled.")
		return
	}
	fmt.Fprintln(u.out, "* Input paused.")
}

func (u *UI) InputEnabled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.inputEnabled
}

func (u *UI) SetLanguage(tag string) {
	u.printf("* Language: %s\n", language.DisplayName(tag))
}

// ShowQuotaBanner is called every second while locked. The banner is
// reprinted when the remaining time crosses a minute boundary.
func (u *UI) ShowQuotaBanner(reason string, remaining time.Duration) {
	minute := int64(remaining / time.Minute)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.bannerShown && minute == u.bannerMinute {
		return
	}
	u.bannerShown = true
	u.bannerMinute = minute
	fmt.Fprintf(u.out, "! %s. Resets in %s. Type /switch to use the backup model or /dismiss to hide this.\n",
		reason, quota.FormatRemaining(remaining))
}

func (u *UI) HideQuotaBanner() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.bannerShown {
		return
	}
	u.bannerShown = false
	fmt.Fprintln(u.out, "* Quota banner cleared.")
}

func (u *UI) printf(format string, args ...any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.out, format, args...)
}
