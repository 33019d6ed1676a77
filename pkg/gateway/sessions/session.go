package sessions

import (
	"sync"
	"sync/atomic"
	"time"
)

// Session is the server-side state of one chat connection. Language and
// model are switchable at runtime; the processing flag admits at most one
// generation at a time.
type Session struct {
	ID          string
	ConnectedAt time.Time

	mu       sync.Mutex
	language string
	model    string

	processing atomic.Bool
}

func NewSession(id, model, language string, connectedAt time.Time) *Session {
	return &Session{
		ID:          id,
		ConnectedAt: connectedAt,
		language:    language,
		model:       model,
	}
}

func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

func (s *Session) SetLanguage(tag string) {
	s.mu.Lock()
	s.language = tag
	s.mu.Unlock()
}

func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *Session) SetModel(model string) {
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
}

// TryBeginProcessing claims the session's single generation slot. It
// returns false if a generation is already running.
func (s *Session) TryBeginProcessing() bool {
	return s.processing.CompareAndSwap(false, true)
}

func (s *Session) EndProcessing() {
	s.processing.Store(false)
}

func (s *Session) Processing() bool {
	return s.processing.Load()
}
