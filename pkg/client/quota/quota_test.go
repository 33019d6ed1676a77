package quota

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-voice/pkg/client/clock"
	"github.com/vango-go/vai-voice/pkg/client/localstore"
	"github.com/vango-go/vai-voice/pkg/protocol"
)

type recordingBanner struct {
	mu     sync.Mutex
	shown  []time.Duration
	hidden int
}

func (b *recordingBanner) ShowQuotaBanner(reason string, remaining time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shown = append(b.shown, remaining)
}

func (b *recordingBanner) HideQuotaBanner() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hidden++
}

type recordingSender struct {
	sent []any
	err  error
}

func (s *recordingSender) Send(v any) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, v)
	return nil
}

type harness struct {
	guard   *Guard
	clock   *clock.Fake
	store   *localstore.Memory
	banner  *recordingBanner
	sender  *recordingSender
	locks   int
	unlocks int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:  clock.NewFake(time.Date(2026, 5, 1, 22, 0, 0, 0, time.UTC)),
		store:  localstore.NewMemory(),
		banner: &recordingBanner{},
		sender: &recordingSender{},
	}
	h.guard = New(Options{
		Store:    h.store,
		Clock:    h.clock,
		Banner:   h.banner,
		Sender:   h.sender,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnLock:   func(string, time.Time) { h.locks++ },
		OnUnlock: func() { h.unlocks++ },
	})
	return h
}

func (h *harness) persisted(t *testing.T) (int64, bool) {
	t.Helper()
	raw, err := h.store.Get(context.Background(), StorageKey)
	if errors.Is(err, localstore.ErrNotFound) {
		return 0, false
	}
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return ms, true
}

func TestGuard_LockIsIdempotentAndPersists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	unlockAt := h.clock.Now().Add(2 * time.Hour)

	h.guard.Lock(ctx, "Daily quota exceeded for gemini-2.0-flash-exp", unlockAt)
	h.guard.Lock(ctx, "Daily quota exceeded for gemini-1.5-flash", h.clock.Now().Add(time.Minute))

	if !h.guard.Locked() {
		t.Fatalf("expected locked")
	}
	if got, _ := h.guard.UnlockAt(); !got.Equal(unlockAt) {
		t.Fatalf("UnlockAt=%v, want first deadline %v", got, unlockAt)
	}
	if h.locks != 1 {
		t.Fatalf("OnLock calls=%d, want 1", h.locks)
	}
	if ms, ok := h.persisted(t); !ok || ms != unlockAt.UnixMilli() {
		t.Fatalf("persisted=%d,%v", ms, ok)
	}
	if h.clock.Pending() != 1 {
		t.Fatalf("countdown timers=%d, want 1", h.clock.Pending())
	}

	h.clock.Advance(2 * time.Minute)
	if !h.guard.Locked() {
		t.Fatalf("second lock shortened the first")
	}
}

func TestGuard_CountdownAutoUnlocks(t *testing.T) {
	h := newHarness(t)
	h.guard.Lock(context.Background(), "quota", h.clock.Now().Add(3*time.Second))

	h.clock.Advance(2 * time.Second)
	if !h.guard.Locked() {
		t.Fatalf("unlocked too early")
	}
	h.clock.Advance(time.Second)
	if h.guard.Locked() {
		t.Fatalf("expected auto-unlock at deadline")
	}
	if h.unlocks != 1 {
		t.Fatalf("OnUnlock calls=%d", h.unlocks)
	}
	if _, ok := h.persisted(t); ok {
		t.Fatalf("persisted key should be cleared")
	}
	if h.clock.Pending() != 0 {
		t.Fatalf("countdown still armed")
	}
	// initial show + ticks at 1s and 2s
	if len(h.banner.shown) != 3 || h.banner.shown[2] != time.Second {
		t.Fatalf("banner updates=%v", h.banner.shown)
	}
}

func TestGuard_RestoreFutureLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	future := h.clock.Now().Add(90 * time.Minute)
	_ = h.store.Set(ctx, StorageKey, strconv.FormatInt(future.UnixMilli(), 10))

	if err := h.guard.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	at, locked := h.guard.UnlockAt()
	if !locked || at.UnixMilli() != future.UnixMilli() {
		t.Fatalf("UnlockAt=%v,%v", at, locked)
	}
	if h.locks != 1 {
		t.Fatalf("OnLock calls=%d", h.locks)
	}
}

func TestGuard_RestorePastLockClears(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	past := h.clock.Now().Add(-time.Minute)
	_ = h.store.Set(ctx, StorageKey, strconv.FormatInt(past.UnixMilli(), 10))

	if err := h.guard.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if h.guard.Locked() {
		t.Fatalf("past lock should not apply")
	}
	if _, ok := h.persisted(t); ok {
		t.Fatalf("past lock should be cleared")
	}
}

func TestGuard_RestoreMalformedClears(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_ = h.store.Set(ctx, StorageKey, "tomorrow")

	if err := h.guard.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, ok := h.persisted(t); ok {
		t.Fatalf("malformed key should be cleared")
	}
}

func TestGuard_DismissBannerKeepsLock(t *testing.T) {
	h := newHarness(t)
	h.guard.Lock(context.Background(), "quota", h.clock.Now().Add(time.Hour))
	h.guard.DismissBanner()

	if !h.guard.Locked() {
		t.Fatalf("dismiss must not unlock")
	}
	shown := len(h.banner.shown)
	h.clock.Advance(5 * time.Second)
	if len(h.banner.shown) != shown {
		t.Fatalf("banner re-shown after dismiss")
	}
	if h.banner.hidden != 1 {
		t.Fatalf("hidden=%d", h.banner.hidden)
	}
}

func TestGuard_SwitchModelSendsBackup(t *testing.T) {
	h := newHarness(t)
	if err := h.guard.SwitchModel(""); err != nil {
		t.Fatalf("SwitchModel: %v", err)
	}
	if len(h.sender.sent) != 1 {
		t.Fatalf("sent=%d", len(h.sender.sent))
	}
	msg, ok := h.sender.sent[0].(protocol.ClientSwitchModel)
	if !ok || msg.Type != protocol.TypeSwitchModel || msg.Model != DefaultBackupModel {
		t.Fatalf("msg=%#v", h.sender.sent[0])
	}

	h.sender.err = errors.New("transport: not connected")
	if err := h.guard.SwitchModel("gemini-pro"); err == nil {
		t.Fatalf("expected send error")
	}
}

func TestGuard_UnlockWhenNotLockedIsQuiet(t *testing.T) {
	h := newHarness(t)
	h.guard.Unlock(context.Background())
	if h.unlocks != 0 || h.banner.hidden != 0 {
		t.Fatalf("unlocks=%d hidden=%d", h.unlocks, h.banner.hidden)
	}
}

func TestNextLocalMidnight(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2026, 12, 31, 23, 59, 0, 0, loc)
	got := NextLocalMidnight(now)
	want := time.Date(2027, 1, 1, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got=%v, want %v", got, want)
	}
}

func TestFormatRemaining(t *testing.T) {
	cases := map[time.Duration]string{
		3*time.Hour + 4*time.Minute + 5*time.Second: "3h 04m 05s",
		2*time.Minute + 9*time.Second:               "2m 09s",
		7 * time.Second:                             "7s",
		-time.Second:                                "0s",
	}
	for d, want := range cases {
		if got := FormatRemaining(d); got != want {
			t.Fatalf("FormatRemaining(%v)=%q, want %q", d, got, want)
		}
	}
}
