// Package quota holds the client-side daily quota lock: while locked no
// request may be sent, and the unlock deadline survives restarts.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/vango-go/vai-voice/pkg/client/clock"
	"github.com/vango-go/vai-voice/pkg/client/localstore"
	"github.com/vango-go/vai-voice/pkg/protocol"
)

// StorageKey is the single persisted key, holding epoch milliseconds.
const StorageKey = "quota_unlock_at_ms"

const DefaultBackupModel = "gemini-1.5-flash"

const tickInterval = time.Second

// Banner renders the lock notice. It may be called from timer goroutines.
type Banner interface {
	ShowQuotaBanner(reason string, remaining time.Duration)
	HideQuotaBanner()
}

type Sender interface {
	Send(v any) error
}

type Options struct {
	Store  localstore.Store
	Clock  clock.Clock
	Banner Banner
	Sender Sender
	Logger *slog.Logger

	BackupModel string

	// OnLock runs once per lock, OnUnlock once per unlock. Both run
	// outside the guard's lock.
	OnLock   func(reason string, unlockAt time.Time)
	OnUnlock func()
}

type Guard struct {
	store       localstore.Store
	clock       clock.Clock
	banner      Banner
	sender      Sender
	logger      *slog.Logger
	backupModel string
	onLock      func(string, time.Time)
	onUnlock    func()

	mu        sync.Mutex
	locked    bool
	reason    string
	unlockAt  time.Time
	dismissed bool
	tick      clock.Timer
	epoch     int
}

func New(opts Options) *Guard {
	if opts.Store == nil {
		opts.Store = localstore.NewMemory()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BackupModel == "" {
		opts.BackupModel = DefaultBackupModel
	}
	return &Guard{
		store:       opts.Store,
		clock:       opts.Clock,
		banner:      opts.Banner,
		sender:      opts.Sender,
		logger:      opts.Logger,
		backupModel: opts.BackupModel,
		onLock:      opts.OnLock,
		onUnlock:    opts.OnUnlock,
	}
}

func (g *Guard) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked
}

func (g *Guard) UnlockAt() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unlockAt, g.locked
}

func (g *Guard) BackupModel() string { return g.backupModel }

// Lock disables input until unlockAt. Locking an already locked guard
// keeps the first deadline and reason and only refreshes the banner.
func (g *Guard) Lock(ctx context.Context, reason string, unlockAt time.Time) {
	g.mu.Lock()
	if g.locked {
		reason, remaining := g.reason, g.remainingLocked()
		g.dismissed = false
		g.mu.Unlock()
		if g.banner != nil {
			g.banner.ShowQuotaBanner(reason, remaining)
		}
		return
	}
	g.locked = true
	g.reason = reason
	g.unlockAt = unlockAt
	g.dismissed = false
	g.epoch++
	g.scheduleTickLocked(g.epoch)
	remaining := g.remainingLocked()
	g.mu.Unlock()

	if err := g.store.Set(ctx, StorageKey, strconv.FormatInt(unlockAt.UnixMilli(), 10)); err != nil {
		g.logger.Warn("persist quota lock failed", "error", err)
	}
	g.logger.Info("quota locked", "reason", reason, "unlock_at", unlockAt)
	if g.onLock != nil {
		g.onLock(reason, unlockAt)
	}
	if g.banner != nil {
		g.banner.ShowQuotaBanner(reason, remaining)
	}
}

// Unlock clears the lock and the persisted deadline. It is a no-op when
// not locked, except that a stale persisted key is still removed.
func (g *Guard) Unlock(ctx context.Context) {
	g.mu.Lock()
	was := g.locked
	g.locked = false
	g.reason = ""
	g.unlockAt = time.Time{}
	g.dismissed = false
	if g.tick != nil {
		g.tick.Stop()
		g.tick = nil
	}
	g.epoch++
	g.mu.Unlock()

	if err := g.store.Delete(ctx, StorageKey); err != nil {
		g.logger.Warn("clear quota lock failed", "error", err)
	}
	if !was {
		return
	}
	g.logger.Info("quota unlocked")
	if g.banner != nil {
		g.banner.HideQuotaBanner()
	}
	if g.onUnlock != nil {
		g.onUnlock()
	}
}

// Restore re-applies a persisted lock whose deadline is still ahead and
// clears one that has passed.
func (g *Guard) Restore(ctx context.Context) error {
	raw, err := g.store.Get(ctx, StorageKey)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore quota lock: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		g.logger.Warn("discarding malformed quota lock", "value", raw)
		return g.store.Delete(ctx, StorageKey)
	}
	unlockAt := time.UnixMilli(ms)
	if !unlockAt.After(g.clock.Now()) {
		return g.store.Delete(ctx, StorageKey)
	}
	g.Lock(ctx, "Daily quota exceeded", unlockAt)
	return nil
}

// DismissBanner hides the banner; the lock and countdown stay.
func (g *Guard) DismissBanner() {
	g.mu.Lock()
	if !g.locked {
		g.mu.Unlock()
		return
	}
	g.dismissed = true
	g.mu.Unlock()
	if g.banner != nil {
		g.banner.HideQuotaBanner()
	}
}

// SwitchModel asks the server to move this session to the backup model.
// An empty model selects the configured backup. The lock is lifted when
// the server confirms with model_switched.
func (g *Guard) SwitchModel(model string) error {
	if g.sender == nil {
		return errors.New("quota: no sender configured")
	}
	if model == "" {
		model = g.backupModel
	}
	if err := g.sender.Send(protocol.ClientSwitchModel{Type: protocol.TypeSwitchModel, Model: model}); err != nil {
		return fmt.Errorf("switch model: %w", err)
	}
	g.logger.Info("requested model switch", "model", model)
	return nil
}

func (g *Guard) scheduleTickLocked(epoch int) {
	g.tick = g.clock.AfterFunc(tickInterval, func() { g.onTick(epoch) })
}

func (g *Guard) onTick(epoch int) {
	g.mu.Lock()
	if !g.locked || g.epoch != epoch {
		g.mu.Unlock()
		return
	}
	remaining := g.remainingLocked()
	if remaining <= 0 {
		g.mu.Unlock()
		g.Unlock(context.Background())
		return
	}
	g.scheduleTickLocked(epoch)
	reason, dismissed := g.reason, g.dismissed
	g.mu.Unlock()

	if g.banner != nil && !dismissed {
		g.banner.ShowQuotaBanner(reason, remaining)
	}
}

func (g *Guard) remainingLocked() time.Duration {
	return g.unlockAt.Sub(g.clock.Now())
}

// NextLocalMidnight is the reset time used when the server gives none.
func NextLocalMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// FormatRemaining renders a countdown as "3h 04m 05s", dropping leading
// zero units.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
