// Package ratelimit admits chat sessions per client address: a token
// bucket on upgrades plus a cap on sessions held open at once.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	LimitUpgrades = "upgrades"
	LimitSessions = "sessions"
)

type Config struct {
	UpgradesPerSecond float64
	Burst             int

	MaxSessionsPerClient int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

// Enabled reports whether any limit is configured.
func (c Config) Enabled() bool {
	return (c.UpgradesPerSecond > 0 && c.Burst > 0) || c.MaxSessionsPerClient > 0
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*clientLimiter
}

type clientLimiter struct {
	mu sync.Mutex

	tb tokenBucket

	sessions int
	lastSeen time.Time
}

type tokenBucket struct {
	tokens float64
	last   time.Time
	primed bool
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*clientLimiter),
	}
}

// ClientKey identifies the caller by remote host, without the port.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed bool
	// Limit names the rule that denied the session.
	Limit      string
	RetryAfter int
	Permit     *Permit
}

// AcquireSession admits one session for client. The permit must be
// released when the session ends.
func (l *Limiter) AcquireSession(client string, now time.Time) Decision {
	if client == "" {
		client = "unknown"
	}

	cl := l.getOrCreate(client, now)
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.lastSeen = now

	if l.cfg.MaxSessionsPerClient > 0 && cl.sessions >= l.cfg.MaxSessionsPerClient {
		return Decision{Limit: LimitSessions, RetryAfter: 1}
	}
	if l.cfg.UpgradesPerSecond > 0 && l.cfg.Burst > 0 {
		if ok, retryAfter := cl.allowToken(now, l.cfg.UpgradesPerSecond, l.cfg.Burst); !ok {
			return Decision{Limit: LimitUpgrades, RetryAfter: retryAfter}
		}
	}

	cl.sessions++
	return Decision{
		Allowed: true,
		Permit: &Permit{release: func() {
			cl.mu.Lock()
			cl.sessions--
			cl.mu.Unlock()
		}},
	}
}

// Sessions reports how many sessions client holds.
func (l *Limiter) Sessions(client string) int {
	l.mu.Lock()
	cl, ok := l.m[client]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.sessions
}

func (l *Limiter) getOrCreate(client string, now time.Time) *clientLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cl, ok := l.m[client]; ok {
		return cl
	}
	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
	}
	cl := &clientLimiter{lastSeen: now}
	l.m[client] = cl
	return cl
}

// gcLocked drops idle clients that hold no sessions.
func (l *Limiter) gcLocked(now time.Time) {
	for k, v := range l.m {
		v.mu.Lock()
		idle := v.sessions == 0 && now.Sub(v.lastSeen) > l.cfg.EntryTTL
		v.mu.Unlock()
		if idle {
			delete(l.m, k)
		}
	}
}

func (cl *clientLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	capacity := float64(burst)
	if !cl.tb.primed {
		cl.tb = tokenBucket{tokens: capacity, last: now, primed: true}
	}

	elapsed := now.Sub(cl.tb.last).Seconds()
	if elapsed > 0 {
		cl.tb.tokens = math.Min(capacity, cl.tb.tokens+(elapsed*rps))
		cl.tb.last = now
	}

	if cl.tb.tokens >= 1.0 {
		cl.tb.tokens -= 1.0
		return true, 0
	}

	needed := 1.0 - cl.tb.tokens
	retryAfter := int(math.Ceil(needed / rps))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
