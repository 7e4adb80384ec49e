package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	now := time.Now()
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow checks if a request can be allowed and consumes a token if available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.lastUsed = now
	tokensToAdd := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.rate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastUsed
}

// Config sets rates in events per second; 0 disables that limit.
type Config struct {
	GlobalSessions int
	PeerSessions   int
	GlobalCommands int
	PeerCommands   int
	Burst          int
}

// Limiter guards the bridge: how often WebSocket sessions may be opened and
// how many commands may be issued, both per peer address and overall.
type Limiter struct {
	mu             sync.Mutex
	globalSessions *TokenBucket
	globalCommands *TokenBucket
	peerSessions   map[string]*TokenBucket
	peerCommands   map[string]*TokenBucket
	cfg            Config
}

func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	l := &Limiter{
		peerSessions: make(map[string]*TokenBucket),
		peerCommands: make(map[string]*TokenBucket),
		cfg:          cfg,
	}
	if cfg.GlobalSessions > 0 {
		l.globalSessions = NewTokenBucket(cfg.GlobalSessions, cfg.Burst)
	}
	if cfg.GlobalCommands > 0 {
		l.globalCommands = NewTokenBucket(cfg.GlobalCommands, cfg.Burst)
	}
	return l
}

// AllowSession reports whether peer may open another session.
func (l *Limiter) AllowSession(peer string) bool {
	if l == nil {
		return true
	}
	return l.allow(l.globalSessions, l.peerSessions, l.cfg.PeerSessions, peer)
}

// AllowCommand reports whether peer may issue another command.
func (l *Limiter) AllowCommand(peer string) bool {
	if l == nil {
		return true
	}
	return l.allow(l.globalCommands, l.peerCommands, l.cfg.PeerCommands, peer)
}

func (l *Limiter) allow(global *TokenBucket, perPeer map[string]*TokenBucket, rate int, peer string) bool {
	if global != nil && !global.Allow() {
		return false
	}
	if rate <= 0 {
		return true
	}
	l.mu.Lock()
	bucket, ok := perPeer[peer]
	if !ok {
		bucket = NewTokenBucket(rate, l.cfg.Burst)
		perPeer[peer] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// Prune drops per-peer buckets unused for maxIdle and returns how many went.
func (l *Limiter) Prune(maxIdle time.Duration) int {
	if l == nil {
		return 0
	}
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range []map[string]*TokenBucket{l.peerSessions, l.peerCommands} {
		for peer, b := range m {
			if b.idleSince().Before(cutoff) {
				delete(m, peer)
				n++
			}
		}
	}
	return n
}

// Peers returns the number of per-peer buckets held.
func (l *Limiter) Peers() (sessions, commands int) {
	if l == nil {
		return 0, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peerSessions), len(l.peerCommands)
}
