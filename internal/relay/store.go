package relay

import (
	"context"
	"time"

	"github.com/matst80/ws2s/internal/obs"
)

// SessionInfo describes one WebSocket session on the bridge.
type SessionInfo struct {
	ID       string    `json:"id"`
	Remote   string    `json:"remote"`
	Target   string    `json:"target,omitempty"` // host:port while a tunnel is up
	Instance string    `json:"instance"`
	Created  time.Time `json:"created"`
}

// Store abstracts session bookkeeping so several bridge instances can share
// one view through Redis.
type Store interface {
	Register(ctx context.Context, s SessionInfo) error
	// SetTarget records the tunnel destination; "" means the tunnel closed.
	SetTarget(ctx context.Context, id, target string) error
	Remove(ctx context.Context, id string) error
	RecordDialFailure(ctx context.Context)
	Stats(ctx context.Context) (Stats, error)

	SetReady(ready bool)
	SetClosing(closing bool)
	Ready() bool
	Closing() bool
}

// StoreConfig selects the backend: Redis when RedisAddr is set.
type StoreConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Instance      string
}

// NewStore creates either an in-memory or Redis-backed store.
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.RedisAddr == "" {
		obs.Info("state.backend", obs.Fields{"type": "in-memory"})
		return NewMemoryStore(), nil
	}
	obs.Info("state.backend", obs.Fields{"type": "redis", "addr": cfg.RedisAddr})
	s, err := NewRedisStore(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
