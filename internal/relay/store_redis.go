package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matst80/ws2s/internal/obs"
	"github.com/redis/go-redis/v9"
)

const (
	keySessions     = "ws2s:sessions"
	keyTunnels      = "ws2s:tunnels"
	keyTunnelsTotal = "ws2s:stats:tunnels_total"
	keyDialFailures = "ws2s:stats:dial_failures"
)

func sessionKey(id string) string { return "ws2s:session:" + id }

// RedisStore implements Store using Redis for horizontal scaling. Sessions
// owned by this instance are mirrored locally so the heartbeat can refresh
// their TTLs.
type RedisStore struct {
	client     *redis.Client
	mu         sync.Mutex
	owned      map[string]*SessionInfo
	closing    bool
	ready      bool
	instanceID string

	heartbeatInterval time.Duration
	keyTTL            time.Duration
}

func NewRedisStore(cfg StoreConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	instance := cfg.Instance
	if instance == "" {
		instance = fmt.Sprintf("ws2sd-%d", time.Now().UnixNano())
	}
	return &RedisStore{
		client:            rdb,
		owned:             make(map[string]*SessionInfo),
		instanceID:        instance,
		heartbeatInterval: 30 * time.Second,
		keyTTL:            2 * time.Minute,
	}, nil
}

var _ Store = (*RedisStore)(nil)

func (r *RedisStore) SetClosing(closing bool) { r.mu.Lock(); r.closing = closing; r.mu.Unlock() }
func (r *RedisStore) SetReady(ready bool)     { r.mu.Lock(); r.ready = ready; r.mu.Unlock() }
func (r *RedisStore) Closing() bool           { r.mu.Lock(); defer r.mu.Unlock(); return r.closing }
func (r *RedisStore) Ready() bool             { r.mu.Lock(); defer r.mu.Unlock(); return r.ready }

func (r *RedisStore) Register(ctx context.Context, info SessionInfo) error {
	if info.Instance == "" {
		info.Instance = r.instanceID
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := r.client.SetNX(ctx, sessionKey(info.ID), data, r.keyTTL).Result()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("session already registered: %s", info.ID)
	}
	if err := r.client.SAdd(ctx, keySessions, info.ID).Err(); err != nil {
		return fmt.Errorf("redis session index failed: %w", err)
	}
	r.mu.Lock()
	r.owned[info.ID] = &info
	r.mu.Unlock()
	return nil
}

func (r *RedisStore) SetTarget(ctx context.Context, id, target string) error {
	r.mu.Lock()
	sess, ok := r.owned[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown session: %s", id)
	}
	opened := sess.Target == "" && target != ""
	sess.Target = target
	data, err := json.Marshal(sess)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(id), data, r.keyTTL)
		if target == "" {
			pipe.SRem(ctx, keyTunnels, id)
		} else {
			pipe.SAdd(ctx, keyTunnels, id)
		}
		if opened {
			pipe.Incr(ctx, keyTunnelsTotal)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set target failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.owned, id)
	r.mu.Unlock()
	pipe := r.client.Pipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, keySessions, id)
	pipe.SRem(ctx, keyTunnels, id)
	if _, err := pipe.Exec(ctx); err != nil {
		obs.Error("redis.remove_session", obs.Fields{"err": err.Error(), "id": id})
		return err
	}
	return nil
}

func (r *RedisStore) RecordDialFailure(ctx context.Context) {
	if err := r.client.Incr(ctx, keyDialFailures).Err(); err != nil {
		obs.Error("redis.dial_failures", obs.Fields{"err": err.Error()})
	}
}

// Stats counts sessions across all instances sharing the Redis.
func (r *RedisStore) Stats(ctx context.Context) (Stats, error) {
	pipe := r.client.Pipeline()
	sessions := pipe.SCard(ctx, keySessions)
	tunnels := pipe.SCard(ctx, keyTunnels)
	total := pipe.Get(ctx, keyTunnelsTotal)
	failures := pipe.Get(ctx, keyDialFailures)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("redis stats failed: %w", err)
	}
	st := Stats{
		Sessions: int(sessions.Val()),
		Tunnels:  int(tunnels.Val()),
		Now:      time.Now().UTC().Format(time.RFC3339),
	}
	st.TotalTunnels, _ = total.Int64()
	st.DialFailures, _ = failures.Int64()
	return st, nil
}

// StartMaintenance launches periodic heartbeat + index pruning.
func (r *RedisStore) StartMaintenance(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat(ctx)
			r.prune(ctx)
		}
	}
}

// heartbeat extends the TTL of sessions owned by this instance.
func (r *RedisStore) heartbeat(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.owned))
	for id := range r.owned {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		if err := r.client.Expire(ctx, sessionKey(id), r.keyTTL).Err(); err != nil {
			obs.Error("redis.heartbeat.expire", obs.Fields{"err": err.Error(), "id": id})
		}
	}
}

// prune removes index entries whose session key expired, e.g. because the
// owning instance died without cleaning up.
func (r *RedisStore) prune(ctx context.Context) int {
	ids, err := r.client.SMembers(ctx, keySessions).Result()
	if err != nil {
		obs.Error("redis.prune.members", obs.Fields{"err": err.Error()})
		return 0
	}
	removed := 0
	for _, id := range ids {
		n, err := r.client.Exists(ctx, sessionKey(id)).Result()
		if err != nil {
			obs.Error("redis.prune.exists", obs.Fields{"err": err.Error(), "id": id})
			continue
		}
		if n == 0 {
			r.client.SRem(ctx, keySessions, id)
			r.client.SRem(ctx, keyTunnels, id)
			removed++
		}
	}
	return removed
}
