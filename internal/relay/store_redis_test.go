package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(StoreConfig{RedisAddr: mr.Addr(), Instance: "test-1"})
	if err != nil {
		t.Fatalf("Expected redis store: %v", err)
	}
	return s, mr
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	if err := s.Register(ctx, SessionInfo{ID: "a", Remote: "127.0.0.1", Created: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(ctx, SessionInfo{ID: "a"}); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
	if err := s.SetTarget(ctx, "a", "example.com:80"); err != nil {
		t.Fatal(err)
	}
	s.RecordDialFailure(ctx)

	raw, err := mr.Get(sessionKey("a"))
	if err != nil {
		t.Fatal(err)
	}
	var info SessionInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		t.Fatal(err)
	}
	if info.Target != "example.com:80" || info.Instance != "test-1" {
		t.Errorf("Unexpected stored session %+v", info)
	}
	if mr.TTL(sessionKey("a")) <= 0 {
		t.Error("Expected session key to carry a TTL")
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Sessions != 1 || st.Tunnels != 1 || st.TotalTunnels != 1 || st.DialFailures != 1 {
		t.Errorf("Unexpected stats %+v", st)
	}

	_ = s.SetTarget(ctx, "a", "")
	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	st, _ = s.Stats(ctx)
	if st.Sessions != 0 || st.Tunnels != 0 || st.TotalTunnels != 1 {
		t.Errorf("Expected empty sets with history kept, got %+v", st)
	}
	if mr.Exists(sessionKey("a")) {
		t.Error("Expected session key deleted")
	}
}

func TestRedisStoreStatsEmpty(t *testing.T) {
	s, _ := newTestRedisStore(t)
	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Expected stats on empty redis, got %v", err)
	}
	if st.Sessions != 0 || st.TotalTunnels != 0 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestRedisStorePrunesExpired(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	// a session owned by an instance that died
	_ = mr.Set(sessionKey("ghost"), "{}")
	mr.SetTTL(sessionKey("ghost"), time.Second)
	_, _ = mr.SAdd(keySessions, "ghost")
	_, _ = mr.SAdd(keyTunnels, "ghost")

	_ = s.Register(ctx, SessionInfo{ID: "live"})
	mr.FastForward(2 * time.Second)
	s.heartbeat(ctx)

	if n := s.prune(ctx); n != 1 {
		t.Errorf("Expected 1 pruned entry, got %d", n)
	}
	st, _ := s.Stats(ctx)
	if st.Sessions != 1 || st.Tunnels != 0 {
		t.Errorf("Expected only the live session left, got %+v", st)
	}
}

func TestRedisStoreHeartbeatRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	_ = s.Register(ctx, SessionInfo{ID: "a"})
	mr.FastForward(s.keyTTL - time.Second)
	s.heartbeat(ctx)
	mr.FastForward(30 * time.Second)
	if !mr.Exists(sessionKey("a")) {
		t.Error("Expected heartbeat to keep the session alive")
	}
}

func TestNewStoreFallsBackToMemory(t *testing.T) {
	s, err := NewStore(StoreConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*memoryStore); !ok {
		t.Errorf("Expected memory store, got %T", s)
	}
}

func TestNewStoreRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := NewStore(StoreConfig{RedisAddr: addr}); err == nil {
		t.Error("Expected unreachable redis to fail")
	}
}
