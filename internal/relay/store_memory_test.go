package relay

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Register(ctx, SessionInfo{ID: "a", Remote: "127.0.0.1", Created: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(ctx, SessionInfo{ID: "a"}); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
	if err := s.SetTarget(ctx, "missing", "x:1"); err == nil {
		t.Error("Expected SetTarget on unknown session to fail")
	}
	if err := s.SetTarget(ctx, "a", "example.com:80"); err != nil {
		t.Fatal(err)
	}
	// re-setting the same tunnel does not count twice
	_ = s.SetTarget(ctx, "a", "example.com:80")
	s.RecordDialFailure(ctx)

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Sessions != 1 || st.Tunnels != 1 || st.TotalTunnels != 1 || st.DialFailures != 1 {
		t.Errorf("Unexpected stats %+v", st)
	}

	_ = s.SetTarget(ctx, "a", "")
	_ = s.SetTarget(ctx, "a", "example.com:443")
	_ = s.Remove(ctx, "a")
	st, _ = s.Stats(ctx)
	if st.Sessions != 0 || st.Tunnels != 0 {
		t.Errorf("Expected empty store, got %+v", st)
	}
	if st.TotalTunnels != 2 {
		t.Errorf("Expected 2 total tunnels, got %d", st.TotalTunnels)
	}
}

func TestMemoryStoreFlags(t *testing.T) {
	s := NewMemoryStore()
	if s.Ready() || s.Closing() {
		t.Error("Expected fresh store to be neither ready nor closing")
	}
	s.SetReady(true)
	s.SetClosing(true)
	if !s.Ready() || !s.Closing() {
		t.Error("Expected flags to stick")
	}
}

func TestStatsTemplateMap(t *testing.T) {
	m := Stats{Sessions: 2, Tunnels: 1, TotalTunnels: 5, DialFailures: 3}.ToTemplateMap()
	if m["Sessions"] != 2 || m["Tunnels"] != 1 || m["Total"] != int64(5) || m["DialFailures"] != int64(3) {
		t.Errorf("Unexpected template map %v", m)
	}
}
