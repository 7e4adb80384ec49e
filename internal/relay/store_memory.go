package relay

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryStore struct {
	mu           sync.Mutex
	sessions     map[string]*SessionInfo
	closing      bool
	ready        bool
	totalTunnels int64
	dialFailures int64
}

func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[string]*SessionInfo)}
}

var _ Store = (*memoryStore)(nil)

func (s *memoryStore) SetClosing(closing bool) { s.mu.Lock(); s.closing = closing; s.mu.Unlock() }
func (s *memoryStore) SetReady(ready bool)     { s.mu.Lock(); s.ready = ready; s.mu.Unlock() }
func (s *memoryStore) Closing() bool           { s.mu.Lock(); defer s.mu.Unlock(); return s.closing }
func (s *memoryStore) Ready() bool             { s.mu.Lock(); defer s.mu.Unlock(); return s.ready }

func (s *memoryStore) Register(_ context.Context, info SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[info.ID]; exists {
		return fmt.Errorf("session already registered: %s", info.ID)
	}
	cp := info
	s.sessions[info.ID] = &cp
	return nil
}

func (s *memoryStore) SetTarget(_ context.Context, id, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("unknown session: %s", id)
	}
	if sess.Target == "" && target != "" {
		s.totalTunnels++
	}
	sess.Target = target
	return nil
}

func (s *memoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) RecordDialFailure(context.Context) {
	s.mu.Lock()
	s.dialFailures++
	s.mu.Unlock()
}

func (s *memoryStore) Stats(context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tunnels := 0
	for _, sess := range s.sessions {
		if sess.Target != "" {
			tunnels++
		}
	}
	return Stats{
		Sessions:     len(s.sessions),
		Tunnels:      tunnels,
		TotalTunnels: s.totalTunnels,
		DialFailures: s.dialFailures,
		Now:          time.Now().UTC().Format(time.RFC3339),
	}, nil
}
