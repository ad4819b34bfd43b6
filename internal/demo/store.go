package demo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kdimtricp/lipreader/internal/metrics"
	"go.uber.org/zap"
)

// Store holds sessions by id and releases the ones idle longer than the TTL.
type Store struct {
	deps *Deps
	ttl  time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStore(deps Deps, ttl time.Duration) *Store {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Store{
		deps:     &deps,
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// Get returns the live session for id and marks it as seen.
func (st *Store) Get(ctx context.Context, id string) (*Session, bool) {
	st.Sweep(ctx)

	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()
	if ok {
		s.Touch()
	}
	return s, ok
}

// GetOrCreate returns the session for id, creating a new one under a fresh id
// when id is unknown or expired.
func (st *Store) GetOrCreate(ctx context.Context, id string) (*Session, bool) {
	if s, ok := st.Get(ctx, id); ok {
		return s, false
	}

	s := newSession(uuid.New().String(), st.deps)

	st.mu.Lock()
	st.sessions[s.ID] = s
	metrics.ActiveSessions.Set(float64(len(st.sessions)))
	st.mu.Unlock()

	st.deps.Logger.Info("session created", zap.String("session_id", s.ID))
	return s, true
}

// Sweep releases sessions idle longer than the TTL. Sessions with an upload in
// flight are kept. It returns the number released.
func (st *Store) Sweep(ctx context.Context) int {
	if st.ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-st.ttl)

	var expired []*Session
	st.mu.Lock()
	for id, s := range st.sessions {
		if s.LastSeen().Before(cutoff) && !s.IsUploading() {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	metrics.ActiveSessions.Set(float64(len(st.sessions)))
	st.mu.Unlock()

	for _, s := range expired {
		s.Release(ctx)
		st.deps.Logger.Info("session expired", zap.String("session_id", s.ID))
	}
	return len(expired)
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Close releases every session.
func (st *Store) Close(ctx context.Context) {
	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[string]*Session)
	metrics.ActiveSessions.Set(0)
	st.mu.Unlock()

	for _, s := range sessions {
		s.Release(ctx)
	}
}
