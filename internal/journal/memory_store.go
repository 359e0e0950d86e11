package journal

import (
	"context"
	"sync"

	"github.com/callscribe/callscribe/internal/session"
)

// MemoryStore is a non-durable journal for unit tests and local
// prototyping.
type MemoryStore struct {
	mu        sync.Mutex
	finalized map[session.Key]session.FinalizedSession
	failures  map[session.Key]FailureMarker
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		finalized: make(map[session.Key]session.FinalizedSession),
		failures:  make(map[session.Key]FailureMarker),
	}
}

func (s *MemoryStore) PutFinalized(ctx context.Context, rec session.FinalizedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized[rec.Key] = rec
	return nil
}

func (s *MemoryStore) GetFinalized(ctx context.Context, key session.Key) (session.FinalizedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.finalized[key]
	if !ok {
		return session.FinalizedSession{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) PutFailure(ctx context.Context, marker FailureMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[marker.Session.Key] = marker
	return nil
}

func (s *MemoryStore) Failures(ctx context.Context) ([]FailureMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FailureMarker, 0, len(s.failures))
	for _, m := range s.failures {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
