package repository

import (
	"context"
	"sync"
	"time"

	"progress-stream-service/internal/entity"
)

// MemoryStore keeps job state in a process-local map. Dev mode and tests
// only; it survives nothing.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]entity.JobState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]entity.JobState)}
}

func (s *MemoryStore) Save(ctx context.Context, st *entity.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.JobID] = *st
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, jobID string) (*entity.JobState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *MemoryStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, jobID)
	return nil
}

func (s *MemoryStore) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, st := range s.states {
		if st.Status.Terminal() && st.LastUpdateTime.Before(cutoff) {
			delete(s.states, id)
			removed++
		}
	}
	return removed, nil
}
