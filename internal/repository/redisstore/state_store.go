package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"progress-stream-service/internal/entity"
	"progress-stream-service/internal/repository"
)

const keyPrefix = "progress:job:"

// StateStore persists one JSON value per job under progress:job:<id>.
// Terminal saves carry the retention window as a Redis TTL, so expired
// records drop out without a sweep.
type StateStore struct {
	rdb       *redis.Client
	retention time.Duration
}

func New(rdb *redis.Client, retention time.Duration) *StateStore {
	return &StateStore{rdb: rdb, retention: retention}
}

func key(jobID string) string { return keyPrefix + jobID }

func (s *StateStore) Save(ctx context.Context, st *entity.JobState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}

	var ttl time.Duration
	if st.Status.Terminal() {
		ttl = s.retention
	}
	if err := s.rdb.Set(ctx, key(st.JobID), data, ttl).Err(); err != nil {
		return fmt.Errorf("save job state: %w", err)
	}
	return nil
}

func (s *StateStore) Load(ctx context.Context, jobID string) (*entity.JobState, error) {
	data, err := s.rdb.Get(ctx, key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("load job state: %w", err)
	}

	var st entity.JobState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal job state: %w", err)
	}
	return &st, nil
}

func (s *StateStore) Delete(ctx context.Context, jobID string) error {
	return s.rdb.Del(ctx, key(jobID)).Err()
}

// SweepExpired is a no-op: retention is enforced by the TTL set on terminal
// saves.
func (s *StateStore) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
