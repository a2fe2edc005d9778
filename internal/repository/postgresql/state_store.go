package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"progress-stream-service/internal/entity"
	"progress-stream-service/internal/repository"
)

// Schema:
//
//	CREATE TABLE IF NOT EXISTS job_states (
//	    job_id     text PRIMARY KEY,
//	    status     text NOT NULL,
//	    state      jsonb NOT NULL,
//	    updated_at timestamptz NOT NULL DEFAULT now()
//	);
type StateStore struct {
	pool *pgxpool.Pool
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg ping: %w", err)
	}
	return pool, nil
}

func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

func (s *StateStore) Save(ctx context.Context, st *entity.JobState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}

	const q = `
INSERT INTO job_states (job_id, status, state, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (job_id) DO UPDATE
SET status = EXCLUDED.status, state = EXCLUDED.state, updated_at = now();
`
	if _, err := s.pool.Exec(ctx, q, st.JobID, string(st.Status), data); err != nil {
		return fmt.Errorf("save job state: %w", err)
	}
	return nil
}

func (s *StateStore) Load(ctx context.Context, jobID string) (*entity.JobState, error) {
	const q = `SELECT state FROM job_states WHERE job_id = $1;`

	var data []byte
	if err := s.pool.QueryRow(ctx, q, jobID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	_, err := s.pool.Exec(ctx, `DELETE FROM job_states WHERE job_id = $1;`, jobID)
	return err
}

// SweepExpired removes terminal records not updated since the cutoff.
func (s *StateStore) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
DELETE FROM job_states
WHERE status IN ('complete', 'failed', 'canceled') AND updated_at < $1;
`
	tag, err := s.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep job states: %w", err)
	}
	return tag.RowsAffected(), nil
}
