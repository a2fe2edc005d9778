package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"progress-stream-service/internal/entity"
	"progress-stream-service/internal/repository"
)

// Registry is the arena of live coordinators, one entry per job. A reaper
// drops entries past the retention window so the map never grows unbounded.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*Coordinator
	store StateStore
	cfg   Config
}

func NewRegistry(store StateStore, cfg Config) *Registry {
	return &Registry{
		jobs:  make(map[string]*Coordinator),
		store: store,
		cfg:   cfg,
	}
}

// CreateJob mints a job ID and auth token, allocates the coordinator and
// persists the initial state before returning. The token is handed to the
// caller exactly once and never logged.
func (r *Registry) CreateJob(ctx context.Context, pipeline entity.Pipeline, totalCount *int) (jobID, authToken string, err error) {
	jobID = uuid.NewString()
	authToken = uuid.NewString()

	now := time.Now()
	co := newCoordinator(r.store, r.cfg, entity.JobState{
		JobID:          jobID,
		Pipeline:       pipeline,
		Status:         entity.StatusRunning,
		TotalCount:     totalCount,
		StartTime:      now,
		LastUpdateTime: now,
		AuthToken:      authToken,
	})
	if err := co.Initialize(ctx); err != nil {
		return "", "", err
	}

	r.mu.Lock()
	r.jobs[jobID] = co
	r.mu.Unlock()

	log.Printf("[registry] job_id=%s pipeline=%s created", jobID, pipeline)
	return jobID, authToken, nil
}

// Lookup resolves a live coordinator, falling back to the store for records
// that survived a restart.
func (r *Registry) Lookup(ctx context.Context, jobID string) (*Coordinator, bool) {
	r.mu.RLock()
	co, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if ok {
		return co, true
	}
	return r.rehydrate(ctx, jobID)
}

// rehydrate rebuilds a coordinator around a persisted record. Terminal
// records attach and serve their final snapshot; the reaper retires them on
// the usual retention schedule.
func (r *Registry) rehydrate(ctx context.Context, jobID string) (*Coordinator, bool) {
	st, err := r.store.Load(ctx, jobID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Printf("[registry] job_id=%s rehydrate load failed: %v", jobID, err)
		}
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if co, ok := r.jobs[jobID]; ok {
		// a concurrent request rehydrated first
		return co, true
	}
	co := newCoordinator(r.store, r.cfg, *st)
	r.jobs[jobID] = co
	log.Printf("[registry] job_id=%s status=%s rehydrated from store", jobID, st.Status)
	return co, true
}

// Run drives the retention reaper until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx, time.Now())
		}
	}
}

func (r *Registry) sweep(ctx context.Context, now time.Time) {
	cutoff := now.Add(-r.cfg.Retention)

	r.mu.Lock()
	var expired []string
	for id, co := range r.jobs {
		st := co.State()
		if st.Status.Terminal() && st.LastUpdateTime.Before(cutoff) {
			delete(r.jobs, id)
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		if err := r.store.Delete(ctx, id); err != nil {
			log.Printf("[registry] job_id=%s cleanup delete failed: %v", id, err)
		}
	}

	// catch stored records with no live coordinator (e.g. after a restart)
	n, err := r.store.SweepExpired(ctx, cutoff)
	if err != nil {
		log.Printf("[registry] sweep error: %v", err)
		return
	}
	if len(expired) > 0 || n > 0 {
		log.Printf("[registry] swept jobs in_memory=%d stored=%d", len(expired), n)
	}
}
