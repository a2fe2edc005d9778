package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"progress-stream-service/internal/entity"
	"progress-stream-service/internal/repository"
)

func TestMemoryStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	st := &entity.JobState{
		JobID:          "job-1",
		Pipeline:       entity.PipelineFileImport,
		Status:         entity.StatusRunning,
		ProcessedCount: 7,
		AuthToken:      "secret",
	}
	if err := store.Save(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx, "job-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ProcessedCount != 7 || got.AuthToken != "secret" {
		t.Fatalf("unexpected loaded state %+v", got)
	}

	// the stored record is a copy, not an alias
	st.ProcessedCount = 99
	got, _ = store.Load(ctx, "job-1")
	if got.ProcessedCount != 7 {
		t.Fatalf("expected stored copy unaffected by caller mutation, got %d", got.ProcessedCount)
	}

	if err := store.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, "job-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_SweepExpired(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	old := time.Now().Add(-48 * time.Hour)

	_ = store.Save(ctx, &entity.JobState{JobID: "done-old", Status: entity.StatusComplete, LastUpdateTime: old})
	_ = store.Save(ctx, &entity.JobState{JobID: "done-new", Status: entity.StatusComplete, LastUpdateTime: time.Now()})
	_ = store.Save(ctx, &entity.JobState{JobID: "running-old", Status: entity.StatusRunning, LastUpdateTime: old})

	removed, err := store.SweepExpired(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 record swept, got %d", removed)
	}

	if _, err := store.Load(ctx, "done-old"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatal("expected expired terminal record removed")
	}
	if _, err := store.Load(ctx, "done-new"); err != nil {
		t.Fatal("recent terminal record must survive the sweep")
	}
	if _, err := store.Load(ctx, "running-old"); err != nil {
		t.Fatal("running records must never be swept, no matter how stale")
	}
}
