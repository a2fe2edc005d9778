// Package producer holds a demo producer used in dev mode. Real producers
// (file importers, enrichment pipelines, image scanners) live outside this
// service and drive the same coordinator operations.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"progress-stream-service/internal/entity"
	"progress-stream-service/internal/service"
)

// Simulator runs a fake pipeline against the registry: create, report
// progress per item, complete. It checks the cancellation flag between
// items, the way a well-behaved producer should.
type Simulator struct {
	registry *service.Registry
	interval time.Duration
}

func NewSimulator(registry *service.Registry, interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Simulator{registry: registry, interval: interval}
}

// Run drives one simulated job to completion and returns its ID. The auth
// token is printed to stdout for manual testing; it is deliberately kept out
// of the logs.
func (s *Simulator) Run(ctx context.Context, pipeline entity.Pipeline, total int) (string, error) {
	jobID, token, err := s.registry.CreateJob(ctx, pipeline, &total)
	if err != nil {
		return "", err
	}
	fmt.Printf("demo job created: id=%s token=%s\n", jobID, token)

	co, ok := s.registry.Lookup(ctx, jobID)
	if !ok {
		return "", fmt.Errorf("job %s vanished after create", jobID)
	}

	for i := 1; i <= total; i++ {
		if co.Canceled() {
			log.Printf("[producer] job_id=%s canceled at item=%d", jobID, i)
			return jobID, nil
		}
		select {
		case <-ctx.Done():
			return jobID, ctx.Err()
		case <-time.After(s.interval):
		}

		item := fmt.Sprintf("item-%03d", i)
		if err := co.ReportProgress(ctx, i, item, ""); err != nil {
			return jobID, err
		}
	}

	result, _ := json.Marshal(map[string]any{"items": total})
	if err := co.Complete(ctx, total, 0, result); err != nil {
		return jobID, err
	}
	return jobID, nil
}
