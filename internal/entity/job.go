package entity

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	StatusRunning  JobStatus = "running"
	StatusComplete JobStatus = "complete"
	StatusFailed   JobStatus = "failed"
	StatusCanceled JobStatus = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCanceled
}

// Pipeline identifies the kind of producer feeding a job. It routes payload
// interpretation on the client, not job identity.
type Pipeline string

const (
	PipelineBatchEnrichment Pipeline = "batch_enrichment"
	PipelineFileImport      Pipeline = "file_import"
	PipelineImageScan       Pipeline = "image_scan"
)

func ParsePipeline(s string) (Pipeline, bool) {
	switch p := Pipeline(s); p {
	case PipelineBatchEnrichment, PipelineFileImport, PipelineImageScan:
		return p, true
	default:
		return "", false
	}
}

// JobState is the authoritative per-job record. A single coordinator instance
// is the sole writer; the store serializes it as-is, one record per job.
type JobState struct {
	JobID          string          `json:"job_id"`
	Pipeline       Pipeline        `json:"pipeline"`
	Status         JobStatus       `json:"status"`
	TotalCount     *int            `json:"total_count,omitempty"`
	ProcessedCount int             `json:"processed_count"`
	SuccessCount   int             `json:"success_count"`
	FailureCount   int             `json:"failure_count"`
	CurrentItem    string          `json:"current_item,omitempty"`
	StartTime      time.Time       `json:"start_time"`
	LastUpdateTime time.Time       `json:"last_update_time"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *JobError       `json:"error,omitempty"`
	AuthToken      string          `json:"auth_token"`
}
