package protocol

import (
	"encoding/json"

	"progress-stream-service/internal/entity"
)

type StartedPayload struct {
	TotalCount               *int           `json:"totalCount,omitempty"`
	EstimatedDurationSeconds *int           `json:"estimatedDurationSeconds,omitempty"`
	Metadata                 map[string]any `json:"metadata,omitempty"`
}

type ProgressPayload struct {
	ProcessedCount int    `json:"processedCount"`
	CurrentItem    string `json:"currentItem,omitempty"`
	UserMessage    string `json:"userMessage,omitempty"`
}

type CompletePayload struct {
	SuccessCount int             `json:"successCount"`
	FailureCount int             `json:"failureCount"`
	DurationMs   int64           `json:"durationMs"`
	Result       json.RawMessage `json:"result,omitempty"`
}

type ErrorPayload struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	UserMessage string         `json:"userMessage"`
	Retryable   bool           `json:"retryable"`
	Details     map[string]any `json:"details,omitempty"`
}

type PingPayload struct {
	ClientTimeMs int64 `json:"clientTimeMs,omitempty"`
}

type PongPayload struct {
	ClientTimeMs int64 `json:"clientTimeMs,omitempty"`
}

// ReconnectedPayload is the synthetic snapshot sent when a client (re)attaches
// to a job already in flight. It supersedes anything delivered on a prior
// connection; clients treat it as authoritative, not additive.
type ReconnectedPayload struct {
	Status         entity.JobStatus `json:"status"`
	ProcessedCount int              `json:"processedCount"`
	TotalCount     *int             `json:"totalCount,omitempty"`
	LastUpdateMs   int64            `json:"lastUpdateMs"`
}
