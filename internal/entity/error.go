package entity

// Error codes shared across transports. Every payload carries both a
// machine-readable code and a separate user-facing message.
const (
	CodeAuthFailed     = "E_AUTH_FAILED"
	CodeJobNotFound    = "E_JOB_NOT_FOUND"
	CodeProducerFailed = "E_PRODUCER_FAILED"
	CodeTimeout        = "E_TIMEOUT"
	CodeMaxRetries     = "E_MAX_RETRIES"
)

type JobError struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	UserMessage string         `json:"user_message"`
	Retryable   bool           `json:"retryable"`
	Details     map[string]any `json:"details,omitempty"`
}

func (e JobError) Error() string {
	return e.Code + ": " + e.Message
}
