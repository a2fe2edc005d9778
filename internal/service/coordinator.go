package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"progress-stream-service/internal/entity"
	"progress-stream-service/internal/protocol"
)

var ErrAuthFailed = errors.New("authentication failed")

// StateStore is the persistence port (implementations: repository,
// repository/redisstore, repository/postgresql).
type StateStore interface {
	Save(ctx context.Context, st *entity.JobState) error
	Load(ctx context.Context, jobID string) (*entity.JobState, error)
	Delete(ctx context.Context, jobID string) error
	SweepExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Conn is a push channel to the single subscribed client. Implementations
// must tolerate Close being called more than once.
type Conn interface {
	Send(env protocol.Envelope) error
	Close() error
}

// Coordinator owns one job's state machine. Every mutation runs under one
// mutex, so no two mutations of the same job ever interleave; different jobs
// share nothing.
type Coordinator struct {
	mu    sync.Mutex
	state entity.JobState
	store StateStore
	cfg   Config

	conn     Conn
	canceled bool

	// throttle bookkeeping
	unsaved     int
	lastPersist time.Time
}

func newCoordinator(store StateStore, cfg Config, state entity.JobState) *Coordinator {
	return &Coordinator{state: state, store: store, cfg: cfg}
}

// Initialize persists the freshly created job synchronously. The job does
// not exist until this write is acknowledged, or crash recovery would be
// wrong.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Save(ctx, &c.state); err != nil {
		return err
	}
	c.lastPersist = time.Now()
	return nil
}

// State returns a copy of the current job state. Callers must not expose
// AuthToken.
func (c *Coordinator) State() entity.JobState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Authorize compares a producer-supplied token in constant time without
// touching the connection.
func (c *Coordinator) Authorize(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tokenEqual(token, c.state.AuthToken)
}

// Canceled is the cooperative cancellation flag producers poll between work
// units.
func (c *Coordinator) Canceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

// ReportProgress applies a producer update. Counts that would move backwards
// are ignored (producers retry at-least-once), late calls after a terminal
// transition are warn-logged no-ops, and persistence goes through the
// throttle policy.
func (c *Coordinator) ReportProgress(ctx context.Context, processed int, currentItem, userMessage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status.Terminal() {
		log.Printf("[coordinator] job_id=%s status=%s ignoring late progress", c.state.JobID, c.state.Status)
		return nil
	}
	if processed < c.state.ProcessedCount {
		return nil
	}
	if c.state.TotalCount != nil && processed > *c.state.TotalCount {
		processed = *c.state.TotalCount
	}

	c.state.ProcessedCount = processed
	c.state.CurrentItem = currentItem
	c.state.LastUpdateTime = time.Now()

	c.pushLocked(protocol.New(protocol.TypeJobProgress, c.state.JobID, c.state.Pipeline, protocol.ProgressPayload{
		ProcessedCount: processed,
		CurrentItem:    currentItem,
		UserMessage:    userMessage,
	}))

	c.unsaved++
	if c.unsaved >= c.cfg.ThrottleUpdates || time.Since(c.lastPersist) >= c.cfg.ThrottleInterval {
		c.persistAsyncLocked()
	}
	return nil
}

// Complete transitions the job to its terminal success state. Calling it
// again is a no-op: no duplicate push, no duplicate write.
func (c *Coordinator) Complete(ctx context.Context, successCount, failureCount int, result json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status.Terminal() {
		log.Printf("[coordinator] job_id=%s status=%s ignoring late complete", c.state.JobID, c.state.Status)
		return nil
	}

	now := time.Now()
	c.state.Status = entity.StatusComplete
	c.state.SuccessCount = successCount
	c.state.FailureCount = failureCount
	c.state.Result = result
	c.state.LastUpdateTime = now

	if err := c.store.Save(ctx, &c.state); err != nil {
		return err
	}
	c.lastPersist = now

	c.pushLocked(protocol.New(protocol.TypeJobComplete, c.state.JobID, c.state.Pipeline, c.completePayloadLocked()))
	c.closeAfterGraceLocked()

	log.Printf("[coordinator] job_id=%s status=complete success=%d failure=%d duration_ms=%d",
		c.state.JobID, successCount, failureCount, now.Sub(c.state.StartTime).Milliseconds())
	return nil
}

// Fail transitions the job to failed. Missing code and retryability default
// to a retryable producer failure.
func (c *Coordinator) Fail(ctx context.Context, jobErr entity.JobError) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status.Terminal() {
		log.Printf("[coordinator] job_id=%s status=%s ignoring late fail", c.state.JobID, c.state.Status)
		return nil
	}
	if jobErr.Code == "" {
		jobErr.Code = entity.CodeProducerFailed
		jobErr.Retryable = true
	}

	now := time.Now()
	c.state.Status = entity.StatusFailed
	c.state.Error = &jobErr
	c.state.LastUpdateTime = now

	if err := c.store.Save(ctx, &c.state); err != nil {
		return err
	}
	c.lastPersist = now

	c.pushLocked(protocol.New(protocol.TypeError, c.state.JobID, c.state.Pipeline, protocol.ErrorPayload{
		Code:        jobErr.Code,
		Message:     jobErr.Message,
		UserMessage: jobErr.UserMessage,
		Retryable:   jobErr.Retryable,
		Details:     jobErr.Details,
	}))
	c.closeAfterGraceLocked()

	log.Printf("[coordinator] job_id=%s status=failed code=%s", c.state.JobID, jobErr.Code)
	return nil
}

// Cancel is terminal but not an error: the client gets a job_complete with
// the counts reached so far, and the producer sees Canceled() flip.
func (c *Coordinator) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.canceled = true
	if c.state.Status.Terminal() {
		return nil
	}

	now := time.Now()
	c.state.Status = entity.StatusCanceled
	if c.state.SuccessCount == 0 {
		c.state.SuccessCount = c.state.ProcessedCount
	}
	c.state.LastUpdateTime = now

	if err := c.store.Save(ctx, &c.state); err != nil {
		return err
	}
	c.lastPersist = now

	c.pushLocked(protocol.New(protocol.TypeJobComplete, c.state.JobID, c.state.Pipeline, c.completePayloadLocked()))
	c.closeAfterGraceLocked()

	log.Printf("[coordinator] job_id=%s status=canceled processed=%d", c.state.JobID, c.state.ProcessedCount)
	return nil
}

// Attach binds a connection to this job. A token mismatch closes the
// connection with no frame sent and no state touched; a match pre-empts any
// prior subscriber and immediately delivers a reconnected snapshot while the
// job runs (never a job_started - that would signal a new job), or the
// terminal frame if the job finished while the client was away.
func (c *Coordinator) Attach(conn Conn, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !tokenEqual(token, c.state.AuthToken) {
		_ = conn.Close()
		return ErrAuthFailed
	}

	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn

	switch {
	case c.state.Status == entity.StatusRunning:
		c.pushLocked(protocol.New(protocol.TypeReconnected, c.state.JobID, c.state.Pipeline, protocol.ReconnectedPayload{
			Status:         c.state.Status,
			ProcessedCount: c.state.ProcessedCount,
			TotalCount:     c.state.TotalCount,
			LastUpdateMs:   c.state.LastUpdateTime.UnixMilli(),
		}))
	case c.state.Status == entity.StatusFailed:
		e := c.state.Error
		c.pushLocked(protocol.New(protocol.TypeError, c.state.JobID, c.state.Pipeline, protocol.ErrorPayload{
			Code: e.Code, Message: e.Message, UserMessage: e.UserMessage,
			Retryable: e.Retryable, Details: e.Details,
		}))
		c.closeAfterGraceLocked()
	default: // complete or canceled
		c.pushLocked(protocol.New(protocol.TypeJobComplete, c.state.JobID, c.state.Pipeline, c.completePayloadLocked()))
		c.closeAfterGraceLocked()
	}
	return nil
}

// Detach clears the registered connection if it is still the given one. The
// gateway calls this when a read loop dies.
func (c *Coordinator) Detach(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
}

func (c *Coordinator) completePayloadLocked() protocol.CompletePayload {
	return protocol.CompletePayload{
		SuccessCount: c.state.SuccessCount,
		FailureCount: c.state.FailureCount,
		DurationMs:   c.state.LastUpdateTime.Sub(c.state.StartTime).Milliseconds(),
		Result:       c.state.Result,
	}
}

func (c *Coordinator) pushLocked(env protocol.Envelope) {
	if c.conn == nil {
		return
	}
	if err := c.conn.Send(env); err != nil {
		log.Printf("[coordinator] job_id=%s push %s failed: %v", c.state.JobID, env.Type, err)
		_ = c.conn.Close()
		c.conn = nil
	}
}

// persistAsyncLocked snapshots the state and writes it off the caller's
// goroutine. Losing one of these on crash costs at most a few updates of
// progress; terminal writes never go through here.
func (c *Coordinator) persistAsyncLocked() {
	snapshot := c.state
	c.unsaved = 0
	c.lastPersist = time.Now()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.Save(ctx, &snapshot); err != nil {
			log.Printf("[coordinator] job_id=%s progress save failed: %v", snapshot.JobID, err)
		}
	}()
}

func (c *Coordinator) closeAfterGraceLocked() {
	conn := c.conn
	if conn == nil {
		return
	}
	time.AfterFunc(c.cfg.CloseGrace, func() {
		_ = conn.Close()
		c.Detach(conn)
	})
}

func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
