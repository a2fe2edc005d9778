// Package client implements the consuming side of the progress stream: it
// opens the connection, keeps it alive with heartbeats, reconnects with
// exponential backoff, and reconciles local progress to server snapshots.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"progress-stream-service/internal/entity"
	"progress-stream-service/internal/protocol"
)

// Callbacks deliver stream events to the caller. Nil callbacks are skipped.
type Callbacks struct {
	OnProgress    func(protocol.ProgressPayload)
	OnReconnected func(protocol.ReconnectedPayload)
	OnComplete    func(protocol.CompletePayload)
	OnError       func(entity.JobError)
}

// Options are the session's tunable constants; zero values take the protocol
// defaults.
type Options struct {
	PingInterval     time.Duration // default 30s
	BackoffBase      time.Duration // default 2s, doubled per attempt
	BackoffCap       time.Duration // default 30s
	MaxAttempts      int           // default 5
	HandshakeTimeout time.Duration // default 10s
}

func (o *Options) applyDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
}

// Session is a live subscription to one job's progress stream.
type Session struct {
	jobID  string
	dial   string
	cb     Callbacks
	opts   Options
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	processed  int
	total      *int
	rtt        time.Duration
	finished   bool
	lastPingMs int64
	lastPingAt time.Time
}

// Subscribe connects to baseURL (e.g. "ws://host:8080"), performs the
// ready/ready_ack handshake and starts the dispatch loop. The initial
// connection uses the same backoff budget as reconnects; if it is exhausted
// an error is returned instead of a session.
func Subscribe(ctx context.Context, baseURL, jobID, authToken string, cb Callbacks, opts Options) (*Session, error) {
	opts.applyDefaults()

	s := &Session{
		jobID: jobID,
		dial:  fmt.Sprintf("%s/jobs/%s/stream?token=%s", baseURL, jobID, url.QueryEscape(authToken)),
		cb:    cb,
		opts:  opts,
		done:  make(chan struct{}),
	}

	ctx, s.cancel = context.WithCancel(ctx)

	conn, err := s.connectWithRetry(ctx)
	if err != nil {
		s.cancel()
		close(s.done)
		return nil, err
	}

	go s.run(ctx, conn)
	return s, nil
}

// Cancel tears the session down. Safe to call more than once.
func (s *Session) Cancel() {
	s.cancel()
}

// Done is closed when the session has fully stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// RTT reports the last measured ping round-trip time.
func (s *Session) RTT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtt
}

// Progress reports the locally reconciled processed count.
func (s *Session) Progress() (processed int, total *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed, s.total
}

func (s *Session) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)
	defer s.cancel()

	for {
		err := s.serve(ctx, conn)

		s.mu.Lock()
		finished := s.finished
		s.mu.Unlock()
		if finished || ctx.Err() != nil {
			return
		}

		log.Printf("[client] job_id=%s connection lost: %v", s.jobID, err)
		conn, err = s.connectWithRetry(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.emitError(entity.JobError{
					Code:        entity.CodeMaxRetries,
					Message:     err.Error(),
					UserMessage: "Unable to reconnect to the job. Please check the job status and try again.",
				})
			}
			return
		}
	}
}

// connectWithRetry dials with exponential backoff until the attempt budget
// runs out. The delay is cancellable; there is no busy wait.
func (s *Session) connectWithRetry(ctx context.Context) (*websocket.Conn, error) {
	backoff := s.opts.BackoffBase

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		conn, err := s.connect(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.Printf("[client] job_id=%s connect attempt=%d/%d failed: %v", s.jobID, attempt, s.opts.MaxAttempts, err)
		if isTimeout(err) {
			s.emitError(entity.JobError{
				Code:        entity.CodeTimeout,
				Message:     err.Error(),
				UserMessage: "Connection timed out. Retrying.",
				Retryable:   true,
			})
		}

		if attempt == s.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.opts.BackoffCap {
			backoff = s.opts.BackoffCap
		}
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", s.opts.MaxAttempts, lastErr)
}

// connect dials, sends ready and waits for ready_ack before declaring the
// channel live. Frames arriving before the ack (the server pushes its
// reconnected snapshot on attach) are dispatched normally.
func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.dial, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	ready := protocol.New(protocol.TypeReady, s.jobID, "", nil)
	if err := s.write(conn, ready); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send ready: %w", err)
	}

	deadline := time.Now().Add(s.opts.HandshakeTimeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("await ready_ack: %w", err)
		}
		env, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		if env.Type == protocol.TypeReadyAck {
			_ = conn.SetReadDeadline(time.Time{})
			return conn, nil
		}
		s.dispatch(env)
	}
}

// serve runs the dispatch loop plus a heartbeat sender until the connection
// drops or the job reaches a terminal message.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go s.pingLoop(ctx, conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Printf("[client] job_id=%s bad frame: %v", s.jobID, err)
			continue
		}
		s.dispatch(env)

		s.mu.Lock()
		finished := s.finished
		s.mu.Unlock()
		if finished {
			return nil
		}
	}
}

func (s *Session) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			s.lastPingMs = now.UnixMilli()
			s.lastPingAt = now
			s.mu.Unlock()

			ping := protocol.New(protocol.TypePing, s.jobID, "", protocol.PingPayload{
				ClientTimeMs: now.UnixMilli(),
			})
			if err := s.write(conn, ping); err != nil {
				return
			}
		}
	}
}

func (s *Session) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeJobProgress:
		p, ok := env.Payload.(protocol.ProgressPayload)
		if !ok {
			return
		}
		s.mu.Lock()
		if p.ProcessedCount > s.processed {
			s.processed = p.ProcessedCount
		}
		s.mu.Unlock()
		if s.cb.OnProgress != nil {
			s.cb.OnProgress(p)
		}

	case protocol.TypeReconnected:
		p, ok := env.Payload.(protocol.ReconnectedPayload)
		if !ok {
			return
		}
		// The snapshot is authoritative, not additive: any buffered
		// pre-disconnect state is discarded.
		s.mu.Lock()
		s.processed = p.ProcessedCount
		s.total = p.TotalCount
		s.mu.Unlock()
		if s.cb.OnReconnected != nil {
			s.cb.OnReconnected(p)
		}

	case protocol.TypeJobComplete:
		p, ok := env.Payload.(protocol.CompletePayload)
		if !ok {
			return
		}
		s.mu.Lock()
		s.finished = true
		s.mu.Unlock()
		if s.cb.OnComplete != nil {
			s.cb.OnComplete(p)
		}

	case protocol.TypeError:
		p, ok := env.Payload.(protocol.ErrorPayload)
		if !ok {
			return
		}
		s.mu.Lock()
		s.finished = true
		s.mu.Unlock()
		s.emitError(entity.JobError{
			Code:        p.Code,
			Message:     p.Message,
			UserMessage: p.UserMessage,
			Retryable:   p.Retryable,
			Details:     p.Details,
		})

	case protocol.TypePong:
		p, ok := env.Payload.(protocol.PongPayload)
		if !ok || p.ClientTimeMs == 0 {
			return
		}
		// match against the in-flight ping; a stale pong from before a
		// reconnect carries an old clientTimeMs and is ignored
		s.mu.Lock()
		if p.ClientTimeMs == s.lastPingMs {
			s.rtt = time.Since(s.lastPingAt)
		}
		s.mu.Unlock()

	default:
		// unknown or handshake types need no client action
	}
}

func (s *Session) emitError(jobErr entity.JobError) {
	if s.cb.OnError != nil {
		s.cb.OnError(jobErr)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// write serializes outbound frames; the ping loop and the handshake share
// the connection.
func (s *Session) write(conn *websocket.Conn, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}
