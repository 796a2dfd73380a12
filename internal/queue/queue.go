// Package queue provides the durable offline request queue with retry logic.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/fieldpulse/mobile-core/internal/errors"
	"github.com/fieldpulse/mobile-core/internal/logging"
	"github.com/fieldpulse/mobile-core/internal/models"
	"github.com/fieldpulse/mobile-core/internal/store"
	"github.com/fieldpulse/mobile-core/internal/uuid"
)

// Outcome classifies a single delivery attempt.
type Outcome int

const (
	// Success means the mutation was applied by the backend.
	Success Outcome = iota
	// RetryableFailure means the attempt failed transiently (network, 5xx)
	// and should be retried after backoff.
	RetryableFailure
	// TerminalFailure means the mutation was rejected (validation, 4xx)
	// and must never be retried.
	TerminalFailure
)

// Executor delivers a queued request to the backend.
type Executor interface {
	Execute(ctx context.Context, req *models.QueuedRequest) (Outcome, error)
}

// TerminalHandler is invoked when a request is removed without succeeding,
// either because the executor reported a terminal failure or because its
// retry budget is exhausted. Terminal failures are never dropped silently.
type TerminalHandler func(req *models.QueuedRequest, err error)

// SuccessHandler is invoked after a queued request is delivered and its
// persisted copy deleted.
type SuccessHandler func(req *models.QueuedRequest)

// Config holds queue tuning parameters.
type Config struct {
	MaxSize        int           // maximum queued requests
	MaxAttempts    int           // delivery attempts per request before terminal
	InitialBackoff time.Duration // first retry delay
	MaxBackoff     time.Duration // retry delay cap
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:        500,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

// Queue is a durable FIFO queue of pending mutations.
//
// All mutation entry points serialize through one mutex; Drain is
// single-flight. Requests survive process restarts: Enqueue persists
// before returning and successful deliveries are deleted only after the
// executor confirms (at-least-once delivery — callers' mutations must be
// idempotent or carry an idempotency key).
type Queue struct {
	mu         sync.Mutex
	store      store.Store
	items      []*models.QueuedRequest
	cfg        Config
	draining   bool
	closed     bool
	retryTimer *time.Timer
	onTerminal TerminalHandler
	onSuccess  SuccessHandler

	now func() time.Time // test seam
}

// New creates a Queue backed by st, reloading any persisted requests in
// their original enqueue order.
func New(st store.Store, cfg Config) (*Queue, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}

	loaded, err := st.Load()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to load persisted queue", err)
	}

	// A row whose ID is not a UUID was not written by this queue; keeping
	// it would poison delete-by-ID bookkeeping, so it is dropped.
	items := loaded[:0]
	for _, item := range loaded {
		if err := uuid.Validate(item.ID); err != nil {
			logging.Warn("dropping persisted request with invalid id",
				"id", item.ID, "endpoint", item.Endpoint)
			if delErr := st.Delete(item.ID); delErr != nil {
				logging.Error("failed to delete invalid persisted request", delErr, "id", item.ID)
			}
			continue
		}
		items = append(items, item)
	}
	if len(items) > 0 {
		logging.Info("restored persisted queue", "count", len(items))
	}

	return &Queue{
		store: st,
		items: items,
		cfg:   cfg,
		now:   time.Now,
	}, nil
}

// SetTerminalHandler registers the terminal failure callback.
func (q *Queue) SetTerminalHandler(h TerminalHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onTerminal = h
}

// SetSuccessHandler registers the delivery callback.
func (q *Queue) SetSuccessHandler(h SuccessHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onSuccess = h
}

// Enqueue appends a mutation and persists it before returning, so a
// process kill between enqueue and first attempt cannot lose it.
func (q *Queue) Enqueue(endpoint, method string, payload json.RawMessage) (string, error) {
	if !models.ValidMethod(method) {
		return "", apperrors.New(apperrors.ErrValidation, "unsupported HTTP method "+method)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", apperrors.New(apperrors.ErrSessionClosed, "queue is closed")
	}
	if len(q.items) >= q.cfg.MaxSize {
		return "", apperrors.New(apperrors.ErrQueueFull, "offline queue is full")
	}

	now := q.now().UnixMilli()
	req := &models.QueuedRequest{
		ID:            uuid.New(),
		Endpoint:      endpoint,
		Method:        method,
		Payload:       payload,
		EnqueuedAt:    now,
		AttemptCount:  0,
		MaxAttempts:   q.cfg.MaxAttempts,
		NextAttemptAt: now,
	}

	if err := q.store.Append(req); err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorage, "failed to persist request", err)
	}
	q.items = append(q.items, req)

	logging.Debug("enqueued request", "request_id", req.ID, "method", method, "endpoint", endpoint)
	return req.ID, nil
}

// Drain attempts delivery of every ready request in FIFO order.
//
// Single-flight: if a drain is already in progress the call is a no-op.
// A request in its backoff window is skipped for this pass — one stuck
// item never blocks the rest of the queue — and a revisit is scheduled
// for when the earliest backoff expires.
func (q *Queue) Drain(ctx context.Context, exec Executor) {
	q.mu.Lock()
	if q.draining || q.closed {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.stopRetryTimerLocked()
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		if ctx.Err() == nil {
			q.scheduleRevisitLocked(ctx, exec)
		}
		q.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		req := q.nextReady()
		if req == nil {
			return
		}
		outcome, err := exec.Execute(ctx, req)
		q.apply(req, outcome, err)
	}
}

// nextReady returns a copy of the first request whose backoff window has
// elapsed, or nil when none is ready.
func (q *Queue) nextReady() *models.QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UnixMilli()
	for _, item := range q.items {
		if item.NextAttemptAt <= now {
			return item.Clone()
		}
	}
	return nil
}

// apply records the outcome of one delivery attempt.
func (q *Queue) apply(req *models.QueuedRequest, outcome Outcome, attemptErr error) {
	q.mu.Lock()

	idx := -1
	for i, item := range q.items {
		if item.ID == req.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return
	}
	item := q.items[idx]

	switch outcome {
	case Success:
		// Delete the persisted copy only after the executor confirmed:
		// a crash mid-execution leaves the item present on restart.
		q.items = append(q.items[:idx], q.items[idx+1:]...)
		if err := q.store.Delete(item.ID); err != nil {
			logging.Error("failed to delete delivered request", err, "request_id", item.ID)
		}
		onSuccess := q.onSuccess
		q.mu.Unlock()

		logging.Info("request delivered", "request_id", item.ID, "endpoint", item.Endpoint)
		if onSuccess != nil {
			onSuccess(item)
		}

	case TerminalFailure:
		q.items = append(q.items[:idx], q.items[idx+1:]...)
		if err := q.store.Delete(item.ID); err != nil {
			logging.Error("failed to delete rejected request", err, "request_id", item.ID)
		}
		onTerminal := q.onTerminal
		q.mu.Unlock()

		logging.Error("request rejected by backend", attemptErr,
			"request_id", item.ID, "endpoint", item.Endpoint)
		if onTerminal != nil {
			onTerminal(item, apperrors.Wrap(apperrors.ErrTerminal, "mutation rejected", attemptErr))
		}

	case RetryableFailure:
		item.AttemptCount++
		if attemptErr != nil {
			item.LastError = attemptErr.Error()
		}

		if item.AttemptCount >= item.MaxAttempts {
			q.items = append(q.items[:idx], q.items[idx+1:]...)
			if err := q.store.Delete(item.ID); err != nil {
				logging.Error("failed to delete exhausted request", err, "request_id", item.ID)
			}
			onTerminal := q.onTerminal
			q.mu.Unlock()

			logging.Error("request failed permanently after retries", attemptErr,
				"request_id", item.ID, "attempts", item.AttemptCount)
			if onTerminal != nil {
				onTerminal(item, apperrors.Wrap(apperrors.ErrRetryExhausted,
					"retry budget exhausted", attemptErr))
			}
			return
		}

		delay := q.backoffDelay(item.AttemptCount)
		item.NextAttemptAt = q.now().Add(delay).UnixMilli()
		if err := q.store.Update(item); err != nil {
			logging.Error("failed to persist retry state", err, "request_id", item.ID)
		}
		q.mu.Unlock()

		logging.Warn("request attempt failed, will retry",
			"request_id", item.ID,
			"attempt", item.AttemptCount,
			"max_attempts", item.MaxAttempts,
			"retry_in", delay.String(),
			"error", errString(attemptErr))
	}
}

// backoffDelay returns min(initial * 2^(attempt-1), cap).
func (q *Queue) backoffDelay(attempt int) time.Duration {
	delay := q.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.cfg.MaxBackoff {
			return q.cfg.MaxBackoff
		}
	}
	if delay > q.cfg.MaxBackoff {
		delay = q.cfg.MaxBackoff
	}
	return delay
}

// scheduleRevisitLocked arms a timer to re-drain when the earliest backoff
// window expires. Caller holds q.mu.
func (q *Queue) scheduleRevisitLocked(ctx context.Context, exec Executor) {
	if q.closed || q.draining || len(q.items) == 0 || q.retryTimer != nil {
		return
	}

	now := q.now().UnixMilli()
	earliest := q.items[0].NextAttemptAt
	for _, item := range q.items[1:] {
		if item.NextAttemptAt < earliest {
			earliest = item.NextAttemptAt
		}
	}

	delay := time.Duration(earliest-now) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	q.retryTimer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		q.retryTimer = nil
		closed := q.closed
		q.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}
		q.Drain(ctx, exec)
	})
}

func (q *Queue) stopRetryTimerLocked() {
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
}

// Pending returns the number of queued requests.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Requests returns copies of all queued requests in FIFO order.
func (q *Queue) Requests() []*models.QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.QueuedRequest, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item.Clone())
	}
	return out
}

// Close stops the revisit timer and rejects further enqueues. The backing
// store is owned by the caller and is not closed here.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.stopRetryTimerLocked()
}

// activeTimers reports how many scheduler timers are live (test hook).
func (q *Queue) activeTimers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.retryTimer != nil {
		return 1
	}
	return 0
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
