// Package sync provides the offline-capable mutation coordinator.
package sync

import (
	"context"
	"encoding/json"
	stdsync "sync"

	"github.com/fieldpulse/mobile-core/internal/connectivity"
	apperrors "github.com/fieldpulse/mobile-core/internal/errors"
	"github.com/fieldpulse/mobile-core/internal/logging"
	"github.com/fieldpulse/mobile-core/internal/models"
	"github.com/fieldpulse/mobile-core/internal/queue"
	"github.com/fieldpulse/mobile-core/internal/uuid"
)

// Status reports how a mutation was handled.
type Status int

const (
	// Done means the mutation was executed against the backend.
	Done Status = iota
	// Queued means the mutation was persisted for later delivery. The UI
	// should show a "pending sync" indicator, not a failure.
	Queued
)

// Result is the outcome of Perform.
type Result struct {
	Status    Status
	RequestID string // set when Status is Queued
}

// Coordinator is the public façade of the offline sync core. It decides
// immediate-vs-queued execution per mutation and drains the queue when
// connectivity returns.
type Coordinator struct {
	mu      stdsync.Mutex
	queue   *queue.Queue
	exec    queue.Executor
	monitor *connectivity.Monitor
	ctx     context.Context
	started bool
}

// NewCoordinator creates a Coordinator over q, exec and monitor.
func NewCoordinator(q *queue.Queue, exec queue.Executor, monitor *connectivity.Monitor) *Coordinator {
	return &Coordinator{
		queue:   q,
		exec:    exec,
		monitor: monitor,
	}
}

// Start subscribes to connectivity transitions. Each offline→online
// transition triggers exactly one drain; the queue's single-flight guard
// absorbs rapid flapping.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx = ctx
	c.mu.Unlock()

	c.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		logging.Info("back online, draining offline queue", "pending", c.queue.Pending())
		go c.queue.Drain(ctx, c.exec)
	})
}

// Perform executes a mutation now if online, queues it when allowed, and
// fails fast otherwise.
//
//   - online: execute immediately; on a retryable failure of an
//     offline-capable mutation, fall back to the queue and report Queued.
//   - offline + offline-capable: queue directly, skipping the
//     guaranteed-to-fail network round trip.
//   - offline + not offline-capable: return ErrOffline without touching
//     persistent storage.
func (c *Coordinator) Perform(ctx context.Context, endpoint, method string, payload json.RawMessage, offlineCapable bool) (Result, error) {
	if !models.ValidMethod(method) {
		return Result{}, apperrors.New(apperrors.ErrValidation, "unsupported HTTP method "+method)
	}

	if !c.monitor.Online() {
		if !offlineCapable {
			return Result{}, apperrors.New(apperrors.ErrOffline,
				"operation requires connectivity and cannot be deferred")
		}
		id, err := c.queue.Enqueue(endpoint, method, payload)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: Queued, RequestID: id}, nil
	}

	// Online: attempt immediately with an ephemeral, unpersisted request.
	req := &models.QueuedRequest{
		ID:       uuid.New(),
		Endpoint: endpoint,
		Method:   method,
		Payload:  payload,
	}
	outcome, execErr := c.exec.Execute(ctx, req)

	switch outcome {
	case queue.Success:
		return Result{Status: Done}, nil

	case queue.TerminalFailure:
		return Result{}, apperrors.Wrap(apperrors.ErrTerminal, "mutation rejected", execErr)

	default: // RetryableFailure
		if !offlineCapable {
			return Result{}, apperrors.Wrap(apperrors.ErrInternal, "request failed", execErr)
		}
		errMsg := ""
		if execErr != nil {
			errMsg = execErr.Error()
		}
		logging.Warn("immediate execution failed, falling back to queue",
			"endpoint", endpoint, "error", errMsg)
		id, err := c.queue.Enqueue(endpoint, method, payload)
		if err != nil {
			return Result{}, err
		}
		// The failed round trip may indicate lost connectivity; let the
		// monitor re-evaluate so the drain trigger fires on recovery.
		go c.monitor.CheckNow(ctx)
		return Result{Status: Queued, RequestID: id}, nil
	}
}

// Flush triggers a manual drain of the offline queue.
func (c *Coordinator) Flush(ctx context.Context) {
	c.queue.Drain(ctx, c.exec)
}

// Pending returns the number of queued mutations.
func (c *Coordinator) Pending() int {
	return c.queue.Pending()
}
