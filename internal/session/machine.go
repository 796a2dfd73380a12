// Package session provides the technician session state machine.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"
	"time"

	apperrors "github.com/fieldpulse/mobile-core/internal/errors"
	"github.com/fieldpulse/mobile-core/internal/logging"
	"github.com/fieldpulse/mobile-core/internal/models"
	syncpkg "github.com/fieldpulse/mobile-core/internal/sync"
)

// Performer executes or queues a mutation. Implemented by sync.Coordinator.
type Performer interface {
	Perform(ctx context.Context, endpoint, method string, payload json.RawMessage, offlineCapable bool) (syncpkg.Result, error)
}

// Subscription is a handle on a live location stream.
type Subscription interface {
	Unsubscribe()
}

// LocationProvider exposes the device location capabilities.
type LocationProvider interface {
	Current(ctx context.Context) (models.Location, error)
	Subscribe(interval time.Duration, fn func(models.Location)) (Subscription, error)
}

// JobFetcher retrieves the authoritative job record from the backend,
// used to reconcile after a queued mutation fails terminally.
type JobFetcher interface {
	Fetch(ctx context.Context, jobID string) (*models.JobRecord, error)
}

// ConflictHandler is notified when local optimistic state diverged from
// server truth and a reconciliation was triggered.
type ConflictHandler func(jobID string, cause error)

// Config holds session tuning parameters.
type Config struct {
	LocationInterval time.Duration
}

// Machine is the authoritative local model of one technician's duty/job
// status and location-tracking lifecycle.
//
// Every transition is local-first: state mutates immediately and the
// corresponding mutation is handed to the Performer. A Queued result
// keeps the optimistic state and raises the PendingSync counter; the
// state is never silently reverted. All entry points serialize through
// one mutex, so no transition starts before the previous one's side
// effects have been dispatched.
type Machine struct {
	mu      stdsync.Mutex
	state   models.SessionState
	jobs    map[string]*models.JobRecord
	pending map[string]string // queued request ID -> job ID ("" for status mutations)

	perform    Performer
	loc        LocationProvider
	fetcher    JobFetcher
	onConflict ConflictHandler
	observers  []func(models.SessionState)

	locInterval time.Duration
	sub         Subscription
	closed      bool
}

// New creates a Machine for one technician, starting OffDuty.
func New(technicianID string, perform Performer, loc LocationProvider, cfg Config) *Machine {
	if cfg.LocationInterval <= 0 {
		cfg.LocationInterval = 15 * time.Second
	}
	return &Machine{
		state: models.SessionState{
			TechnicianID: technicianID,
			Duty:         models.DutyOffDuty,
			Live:         models.LiveOffDuty,
		},
		jobs:        make(map[string]*models.JobRecord),
		pending:     make(map[string]string),
		perform:     perform,
		loc:         loc,
		locInterval: cfg.LocationInterval,
	}
}

// SetJobFetcher wires the reconciliation fetcher.
func (m *Machine) SetJobFetcher(f JobFetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetcher = f
}

// OnConflict registers the divergence notification callback.
func (m *Machine) OnConflict(fn ConflictHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConflict = fn
}

// OnChange registers a state observer; it replaces UI re-render as the
// "observe state" mechanism.
func (m *Machine) OnChange(fn func(models.SessionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Snapshot returns a copy of the current session state.
func (m *Machine) Snapshot() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Job returns a copy of the cached record for jobID, if present.
func (m *Machine) Job(jobID string) (*models.JobRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[jobID]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// ClockIn begins the technician's shift and starts location tracking.
func (m *Machine) ClockIn(ctx context.Context) error {
	m.mu.Lock()
	if err := m.guardOpenLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.state.Duty != models.DutyOffDuty {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrInvalidTransition, "already clocked in")
	}

	prev := m.state
	m.state.Duty = models.DutyAvailable
	m.state.Live = models.LiveAvailable
	m.startTrackingLocked()

	endpoint := fmt.Sprintf("/technicians/%s/clock-in", m.state.TechnicianID)
	err := m.dispatchLocked(ctx, endpoint, models.MethodPost,
		mustJSON(map[string]string{"status": string(models.LiveAvailable)}), "")
	if err != nil {
		m.state = prev
		m.stopTrackingLocked()
		m.mu.Unlock()
		return err
	}
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return nil
}

// ClockOut ends the shift from any state: tracking stops and the current
// job pointer is cleared.
func (m *Machine) ClockOut(ctx context.Context) error {
	m.mu.Lock()
	if err := m.guardOpenLocked(); err != nil {
		m.mu.Unlock()
		return err
	}

	prev := m.state
	m.state.Duty = models.DutyOffDuty
	m.state.Live = models.LiveOffDuty
	m.state.CurrentJobID = ""
	m.stopTrackingLocked()

	endpoint := fmt.Sprintf("/technicians/%s/clock-out", m.state.TechnicianID)
	err := m.dispatchLocked(ctx, endpoint, models.MethodPost, nil, "")
	if err != nil {
		m.state = prev
		if prev.TrackingEnabled {
			m.startTrackingLocked()
		}
		m.mu.Unlock()
		return err
	}
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return nil
}

// StartJob transitions to Enroute for the given job.
func (m *Machine) StartJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	if err := m.guardOpenLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.state.Live != models.LiveAvailable || m.state.CurrentJobID != "" {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrInvalidTransition,
			"must be available with no active job to start a job")
	}

	prev := m.state
	m.state.Duty = models.DutyBusy
	m.state.Live = models.LiveEnroute
	m.state.CurrentJobID = jobID
	m.upsertJobLocked(jobID, models.JobInProgress, time.Now().UnixMilli(), 0)

	endpoint := fmt.Sprintf("/jobs/%s/status", jobID)
	err := m.dispatchLocked(ctx, endpoint, models.MethodPost,
		mustJSON(map[string]string{"status": string(models.LiveEnroute)}), jobID)
	if err != nil {
		m.state = prev
		m.mu.Unlock()
		return err
	}
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return nil
}

// Arrive transitions to OnSite for the active job.
func (m *Machine) Arrive(ctx context.Context, jobID string) error {
	m.mu.Lock()
	if err := m.guardOpenLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.state.Live != models.LiveEnroute || m.state.CurrentJobID != jobID {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrInvalidTransition,
			"must be enroute to this job to arrive")
	}

	prev := m.state
	m.state.Live = models.LiveOnSite

	endpoint := fmt.Sprintf("/jobs/%s/status", jobID)
	err := m.dispatchLocked(ctx, endpoint, models.MethodPost,
		mustJSON(map[string]string{"status": string(models.LiveOnSite)}), jobID)
	if err != nil {
		m.state = prev
		m.mu.Unlock()
		return err
	}
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return nil
}

// CompleteJob finishes the active job. The completion mutation is
// offline-capable; duplicate submissions while one is pending are
// rejected by the guard, never queued twice.
func (m *Machine) CompleteJob(ctx context.Context, jobID string, payload json.RawMessage) error {
	m.mu.Lock()
	if err := m.guardOpenLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.state.Live != models.LiveOnSite || m.state.CurrentJobID != jobID {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrInvalidTransition,
			"must be on site at this job to complete it")
	}

	prev := m.state
	var prevJob *models.JobRecord
	if rec, ok := m.jobs[jobID]; ok {
		prevJob = rec.Clone()
	}
	m.state.Duty = models.DutyAvailable
	m.state.Live = models.LiveAvailable
	m.state.CurrentJobID = ""
	m.upsertJobLocked(jobID, models.JobCompleted, 0, time.Now().UnixMilli())

	endpoint := fmt.Sprintf("/jobs/%s/complete", jobID)
	err := m.dispatchLocked(ctx, endpoint, models.MethodPost, payload, jobID)
	if err != nil {
		m.state = prev
		if prevJob != nil {
			m.jobs[jobID] = prevJob
		}
		m.mu.Unlock()
		return err
	}
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return nil
}

// SetStatus applies a manual status change. Setting OffDuty behaves like
// ClockOut; Enroute/OnSite require an active job, and Available requires
// the active job to be settled first.
func (m *Machine) SetStatus(ctx context.Context, s models.LiveStatus) error {
	if s == models.LiveOffDuty {
		return m.ClockOut(ctx)
	}

	m.mu.Lock()
	if err := m.guardOpenLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.state.Duty == models.DutyOffDuty {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrInvalidTransition, "not clocked in")
	}
	if (s == models.LiveEnroute || s == models.LiveOnSite) && m.state.CurrentJobID == "" {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrInvalidTransition,
			"cannot set a job status without an active job")
	}
	// Server-side Complete/Busy settle to Available locally.
	if s == models.LiveComplete || s == models.LiveBusy {
		s = models.LiveAvailable
	}
	// An active job keeps the job pointer coupled to the live status;
	// it must settle through CompleteJob or a job event first.
	if s == models.LiveAvailable && m.state.CurrentJobID != "" {
		m.mu.Unlock()
		return apperrors.New(apperrors.ErrInvalidTransition,
			"complete or cancel the active job before going available")
	}

	prev := m.state
	m.state.Duty = dutyFor(s)
	m.state.Live = s
	m.startTrackingLocked()

	endpoint := fmt.Sprintf("/technicians/%s/status", m.state.TechnicianID)
	err := m.dispatchLocked(ctx, endpoint, models.MethodPatch,
		mustJSON(map[string]string{"status": string(s)}), "")
	if err != nil {
		m.state = prev
		m.mu.Unlock()
		return err
	}
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return nil
}

// dispatchLocked hands the mutation to the Performer while holding the
// state lock, keeping transitions strictly sequential. A Queued result
// keeps the optimistic state and bumps PendingSync.
func (m *Machine) dispatchLocked(ctx context.Context, endpoint, method string, payload json.RawMessage, jobID string) error {
	res, err := m.perform.Perform(ctx, endpoint, method, payload, true)
	if err != nil {
		return err
	}
	if res.Status == syncpkg.Queued {
		m.pending[res.RequestID] = jobID
		m.state.PendingSync = len(m.pending)
		logging.Info("transition queued for sync",
			"endpoint", endpoint, "request_id", res.RequestID)
	}
	return nil
}

// HandleDelivered settles a queued mutation that reached the backend.
// Wire it to the queue's success handler.
func (m *Machine) HandleDelivered(req *models.QueuedRequest) {
	m.mu.Lock()
	if _, ok := m.pending[req.ID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, req.ID)
	m.state.PendingSync = len(m.pending)
	state := m.state
	m.mu.Unlock()

	m.notify(state)
}

// HandleTerminalFailure reconciles after a queued mutation exhausted its
// retries or was rejected: the optimistic state must not stay diverged,
// so the authoritative job record is re-fetched and a conflict surfaced.
// Wire it to the queue's terminal handler.
func (m *Machine) HandleTerminalFailure(req *models.QueuedRequest, cause error) {
	m.mu.Lock()
	jobID, ok := m.pending[req.ID]
	if ok {
		delete(m.pending, req.ID)
		m.state.PendingSync = len(m.pending)
	}
	fetcher := m.fetcher
	onConflict := m.onConflict
	state := m.state
	m.mu.Unlock()

	if !ok {
		return
	}
	m.notify(state)

	logging.Error("queued transition failed permanently", cause,
		"request_id", req.ID, "endpoint", req.Endpoint, "job_id", jobID)

	if jobID != "" && fetcher != nil {
		m.reconcile(context.Background(), jobID)
	}
	if onConflict != nil {
		onConflict(jobID, cause)
	}
}

// reconcile replaces the local cache entry with server truth.
func (m *Machine) reconcile(ctx context.Context, jobID string) {
	rec, err := m.fetcher.Fetch(ctx, jobID)
	if err != nil {
		logging.Error("failed to fetch authoritative job state", err, "job_id", jobID)
		return
	}

	m.mu.Lock()
	m.jobs[jobID] = rec.Clone()
	if m.state.CurrentJobID == jobID &&
		(rec.Status == models.JobCompleted || rec.Status == models.JobCancelled) {
		m.state.CurrentJobID = ""
		m.state.Duty = models.DutyAvailable
		m.state.Live = models.LiveAvailable
	}
	state := m.state
	m.mu.Unlock()

	m.notify(state)
}

// ApplyJobAssigned records a server-pushed assignment in the local cache.
func (m *Machine) ApplyJobAssigned(ev models.JobAssigned) {
	m.mu.Lock()
	if ev.TechnicianID != "" && ev.TechnicianID != m.state.TechnicianID {
		m.mu.Unlock()
		return
	}
	if _, ok := m.jobs[ev.JobID]; !ok {
		m.jobs[ev.JobID] = &models.JobRecord{JobID: ev.JobID, Status: models.JobScheduled}
	}
	state := m.state
	m.mu.Unlock()

	logging.Info("job assigned", "job_id", ev.JobID)
	m.notify(state)
}

// ApplyJobStatus reconciles the local job cache with a server-pushed
// status. A settled Completed/Cancelled for the active job clears the
// job pointer and returns the technician to Available.
func (m *Machine) ApplyJobStatus(ev models.JobStatusEvent) {
	m.mu.Lock()
	rec, ok := m.jobs[ev.JobID]
	if !ok {
		rec = &models.JobRecord{JobID: ev.JobID}
		m.jobs[ev.JobID] = rec
	}
	rec.Status = ev.Status

	if m.state.CurrentJobID == ev.JobID &&
		(ev.Status == models.JobCompleted || ev.Status == models.JobCancelled) {
		m.state.CurrentJobID = ""
		m.state.Duty = models.DutyAvailable
		m.state.Live = models.LiveAvailable
	}
	state := m.state
	m.mu.Unlock()

	m.notify(state)
}

// ApplyTechStatus applies a server-pushed status for this technician.
// Local optimistic state wins while mutations are pending sync. An
// off_duty push is a forced clock-out and runs the same side effects;
// pushes that would decouple the job pointer from the live status are
// dropped.
func (m *Machine) ApplyTechStatus(ev models.TechStatus) {
	m.mu.Lock()
	if ev.TechnicianID != m.state.TechnicianID ||
		len(m.pending) > 0 ||
		m.state.Duty == models.DutyOffDuty {
		m.mu.Unlock()
		return
	}

	s := ev.Status
	if s == models.LiveComplete || s == models.LiveBusy {
		s = models.LiveAvailable
	}

	switch {
	case s == models.LiveOffDuty:
		m.state.Duty = models.DutyOffDuty
		m.state.Live = models.LiveOffDuty
		m.state.CurrentJobID = ""
		m.stopTrackingLocked()

	case (s == models.LiveEnroute || s == models.LiveOnSite) && m.state.CurrentJobID == "":
		// A job status with no active job makes no sense.
		m.mu.Unlock()
		logging.Warn("ignoring pushed job status without an active job", "status", string(s))
		return

	case s == models.LiveAvailable && m.state.CurrentJobID != "":
		// The active job settles through job events, not status pushes.
		m.mu.Unlock()
		return

	case s == m.state.Live:
		m.mu.Unlock()
		return

	default:
		m.state.Duty = dutyFor(s)
		m.state.Live = s
	}
	state := m.state
	m.mu.Unlock()

	m.notify(state)
}

// Close tears down the session: the location stream is unsubscribed and
// further transitions are rejected.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopTrackingLocked()
	m.mu.Unlock()
}

// startTrackingLocked starts the location stream if not already running.
// Tracking runs independently of job transitions; only going OffDuty
// stops it.
func (m *Machine) startTrackingLocked() {
	m.state.TrackingEnabled = true
	if m.sub != nil || m.loc == nil {
		return
	}
	sub, err := m.loc.Subscribe(m.locInterval, m.onLocation)
	if err != nil {
		logging.Error("failed to start location tracking", err)
		return
	}
	m.sub = sub
}

func (m *Machine) stopTrackingLocked() {
	m.state.TrackingEnabled = false
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
}

// onLocation receives a position sample from the provider. Samples are
// forwarded best-effort while online; they are not queued offline.
func (m *Machine) onLocation(l models.Location) {
	m.mu.Lock()
	if !m.state.TrackingEnabled || m.closed {
		m.mu.Unlock()
		return
	}
	m.state.LastLocation = &l
	techID := m.state.TechnicianID
	state := m.state
	m.mu.Unlock()

	m.notify(state)

	endpoint := fmt.Sprintf("/technicians/%s/location", techID)
	_, err := m.perform.Perform(context.Background(), endpoint, models.MethodPost,
		mustJSON(l), false)
	if err != nil && !apperrors.Is(err, apperrors.ErrOffline) {
		logging.Debug("location update not delivered", "error", err.Error())
	}
}

func (m *Machine) guardOpenLocked() error {
	if m.closed {
		return apperrors.New(apperrors.ErrSessionClosed, "session is closed")
	}
	return nil
}

func (m *Machine) upsertJobLocked(jobID string, status models.JobStatus, startedAt, completedAt int64) {
	rec, ok := m.jobs[jobID]
	if !ok {
		rec = &models.JobRecord{JobID: jobID}
		m.jobs[jobID] = rec
	}
	rec.Status = status
	if startedAt != 0 {
		rec.StartedAt = startedAt
	}
	if completedAt != 0 {
		rec.CompletedAt = completedAt
	}
}

func (m *Machine) notify(state models.SessionState) {
	m.mu.Lock()
	observers := make([]func(models.SessionState), len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}

// dutyFor maps a live status to the duty status that keeps the two in
// step: working a job means busy, anything else on shift means available.
func dutyFor(s models.LiveStatus) models.DutyStatus {
	switch s {
	case models.LiveOffDuty:
		return models.DutyOffDuty
	case models.LiveEnroute, models.LiveOnSite:
		return models.DutyBusy
	}
	return models.DutyAvailable
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
