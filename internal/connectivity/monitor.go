// Package connectivity provides network reachability monitoring.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/fieldpulse/mobile-core/internal/logging"
)

// Probe checks backend reachability. A nil return means reachable.
type Probe func(ctx context.Context) error

// DefaultProbe returns a Probe that issues a HEAD request against url.
func DefaultProbe(url string, timeout time.Duration) Probe {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

// Monitor is the sole authority over online/offline transitions.
//
// It polls the probe on a fixed interval and also checks on demand
// (app foreground). Subscribers are notified only when the state
// actually changes, never on every poll.
type Monitor struct {
	mu       sync.Mutex
	probe    Probe
	interval time.Duration
	online   bool
	started  bool
	subs     []func(online bool)
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMonitor creates a Monitor. The initial state is offline until the
// first successful check.
func NewMonitor(probe Probe, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
	}
}

// Subscribe registers a transition callback. Callbacks run synchronously
// on the goroutine that detected the change.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Online returns the last observed reachability state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Start begins periodic reachability checks. It performs one check
// immediately so callers have a state before the first tick.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.CheckNow(ctx)

	go m.loop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow runs one reachability check and returns the resulting state.
// A probe error or panic counts as offline, never as a propagated failure.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	online := m.runProbe(ctx)

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if changed {
		logging.Info("connectivity changed", "online", online)
		for _, fn := range subs {
			fn(online)
		}
	}
	return online
}

func (m *Monitor) runProbe(ctx context.Context) (online bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("reachability probe panicked, treating as offline", "panic", r)
			online = false
		}
	}()
	if m.probe == nil {
		return false
	}
	return m.probe(ctx) == nil
}

// Stop cancels the poll loop and waits for it to exit. No timer survives
// a completed Stop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
