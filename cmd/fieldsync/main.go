// Command fieldsync runs the technician sync core against a backend:
// durable offline queue, connectivity monitor, live event channel and
// the session state machine, wired together the way the mobile shell
// embeds them.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldpulse/mobile-core/internal/config"
	"github.com/fieldpulse/mobile-core/internal/connectivity"
	"github.com/fieldpulse/mobile-core/internal/httpexec"
	"github.com/fieldpulse/mobile-core/internal/live"
	"github.com/fieldpulse/mobile-core/internal/logging"
	"github.com/fieldpulse/mobile-core/internal/models"
	"github.com/fieldpulse/mobile-core/internal/queue"
	"github.com/fieldpulse/mobile-core/internal/session"
	"github.com/fieldpulse/mobile-core/internal/store"
	syncpkg "github.com/fieldpulse/mobile-core/internal/sync"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel)
	defer logging.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		logging.Error("failed to open queue store", err)
		os.Exit(1)
	}
	defer st.Close()

	q, err := queue.New(st, queue.Config{
		MaxSize:        cfg.QueueMaxSize,
		MaxAttempts:    cfg.QueueMaxAttempts,
		InitialBackoff: cfg.InitialBackoff(),
		MaxBackoff:     cfg.MaxBackoff(),
	})
	if err != nil {
		logging.Error("failed to initialize offline queue", err)
		os.Exit(1)
	}
	defer q.Close()

	exec := httpexec.New(cfg.APIBaseURL)

	monitor := connectivity.NewMonitor(
		connectivity.DefaultProbe(cfg.HealthURL, 5*time.Second),
		cfg.PollInterval(),
	)

	coordinator := syncpkg.NewCoordinator(q, exec, monitor)
	coordinator.Start(ctx)

	machine := session.New(cfg.TechnicianID, coordinator, staticLocations{}, session.Config{
		LocationInterval: cfg.LocationInterval(),
	})
	machine.SetJobFetcher(httpexec.NewJobClient(exec))
	machine.OnConflict(func(jobID string, cause error) {
		logging.Warn("sync conflict requires attention", "job_id", jobID, "cause", cause.Error())
	})
	q.SetSuccessHandler(machine.HandleDelivered)
	q.SetTerminalHandler(machine.HandleTerminalFailure)

	reconnector := live.NewReconnector(live.NewWebSocketTransport(), live.Config{
		URL:                  cfg.WSURL,
		HeartbeatInterval:    cfg.Heartbeat(),
		InitialBackoff:       time.Second,
		MaxBackoff:           30 * time.Second,
		MaxReconnectAttempts: cfg.ReconnectMaxAttempts,
	})
	dispatcher := &live.Dispatcher{
		OnJobAssigned: machine.ApplyJobAssigned,
		OnJobStatus:   machine.ApplyJobStatus,
		OnTechStatus:  machine.ApplyTechStatus,
	}
	reconnector.SetMessageHandler(dispatcher.Handle)
	reconnector.OnStateChange(func(s live.ConnectionState) {
		logging.Info("live channel", "state", s.String())
	})

	monitor.Start(ctx)
	if err := reconnector.Connect(ctx); err != nil {
		logging.Error("failed to start live channel", err)
	}

	logging.Info("fieldsync started",
		"technician_id", cfg.TechnicianID,
		"pending", q.Pending())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info("shutting down")

	// Teardown order: session first so no new mutations are produced,
	// then the live channel, monitor and queue timers.
	machine.Close()
	reconnector.Disconnect()
	monitor.Stop()
	cancel()
}

// staticLocations is a placeholder provider for environments without a
// real positioning device; it reports no movement.
type staticLocations struct{}

func (staticLocations) Current(context.Context) (models.Location, error) {
	return models.Location{Timestamp: time.Now().UnixMilli()}, nil
}

func (staticLocations) Subscribe(interval time.Duration, fn func(models.Location)) (session.Subscription, error) {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn(models.Location{Timestamp: time.Now().UnixMilli()})
			}
		}
	}()
	return subscription{stop: stop}, nil
}

type subscription struct {
	stop chan struct{}
}

func (s subscription) Unsubscribe() {
	close(s.stop)
}
