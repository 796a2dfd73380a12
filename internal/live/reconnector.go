// Package live maintains the real-time event channel to the dispatch backend.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/fieldpulse/mobile-core/internal/errors"
	"github.com/fieldpulse/mobile-core/internal/logging"
	"github.com/fieldpulse/mobile-core/internal/models"
)

// ConnectionState describes the live channel lifecycle.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

// String returns the lowercase state name.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Conn is one established duplex connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Transport dials the live channel endpoint.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// MessageHandler receives every inbound raw message in arrival order.
type MessageHandler func(raw []byte)

// Config holds live channel tuning parameters.
type Config struct {
	URL                  string
	HeartbeatInterval    time.Duration
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	MaxReconnectAttempts int
}

// DefaultConfig returns the default live channel configuration.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		HeartbeatInterval:    30 * time.Second,
		InitialBackoff:       time.Second,
		MaxBackoff:           30 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

// newReconnectBackOff builds the reconnect delay schedule:
// min(initial * 2^attempt, max), deterministic.
func newReconnectBackOff(initial, max time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = max
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()
	return bo
}

// Reconnector owns one live channel connection with heartbeat and
// exponential-backoff reconnection.
//
// At most one heartbeat ticker and one reconnect timer are ever live;
// both are killed on any close before the next state is decided. Manual
// Disconnect suppresses the reconnect path entirely and is terminal.
type Reconnector struct {
	mu        sync.Mutex
	transport Transport
	cfg       Config

	state   ConnectionState
	conn    Conn
	handler MessageHandler
	subs    []func(ConnectionState)

	attempts       int
	bo             *backoff.ExponentialBackOff
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer
	closed         bool
	gen            int // connection generation; stale read loops are ignored
}

// NewReconnector creates a Reconnector in the Disconnected state.
func NewReconnector(transport Transport, cfg Config) *Reconnector {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	return &Reconnector{
		transport: transport,
		cfg:       cfg,
		state:     Disconnected,
		bo:        newReconnectBackOff(cfg.InitialBackoff, cfg.MaxBackoff),
	}
}

// SetMessageHandler registers the inbound message handler (typically
// Dispatcher.Handle). Must be set before Connect.
func (r *Reconnector) SetMessageHandler(h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// OnStateChange registers a state observer.
func (r *Reconnector) OnStateChange(fn func(ConnectionState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// State returns the current connection state.
func (r *Reconnector) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Connect starts the connection. A fresh Connect resets the retry budget.
func (r *Reconnector) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return apperrors.New(apperrors.ErrChannelClosed, "live channel was closed")
	}
	if r.state == Connecting || r.state == Connected {
		r.mu.Unlock()
		return nil
	}
	r.stopReconnectTimerLocked()
	r.attempts = 0
	r.bo.Reset()
	r.mu.Unlock()

	r.transition(Connecting)
	go r.dial(ctx)
	return nil
}

// Disconnect closes the channel for good: the state becomes Closed and
// no reconnect is attempted.
func (r *Reconnector) Disconnect() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.stopHeartbeatLocked()
	r.stopReconnectTimerLocked()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	r.transition(Closed)
}

// Send writes a message to the live channel if connected.
func (r *Reconnector) Send(data []byte) error {
	r.mu.Lock()
	conn := r.conn
	state := r.state
	r.mu.Unlock()

	if state != Connected || conn == nil {
		return apperrors.New(apperrors.ErrOffline, "live channel is not connected")
	}
	return conn.WriteMessage(data)
}

func (r *Reconnector) dial(ctx context.Context) {
	conn, err := r.transport.Dial(ctx, r.cfg.URL)
	if err != nil {
		logging.Warn("live channel dial failed", "error", err.Error())
		r.handleFailure(ctx, err)
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return
	}
	r.conn = conn
	r.attempts = 0
	r.bo.Reset()
	r.gen++
	gen := r.gen
	stop := make(chan struct{})
	r.heartbeatStop = stop
	r.mu.Unlock()

	r.transition(Connected)
	go r.heartbeatLoop(conn, stop)
	go r.readLoop(ctx, conn, gen)
}

// readLoop feeds inbound messages to the handler synchronously, so
// dispatch order always matches arrival order.
func (r *Reconnector) readLoop(ctx context.Context, conn Conn, gen int) {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			r.onConnLost(ctx, gen, err)
			return
		}
		r.mu.Lock()
		h := r.handler
		r.mu.Unlock()
		if h != nil {
			h(msg)
		}
	}
}

// onConnLost handles a transport-level close, the authoritative failure
// signal for the live channel.
func (r *Reconnector) onConnLost(ctx context.Context, gen int, err error) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.stopHeartbeatLocked()
	r.stopReconnectTimerLocked()
	r.conn = nil
	closed := r.closed
	r.mu.Unlock()

	if closed {
		r.transition(Closed)
		return
	}

	logging.Warn("live channel lost", "error", err.Error())
	r.handleFailure(ctx, err)
}

// handleFailure schedules the next reconnect attempt, or surfaces a
// persistent disconnected signal once the retry cap is exceeded.
func (r *Reconnector) handleFailure(ctx context.Context, err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.attempts++
	if r.attempts > r.cfg.MaxReconnectAttempts {
		attempts := r.attempts - 1
		r.mu.Unlock()
		logging.Error("live channel reconnect attempts exhausted", err, "attempts", attempts)
		r.transition(Disconnected)
		return
	}
	delay := r.bo.NextBackOff()
	r.mu.Unlock()

	r.transition(Reconnecting)

	r.mu.Lock()
	if r.closed || r.reconnectTimer != nil {
		r.mu.Unlock()
		return
	}
	r.reconnectTimer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		r.reconnectTimer = nil
		closed := r.closed
		r.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}
		r.transition(Connecting)
		r.dial(ctx)
	})
	r.mu.Unlock()

	logging.Info("live channel reconnect scheduled",
		"attempt", r.Attempts(), "delay", delay.String())
}

// heartbeatLoop sends a ping on a fixed interval while connected. Pong
// absence is tolerated; a failed write just ends the loop and leaves the
// transport close event to report the failure.
func (r *Reconnector) heartbeatLoop(conn Conn, stop chan struct{}) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(models.PingMessage()); err != nil {
				logging.Debug("heartbeat write failed", "error", err.Error())
				return
			}
		}
	}
}

// Attempts returns the consecutive failed reconnect attempts.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *Reconnector) stopHeartbeatLocked() {
	if r.heartbeatStop != nil {
		close(r.heartbeatStop)
		r.heartbeatStop = nil
	}
}

func (r *Reconnector) stopReconnectTimerLocked() {
	if r.reconnectTimer != nil {
		r.reconnectTimer.Stop()
		r.reconnectTimer = nil
	}
}

// transition moves to a new state and notifies observers. Closed is
// sticky: once closed, only the Closed notification is delivered.
func (r *Reconnector) transition(to ConnectionState) {
	r.mu.Lock()
	if r.state == to || (r.closed && to != Closed) {
		r.mu.Unlock()
		return
	}
	from := r.state
	r.state = to
	subs := make([]func(ConnectionState), len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	logging.Debug("live channel state", "from", from.String(), "to", to.String())
	for _, fn := range subs {
		fn(to)
	}
}

// activeTimers reports how many timers are live (test hook).
func (r *Reconnector) activeTimers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	if r.heartbeatStop != nil {
		n++
	}
	if r.reconnectTimer != nil {
		n++
	}
	return n
}
