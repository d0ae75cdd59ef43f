// Package presence implements the rich-presence broadcast engine: a
// connection manager owning the lifecycle of the link to the presence
// service, and a reconciler deciding when a now-playing change warrants
// a new activity broadcast.
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vkdesk/presenced/internal/discord"
	"github.com/vkdesk/presenced/internal/domain"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by SendActivity while no connection is live
var ErrNotConnected = errors.New("presence: not connected")

// State is the connection manager's lifecycle state
type State int

const (
	// StateDisconnected means no connection and no attempt in flight
	StateDisconnected State = iota
	// StateConnecting means a handshake is in progress
	StateConnecting
	// StateConnected means the service acknowledged the handshake
	StateConnected
	// StateDestroyed is absorbing; the manager accepts no further work
	StateDestroyed
)

// Status is a point-in-time snapshot of the manager
type Status struct {
	Connected         bool
	Connecting        bool
	ReconnectPending  bool
	RetryCount        int
	ConsecutiveErrors int
}

// ManagerConfig carries the timing knobs of the connection manager.
// Zero values are replaced with the production defaults.
type ManagerConfig struct {
	ConnectTimeout   time.Duration
	ActivityTimeout  time.Duration
	ClearTimeout     time.Duration
	ReconnectDelays  []time.Duration
	MaxRetry         int
	MaxErrorsInARow  int
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ActivityTimeout == 0 {
		c.ActivityTimeout = 5 * time.Second
	}
	if c.ClearTimeout == 0 {
		c.ClearTimeout = time.Second
	}
	if len(c.ReconnectDelays) == 0 {
		c.ReconnectDelays = []time.Duration{
			3 * time.Second, 5 * time.Second, 10 * time.Second,
			20 * time.Second, 30 * time.Second, 60 * time.Second,
		}
	}
	if c.MaxRetry == 0 {
		c.MaxRetry = 10
	}
	if c.MaxErrorsInARow == 0 {
		c.MaxErrorsInARow = 5
	}
	return c
}

// Manager maintains at most one live connection to the presence service,
// reconnecting with a progressive backoff and hard-resetting after a run
// of unexpected errors.
//
//go:generate mockgen -destination=mocks/connection_mock.go -package=mocks github.com/vkdesk/presenced/internal/presence Connection
type Manager struct {
	logger    *zap.Logger
	cfg       ManagerConfig
	newClient func() domain.PresenceClient

	// onReset is invoked after a hard reset so the reconciler can drop
	// its broadcast identity and resend from scratch
	onReset func()

	mu             sync.Mutex
	state          State
	client         domain.PresenceClient
	retryCount     int
	consecErrors   int
	reconnectTimer *time.Timer
}

// Connection is the seam the reconciler drives; satisfied by Manager.
type Connection interface {
	Connect() bool
	SendActivity(activity domain.Activity) error
	ClearActivity() error
	Destroy()
	Status() Status
}

// NewManager creates a connection manager. newClient is called for every
// connection attempt; onReset may be nil.
func NewManager(logger *zap.Logger, cfg ManagerConfig, newClient func() domain.PresenceClient, onReset func()) *Manager {
	return &Manager{
		logger:    logger,
		cfg:       cfg.withDefaults(),
		newClient: newClient,
		onReset:   onReset,
	}
}

// Connect dials the service and performs the handshake, bounded by the
// connect timeout. Returns true when a connection is (or already was)
// established. Refuses while another attempt is in flight, after Destroy,
// and once the retry budget is exhausted.
func (m *Manager) Connect() bool {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return true
	case StateConnecting, StateDestroyed:
		m.mu.Unlock()
		return false
	}
	if m.retryCount >= m.cfg.MaxRetry {
		m.mu.Unlock()
		m.logger.Warn("Presence retry budget exhausted, giving up until re-enabled")
		return false
	}
	m.state = StateConnecting
	attempt := m.retryCount
	m.mu.Unlock()

	if attempt < 3 {
		m.logger.Info("Connecting to presence service",
			zap.Int("attempt", attempt+1),
			zap.Int("maxRetry", m.cfg.MaxRetry))
	}

	client := m.newClient()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	err := client.Connect(ctx)
	cancel()

	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		client.Close()
		return false
	}

	if err != nil {
		m.state = StateDisconnected
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		client.Close()

		// A missing service is the normal case for most users; only the
		// first few failures are worth a log line either way.
		if attempt < 3 && !errors.Is(err, discord.ErrNotRunning) {
			m.logger.Warn("Presence connection failed", zap.Error(err))
		} else if attempt == 3 {
			m.logger.Warn("Multiple presence connection failures, reducing log verbosity")
		}
		return false
	}

	m.client = client
	m.state = StateConnected
	m.retryCount = 0
	m.consecErrors = 0
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()

	m.logger.Info("Presence service connected")
	go m.watchDisconnect(client)
	return true
}

// SendActivity publishes an activity record, bounded by the activity
// timeout. Failures count toward the hard-reset threshold.
func (m *Manager) SendActivity(activity domain.Activity) error {
	m.mu.Lock()
	if m.state != StateConnected || m.client == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	client := m.client
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ActivityTimeout)
	err := client.SetActivity(ctx, activity)
	cancel()

	m.recordOutcome(err)
	return err
}

// ClearActivity removes the displayed activity, bounded by the activity
// timeout. Used by the reconciler's idle-clear path.
func (m *Manager) ClearActivity() error {
	m.mu.Lock()
	if m.state != StateConnected || m.client == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	client := m.client
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ActivityTimeout)
	err := client.ClearActivity(ctx)
	cancel()

	m.recordOutcome(err)
	return err
}

// recordOutcome folds a send result into the consecutive-error counter
// and triggers a hard reset at the threshold.
func (m *Manager) recordOutcome(err error) {
	m.mu.Lock()
	if err == nil {
		m.consecErrors = 0
		m.mu.Unlock()
		return
	}
	m.consecErrors++
	n := m.consecErrors
	m.mu.Unlock()

	if n <= 3 {
		m.logger.Warn("Presence update failed", zap.Error(err))
	}
	if n >= m.cfg.MaxErrorsInARow {
		m.hardReset()
	}
}

// hardReset force-disconnects and re-enters the reconnection schedule
// from a clean slate. The retry count is intentionally preserved so the
// backoff keeps progressing.
func (m *Manager) hardReset() {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return
	}
	m.logger.Warn("Too many consecutive presence errors, hard reset")
	m.state = StateDisconnected
	m.consecErrors = 0
	client := m.client
	m.client = nil
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if m.onReset != nil {
		m.onReset()
	}
}

// watchDisconnect waits for the service to drop the given client and
// schedules a reconnect. A stale watcher (client already replaced by a
// hard reset) exits without touching the state.
func (m *Manager) watchDisconnect(client domain.PresenceClient) {
	<-client.Disconnected()

	m.mu.Lock()
	if m.state != StateConnected || m.client != client {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.client = nil
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	client.Close()
	m.logger.Info("Presence service disconnected")
}

// scheduleReconnectLocked arms the single reconnect timer using the
// backoff table indexed by the current retry count, then advances the
// count. Caller must hold m.mu.
func (m *Manager) scheduleReconnectLocked() {
	if m.reconnectTimer != nil || m.state == StateDestroyed {
		return
	}
	delay := m.backoffDelay(m.retryCount)
	m.retryCount++

	if m.retryCount <= 3 {
		m.logger.Info("Reconnecting to presence service",
			zap.Duration("delay", delay))
	}

	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		destroyed := m.state == StateDestroyed
		m.mu.Unlock()
		if !destroyed {
			m.Connect()
		}
	})
}

// backoffDelay returns the reconnect delay for the given attempt number
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delays := m.cfg.ReconnectDelays
	if attempt >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[attempt]
}

// Destroy tears the manager down: cancels the pending reconnect, makes a
// best-effort activity clear bounded by a short timeout and releases the
// connection. Idempotent; the manager is unusable afterwards.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return
	}
	m.state = StateDestroyed
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ClearTimeout)
		if err := client.ClearActivity(ctx); err != nil {
			m.logger.Debug("Best-effort activity clear failed", zap.Error(err))
		}
		cancel()
		client.Close()
	}
	m.logger.Info("Presence manager destroyed")
}

// Status returns a snapshot of the connection state
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Connected:         m.state == StateConnected,
		Connecting:        m.state == StateConnecting,
		ReconnectPending:  m.reconnectTimer != nil,
		RetryCount:        m.retryCount,
		ConsecutiveErrors: m.consecErrors,
	}
}
