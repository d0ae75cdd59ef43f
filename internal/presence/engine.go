package presence

import (
	"context"
	"sync"
	"time"

	"github.com/vkdesk/presenced/internal/domain"
	"github.com/vkdesk/presenced/internal/track"
	"go.uber.org/zap"
)

// EngineConfig carries the reconciler timing knobs. Zero values are
// replaced with the production defaults.
type EngineConfig struct {
	MinUpdateInterval time.Duration
	SeekThreshold     time.Duration
	IdleClearDelay    time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.MinUpdateInterval == 0 {
		c.MinUpdateInterval = time.Second
	}
	if c.SeekThreshold == 0 {
		c.SeekThreshold = 3 * time.Second
	}
	if c.IdleClearDelay == 0 {
		c.IdleClearDelay = 30 * time.Second
	}
	return c
}

// presenceState is the broadcast identity owned by the engine. An empty
// trackID means nothing is currently broadcast; startTimestamp is only
// meaningful while the track is playing.
type presenceState struct {
	trackID              string
	startTimestamp       int64 // epoch ms
	isPaused             bool
	lastUpdate           int64 // epoch ms
	lastSuccessfulUpdate int64 // epoch ms
}

// Engine is the activity reconciler. It consumes sanitized payloads from
// the track source in arrival order, decides whether a change warrants a
// broadcast (track change, play/pause flip, seek, idle timeout), and
// drives the connection manager. The enableDiscord setting gates the
// whole engine: toggling it builds or destroys the connection manager.
type Engine struct {
	logger   *zap.Logger
	settings domain.Settings
	source   domain.TrackSource
	newConn  func(onReset func()) Connection
	cfg      EngineConfig
	now      func() time.Time

	mu              sync.Mutex
	conn            Connection
	st              presenceState
	lastFingerprint string
	idleTimer       *time.Timer
	unsubscribe     func()
}

// NewEngine creates the reconciler. newConn is called whenever the
// enableDiscord setting transitions to true; the previous manager, if
// any, has been destroyed by then.
func NewEngine(
	logger *zap.Logger,
	settings domain.Settings,
	source domain.TrackSource,
	newConn func(onReset func()) Connection,
	cfg EngineConfig,
) *Engine {
	return &Engine{
		logger:   logger,
		settings: settings,
		source:   source,
		newConn:  newConn,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// Start subscribes to settings changes, brings the connection up if the
// broadcast is enabled, and launches the payload loop. Non-blocking.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Presence engine starting")

	if e.settings.Get().EnableDiscord {
		e.enable()
	}
	e.unsubscribe = e.settings.Subscribe(e.onConfigChange)

	go e.runLoop(ctx)
	return nil
}

// Stop unsubscribes, cancels pending work and destroys the connection
func (e *Engine) Stop(ctx context.Context) error {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	e.cancelIdleClear()

	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	if conn != nil {
		conn.Destroy()
	}
	e.logger.Info("Presence engine stopped")
	return nil
}

// runLoop processes payloads strictly in arrival order. Sequential
// handling is what makes track-change and seek detection sound.
func (e *Engine) runLoop(ctx context.Context) {
	events := e.source.Events()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Presence engine loop stopped")
			return
		case p, ok := <-events:
			if !ok {
				e.logger.Info("Track source events channel closed")
				return
			}
			e.handlePayload(track.Sanitize(p))
		}
	}
}

// onConfigChange reacts to the enableDiscord gate flipping
func (e *Engine) onConfigChange(cfg domain.Config) {
	e.mu.Lock()
	hasConn := e.conn != nil
	e.mu.Unlock()

	switch {
	case cfg.EnableDiscord && !hasConn:
		e.logger.Info("Presence broadcast enabled")
		e.enable()
	case !cfg.EnableDiscord && hasConn:
		e.logger.Info("Presence broadcast disabled")
		e.disable()
	}
}

// enable builds a fresh connection manager and starts connecting
func (e *Engine) enable() {
	e.mu.Lock()
	if e.conn == nil {
		e.conn = e.newConn(e.clearIdentity)
	}
	conn := e.conn
	e.mu.Unlock()

	go conn.Connect()
}

// disable destroys the manager and drops the broadcast identity
func (e *Engine) disable() {
	e.cancelIdleClear()

	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.st = presenceState{}
	e.lastFingerprint = ""
	e.mu.Unlock()

	if conn != nil {
		// Destroy blocks on a best-effort clear; keep it off the
		// notification path
		go conn.Destroy()
	}
}

// clearIdentity is invoked by the manager after a hard reset so the next
// payload resends the activity from scratch
func (e *Engine) clearIdentity() {
	e.mu.Lock()
	e.st.trackID = ""
	e.lastFingerprint = ""
	e.mu.Unlock()
}

// handlePayload runs the reconciliation decision for one sanitized payload
func (e *Engine) handlePayload(p domain.TrackPayload) {
	if !e.settings.Get().EnableDiscord {
		return
	}

	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return
	}

	status := conn.Status()
	if !status.Connected {
		// At most one attempt per payload, and none at all while the
		// backoff timer is armed, so payload cadence never overrides
		// the reconnect schedule
		if !status.Connecting && !status.ReconnectPending {
			go conn.Connect()
		}
		return
	}

	if p.Title == "" {
		e.scheduleIdleClear()
		return
	}
	e.cancelIdleClear()

	tr := track.Parse(p.Title, p.Artist)
	nowMs := e.now().UnixMilli()
	calculatedStart := nowMs - int64(p.Progress*1000)
	currentID := tr.Artist + " - " + tr.Title

	e.mu.Lock()
	shouldUpdate := false
	reason := ""
	switch {
	case currentID != e.st.trackID:
		shouldUpdate = true
		reason = "track_changed"
		e.st.startTimestamp = calculatedStart
	case p.IsPlaying == e.st.isPaused:
		shouldUpdate = true
		if p.IsPlaying {
			reason = "resumed"
			e.st.startTimestamp = calculatedStart
		} else {
			reason = "paused"
		}
	case p.IsPlaying:
		drift := calculatedStart - e.st.startTimestamp
		if drift < 0 {
			drift = -drift
		}
		if drift > e.cfg.SeekThreshold.Milliseconds() {
			shouldUpdate = true
			reason = "seek"
			e.st.startTimestamp = calculatedStart
		}
	}

	if !shouldUpdate && nowMs-e.st.lastUpdate < e.cfg.MinUpdateInterval.Milliseconds() {
		e.mu.Unlock()
		return
	}

	e.st.trackID = currentID
	e.st.isPaused = !p.IsPlaying
	e.st.lastUpdate = nowMs
	startMs := e.st.startTimestamp
	last := e.lastFingerprint
	e.mu.Unlock()

	activity := buildActivity(tr, p, startMs)
	fp := fingerprint(activity)
	if fp == last {
		return
	}

	if err := conn.SendActivity(activity); err != nil {
		// Counted and logged by the manager; the next payload retries
		return
	}

	e.mu.Lock()
	e.lastFingerprint = fp
	e.st.lastSuccessfulUpdate = nowMs
	e.mu.Unlock()

	if reason == "track_changed" {
		e.logger.Info("Now playing", zap.String("track", currentID))
	}
}

// scheduleIdleClear arms the idle timer once; when it fires with no track
// having shown up in the meantime, the broadcast is cleared and the
// identity reset. A track-bearing payload cancels it.
func (e *Engine) scheduleIdleClear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.idleTimer != nil {
		return
	}
	e.idleTimer = time.AfterFunc(e.cfg.IdleClearDelay, func() {
		e.mu.Lock()
		e.idleTimer = nil
		if e.st.trackID == "" {
			e.mu.Unlock()
			return
		}
		conn := e.conn
		e.mu.Unlock()
		if conn == nil {
			return
		}

		if err := conn.ClearActivity(); err != nil {
			return
		}
		e.mu.Lock()
		e.st.trackID = ""
		e.lastFingerprint = ""
		e.mu.Unlock()
		e.logger.Info("Activity cleared (idle)")
	})
}

func (e *Engine) cancelIdleClear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
}
