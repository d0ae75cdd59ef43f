//go:build linux
// +build linux

// Package source feeds the presence engine with raw now-playing snapshots
// scraped from the desktop media layer (MPRIS over the D-Bus session bus).
package source

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/vkdesk/presenced/internal/domain"
	"go.uber.org/zap"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisObjectPath = "/org/mpris/MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"

	metadataProp = "org.mpris.MediaPlayer2.Player.Metadata"
	statusProp   = "org.mpris.MediaPlayer2.Player.PlaybackStatus"
	positionProp = "org.mpris.MediaPlayer2.Player.Position"

	// defaultPollInterval matches the cadence the in-page scraper of the
	// desktop client used. MPRIS does not signal position changes, so the
	// active player is polled to keep progress (and seek detection) honest.
	defaultPollInterval = 1500 * time.Millisecond
)

// MprisSource watches MPRIS players and emits TrackPayload snapshots:
// one on every player state change and one per poll tick while a player
// is active. When the active player goes away an idle (empty) payload is
// emitted so the consumer can clear its broadcast.
type MprisSource struct {
	logger       *zap.Logger
	events       chan domain.TrackPayload
	pollInterval time.Duration

	// connect is a seam for tests; defaults to the real session bus
	connect func() (DBusClient, error)

	mu              sync.RWMutex
	running         bool
	cancel          context.CancelFunc
	conn            DBusClient
	activePlayer    string            // unique bus name of the player being followed
	playerNames     map[string]string // unique bus name -> well-known name
	lastDropWarning time.Time
	wg              sync.WaitGroup
}

// NewMprisSource creates a new MPRIS track source
func NewMprisSource(logger *zap.Logger) *MprisSource {
	return &MprisSource{
		logger:       logger,
		events:       make(chan domain.TrackPayload, 10),
		pollInterval: defaultPollInterval,
		connect:      func() (DBusClient, error) { return NewStdDBusClient() },
		playerNames:  make(map[string]string),
	}
}

// Start begins watching for playback changes. Blocks until the context
// is cancelled.
func (s *MprisSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	sourceCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	// The WaitGroup covers the whole of initialization. It is taken
	// under the same lock that flips running, so a Stop that observed
	// running=true cannot pass wg.Wait and close the events channel
	// while detection below is still emitting.
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.connect()
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	s.mu.Lock()
	if !s.running {
		// Stopped while the bus was dialing
		s.mu.Unlock()
		if err := conn.Close(); err != nil {
			s.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
		}
		return sourceCtx.Err()
	}
	s.conn = conn
	s.mu.Unlock()

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisObjectPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("failed to add match signal: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		// Non-fatal, players present at startup still work
		s.logger.Warn("Dynamic player tracking unavailable", zap.Error(err))
	}

	if err := s.detectExistingPlayers(); err != nil {
		s.logger.Warn("Failed to detect existing players", zap.Error(err))
	}

	s.wg.Add(2)
	go s.watchSignals(sourceCtx)
	go s.pollLoop(sourceCtx)

	s.logger.Info("MPRIS source started")
	<-sourceCtx.Done()
	return sourceCtx.Err()
}

// Stop gracefully stops the source
func (s *MprisSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
	s.mu.Unlock()

	// All producers must be gone before the channel closes
	s.wg.Wait()
	close(s.events)

	s.mu.Lock()
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
		}
	}
	s.mu.Unlock()

	s.logger.Info("MPRIS source stopped")
	return nil
}

// Events returns the payload stream
func (s *MprisSource) Events() <-chan domain.TrackPayload {
	return s.events
}

// detectExistingPlayers scans the bus for MPRIS players already running
// and adopts the first one that is playing (or the first one at all).
func (s *MprisSource) detectExistingPlayers() error {
	names, err := s.conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		unique, err := s.conn.GetNameOwner(name)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.playerNames[unique] = name
		adopt := s.activePlayer == ""
		if adopt {
			s.activePlayer = unique
		}
		s.mu.Unlock()

		s.logger.Info("Detected MPRIS player", zap.String("player", name))
		if adopt {
			s.emitSnapshot(unique)
		}
	}
	return nil
}

// watchSignals dispatches D-Bus signals to the handlers
func (s *MprisSource) watchSignals(ctx context.Context) {
	defer s.wg.Done()

	signals := make(chan *dbus.Signal, 10)
	s.conn.Signal(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			if sig == nil {
				continue
			}
			switch sig.Name {
			case "org.freedesktop.DBus.NameOwnerChanged":
				s.handleNameOwnerChanged(sig)
			case "org.freedesktop.DBus.Properties.PropertiesChanged":
				s.handlePropertiesChanged(sig)
			}
		}
	}
}

// pollLoop samples the active player's position on a fixed cadence so
// seeks show up even though MPRIS never signals them.
func (s *MprisSource) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			player := s.activePlayer
			s.mu.RUnlock()
			if player != "" {
				s.emitSnapshot(player)
			}
		}
	}
}

// handlePropertiesChanged reacts to metadata or playback status changes
func (s *MprisSource) handlePropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != playerInterface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	if _, hasMeta := changed["Metadata"]; !hasMeta {
		if _, hasStatus := changed["PlaybackStatus"]; !hasStatus {
			return
		}
	}

	// Whichever player changed state last owns the broadcast; this is
	// the same heuristic a user expects from a media key daemon.
	s.mu.Lock()
	s.activePlayer = sig.Sender
	player := s.playerName(sig.Sender)
	s.mu.Unlock()

	s.logger.Debug("Player state changed", zap.String("player", player))
	s.emitSnapshot(sig.Sender)
}

// handleNameOwnerChanged keeps the player map current and emits an idle
// payload when the active player quits
func (s *MprisSource) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}
	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, mprisPrefix) {
		return
	}
	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	if newOwner != "" {
		s.mu.Lock()
		delete(s.playerNames, oldOwner)
		s.playerNames[newOwner] = name
		adopt := s.activePlayer == "" || s.activePlayer == oldOwner
		if adopt {
			s.activePlayer = newOwner
		}
		s.mu.Unlock()

		s.logger.Info("MPRIS player appeared", zap.String("player", name))
		if adopt {
			s.emitSnapshot(newOwner)
		}
		return
	}

	s.mu.Lock()
	delete(s.playerNames, oldOwner)
	wasActive := s.activePlayer == oldOwner
	if wasActive {
		s.activePlayer = ""
	}
	s.mu.Unlock()

	s.logger.Info("MPRIS player removed", zap.String("player", name))
	if wasActive {
		// Empty payload tells the consumer nothing is playing anymore
		s.emit(domain.TrackPayload{})
	}
}

// emitSnapshot reads the player's current state and emits it as a payload
func (s *MprisSource) emitSnapshot(player string) {
	metaVariant, err := s.conn.GetProperty(player, mprisObjectPath, metadataProp)
	if err != nil {
		s.logger.Debug("Metadata read failed", zap.String("player", player), zap.Error(err))
		return
	}
	metadata, ok := metaVariant.Value().(map[string]dbus.Variant)
	if !ok {
		// Player has nothing loaded; not an error
		return
	}

	status := ""
	if v, err := s.conn.GetProperty(player, mprisObjectPath, statusProp); err == nil {
		status, _ = v.Value().(string)
	}

	var positionUs int64
	if v, err := s.conn.GetProperty(player, mprisObjectPath, positionProp); err == nil {
		positionUs = asInt64(v.Value())
	}

	s.emit(parseMetadata(metadata, status, positionUs))
}

// emit pushes a payload without blocking; the consumer rate-limits on
// its own, so dropping under pressure is safe
func (s *MprisSource) emit(p domain.TrackPayload) {
	select {
	case s.events <- p:
	default:
		s.logDropWarning()
	}
}

// parseMetadata converts MPRIS metadata into a raw track payload
func parseMetadata(metadata map[string]dbus.Variant, status string, positionUs int64) domain.TrackPayload {
	p := domain.TrackPayload{
		IsPlaying: status == "Playing",
		Progress:  float64(positionUs) / 1e6,
	}
	if metadata == nil {
		return p
	}

	if v, ok := metadata["xesam:title"]; ok {
		p.Title, _ = v.Value().(string)
	}
	if v, ok := metadata["xesam:artist"]; ok {
		switch artists := v.Value().(type) {
		case []string:
			if len(artists) > 0 {
				p.Artist = artists[0]
			}
		case string:
			p.Artist = artists
		}
	}
	if v, ok := metadata["xesam:album"]; ok {
		p.Album, _ = v.Value().(string)
	}
	if v, ok := metadata["mpris:artUrl"]; ok {
		p.Cover, _ = v.Value().(string)
	}
	if v, ok := metadata["xesam:url"]; ok {
		p.URL, _ = v.Value().(string)
	}
	if v, ok := metadata["mpris:length"]; ok {
		// Length is in microseconds; players disagree on the integer type
		p.Duration = float64(asInt64(v.Value())) / 1e6
	}
	return p
}

// asInt64 coerces the integer types non-compliant players use
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int32:
		return int64(n)
	case uint32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// playerName resolves a unique bus name to its well-known name for
// logging. Caller must hold s.mu.
func (s *MprisSource) playerName(unique string) string {
	if wellKnown, ok := s.playerNames[unique]; ok {
		return wellKnown
	}
	return unique
}

// logDropWarning rate-limits the channel-full warning to avoid log spam
// during rapid track skipping
func (s *MprisSource) logDropWarning() {
	s.mu.Lock()
	defer s.mu.Unlock()

	const warningInterval = 5 * time.Second
	if time.Since(s.lastDropWarning) >= warningInterval {
		s.logger.Warn("Events channel full, dropping payload")
		s.lastDropWarning = time.Now()
	}
}
