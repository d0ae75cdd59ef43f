// Package settings implements the persisted configuration store: a single
// JSON document on disk, loaded once at startup, patched in memory and
// flushed with a debounce so bursts of updates (window resizes, toggle
// flapping) collapse into one atomic write.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vkdesk/presenced/internal/domain"
	"go.uber.org/zap"
)

const (
	// debounceDelay is the quiet period before an update hits the disk
	debounceDelay = 1000 * time.Millisecond
	// writeWaitTimeout bounds how long Destroy waits for an in-flight write
	writeWaitTimeout = 2 * time.Second
	// writePollInterval is the cadence of the in-flight write check
	writePollInterval = 50 * time.Millisecond
)

// Defaults returns the configuration used when no file exists yet or the
// existing one cannot be parsed.
func Defaults() domain.Config {
	return domain.Config{
		Profile:        "balanced",
		Domain:         "vk.ru",
		MinimizeToTray: true,
		EnableDiscord:  false,
		EnableVKNext:   true,
	}
}

// Store is the persisted settings store. All mutation goes through Update;
// writes are debounced and atomic (temp file + rename), so the on-disk
// document is never observed half-written.
type Store struct {
	logger   *zap.Logger
	path     string
	debounce time.Duration

	mu        sync.Mutex
	data      domain.Config
	saveTimer *time.Timer
	writing   bool
	destroyed bool
	subs      map[int]func(domain.Config)
	nextSub   int

	watcher   *fsnotify.Watcher
	watcherWg sync.WaitGroup
}

// New creates a store persisting to path. Call Load before first use.
func New(logger *zap.Logger, path string) *Store {
	return &Store{
		logger:   logger,
		path:     path,
		debounce: debounceDelay,
		data:     Defaults(),
		subs:     make(map[int]func(domain.Config)),
	}
}

// Load reads the configuration from disk. A missing or corrupt file is
// replaced with defaults and a clean file is written immediately. It also
// starts watching the file so hand-edits between runs of the UI and the
// daemon are picked up without a restart.
func (s *Store) Load() (domain.Config, error) {
	cfg := Defaults()

	raw, err := os.ReadFile(s.path)
	switch {
	case err != nil:
		s.logger.Warn("Config file missing, writing defaults",
			zap.String("path", s.path))
		s.replace(cfg, true)
	case json.Unmarshal(raw, &cfg) != nil:
		// Corrupt file: fall back to defaults and rewrite a clean one
		cfg = Defaults()
		s.logger.Warn("Config file corrupt, rewriting defaults",
			zap.String("path", s.path))
		s.replace(cfg, true)
	default:
		// Unmarshal merged the file over defaults, keeping new fields
		s.mu.Lock()
		s.data = cfg
		s.mu.Unlock()
	}

	if err := s.watch(); err != nil {
		// External reload is a convenience, not a requirement
		s.logger.Warn("Config file watch unavailable", zap.Error(err))
	}

	s.logger.Info("Configuration loaded",
		zap.String("path", s.path),
		zap.Bool("enableDiscord", cfg.EnableDiscord))
	return cfg, nil
}

// Get returns the current in-memory configuration
func (s *Store) Get() domain.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Update applies a partial patch to the in-memory configuration, notifies
// subscribers synchronously, then schedules a debounced persist.
func (s *Store) Update(apply func(*domain.Config)) domain.Config {
	s.mu.Lock()
	cfg := s.data
	apply(&cfg)
	s.data = cfg
	subs := s.snapshotSubsLocked()
	s.scheduleSaveLocked()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(cfg)
	}
	return cfg
}

// Reset restores the defaults, persists them immediately and notifies
// subscribers.
func (s *Store) Reset() domain.Config {
	cfg := Defaults()
	s.replace(cfg, true)

	s.mu.Lock()
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()
	for _, fn := range subs {
		fn(cfg)
	}
	return cfg
}

// Subscribe registers fn for synchronous change notifications. The returned
// function cancels the subscription.
func (s *Store) Subscribe(fn func(domain.Config)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Destroy cancels the pending debounce timer, waits for an in-flight write
// up to a bounded timeout, performs one final forced flush and stops
// accepting writes. Idempotent.
func (s *Store) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	watcher := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if watcher != nil {
		watcher.Close()
		s.watcherWg.Wait()
	}

	// Wait out any write the debounce timer already started
	deadline := time.Now().Add(writeWaitTimeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		busy := s.writing
		s.mu.Unlock()
		if !busy {
			break
		}
		time.Sleep(writePollInterval)
	}

	if err := s.writeToDisk(); err != nil {
		s.logger.Error("Final config flush failed", zap.Error(err))
	}
	s.logger.Info("Settings store destroyed")
}

// replace swaps the whole in-memory record and persists it
func (s *Store) replace(cfg domain.Config, force bool) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.data = cfg
	if force {
		s.mu.Unlock()
		if err := s.writeToDisk(); err != nil {
			s.logger.Error("Config save failed", zap.Error(err))
		}
		return
	}
	s.scheduleSaveLocked()
	s.mu.Unlock()
}

// scheduleSaveLocked arms the debounce timer, replacing any pending one.
// Caller must hold s.mu.
func (s *Store) scheduleSaveLocked() {
	if s.destroyed {
		return
	}
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(s.debounce, func() {
		if err := s.writeToDisk(); err != nil {
			s.logger.Error("Config save failed", zap.Error(err))
		}
	})
}

// writeToDisk serializes the current record to a temp file in the same
// directory and renames it over the canonical path. Rename is atomic on
// the target filesystem, so readers see either the old or the new file,
// never a partial one. A write arriving while one is in flight is dropped;
// the debounce timer coalesces bursts so the latest state still lands.
func (s *Store) writeToDisk() error {
	s.mu.Lock()
	if s.writing {
		s.mu.Unlock()
		return nil
	}
	s.writing = true
	data := s.data
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.writing = false
		s.mu.Unlock()
	}()

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// watch reloads the store when the file changes on disk underneath us.
// Our own atomic rename fires an event too; reloading then is a no-op
// because the parsed content equals the in-memory state.
func (s *Store) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	s.watcherWg.Add(1)
	go func() {
		defer s.watcherWg.Done()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != s.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				s.reloadExternal()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// reloadExternal re-reads the file and, if it differs from the in-memory
// state, adopts it and notifies subscribers.
func (s *Store) reloadExternal() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	cfg := Defaults()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		// Half-finished hand edit; the next event will catch the final state
		return
	}

	s.mu.Lock()
	if s.destroyed || cfg == s.data {
		s.mu.Unlock()
		return
	}
	s.data = cfg
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	s.logger.Info("Config reloaded from external edit")
	for _, fn := range subs {
		fn(cfg)
	}
}

// snapshotSubsLocked copies subscriber callbacks so they can be invoked
// outside the lock. Caller must hold s.mu.
func (s *Store) snapshotSubsLocked() []func(domain.Config) {
	subs := make([]func(domain.Config), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}
