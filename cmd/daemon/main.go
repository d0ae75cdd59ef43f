package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/vkdesk/presenced/internal/discord"
	"github.com/vkdesk/presenced/internal/domain"
	"github.com/vkdesk/presenced/internal/logging"
	"github.com/vkdesk/presenced/internal/presence"
	"github.com/vkdesk/presenced/internal/settings"
	"github.com/vkdesk/presenced/internal/source"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// AppOptions is the daemon's full dependency graph
var AppOptions = fx.Options(
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log}
	}),

	fx.Provide(
		logging.NewLogger,
		newSettingsStore,
		newTrackSource,
		newEngine,
	),

	fx.Invoke(registerHooks),
)

func main() {
	// A .env next to the binary overrides the environment; absence is fine
	_ = godotenv.Load()

	app := fx.New(AppOptions)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	if err := app.Stop(context.Background()); err != nil {
		panic(err)
	}
}

// newSettingsStore loads the persisted settings from the user config
// directory (overridable via PRESENCED_CONFIG_DIR)
func newSettingsStore(logger *zap.Logger) (*settings.Store, error) {
	dir := os.Getenv("PRESENCED_CONFIG_DIR")
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "presenced")
	}

	store := settings.New(logger, filepath.Join(dir, "config.json"))
	if _, err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

// newTrackSource creates the MPRIS now-playing watcher
func newTrackSource(logger *zap.Logger) domain.TrackSource {
	return source.NewMprisSource(logger)
}

// newEngine assembles the reconciler on top of a connection manager
// factory. A fresh manager (and presence client) is built every time the
// broadcast is enabled.
func newEngine(logger *zap.Logger, store *settings.Store, src domain.TrackSource) *presence.Engine {
	clientID := os.Getenv("PRESENCED_CLIENT_ID")
	if clientID == "" {
		clientID = discord.DefaultClientID
	}

	newClient := func() domain.PresenceClient {
		return discord.NewClient(logger, clientID)
	}
	newConn := func(onReset func()) presence.Connection {
		return presence.NewManager(logger, presence.ManagerConfig{}, newClient, onReset)
	}
	return presence.NewEngine(logger, store, src, newConn, presence.EngineConfig{})
}

// registerHooks wires the component lifecycles into the fx application
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	store *settings.Store,
	src domain.TrackSource,
	engine *presence.Engine,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// The source blocks until stopped, so it runs off the hook.
			// The engine outlives the start context; its loop ends when
			// the source closes the payload channel.
			go func() {
				if err := src.Start(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Track source failed", zap.Error(err))
				}
			}()
			if err := engine.Start(context.Background()); err != nil {
				return err
			}
			logger.Info("Presence daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := src.Stop(ctx); err != nil {
				logger.Warn("Track source stop failed", zap.Error(err))
			}
			if err := engine.Stop(ctx); err != nil {
				logger.Warn("Engine stop failed", zap.Error(err))
			}
			store.Destroy()
			logger.Info("Shutting down")
			return nil
		},
	})
}
