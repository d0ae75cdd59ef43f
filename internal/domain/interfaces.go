package domain

import "context"

// TrackSource defines the interface for an upstream now-playing feed.
// Implementations should handle D-Bus/MPRIS communication
type TrackSource interface {
	// Start begins watching for playback changes
	// It should block until context is cancelled or an error occurs
	Start(ctx context.Context) error

	// Stop gracefully stops the source
	Stop(ctx context.Context) error

	// Events returns a read-only channel that emits TrackPayload
	// snapshots when playback state changes or position advances
	Events() <-chan TrackPayload
}

// PresenceClient defines the interface for a single connection to the
// external presence service. One client instance corresponds to one
// connection attempt; a failed or dropped client is discarded and a new
// one is created for the next attempt.
type PresenceClient interface {
	// Connect dials the service and performs the handshake.
	// Returns ErrNotRunning-compatible errors when the service is absent.
	Connect(ctx context.Context) error

	// SetActivity publishes an activity record
	SetActivity(ctx context.Context, activity Activity) error

	// ClearActivity removes the currently displayed activity
	ClearActivity(ctx context.Context) error

	// Disconnected is closed when the service drops the connection
	Disconnected() <-chan struct{}

	// Close releases the underlying connection. Idempotent.
	Close() error
}

// Settings provides read access to the persisted configuration and
// change notifications. Implemented by the settings store.
type Settings interface {
	// Get returns the current in-memory configuration
	Get() Config

	// Subscribe registers fn to be called synchronously on every
	// configuration change. The returned function cancels the subscription.
	Subscribe(fn func(Config)) (cancel func())
}
