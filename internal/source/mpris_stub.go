//go:build !linux
// +build !linux

package source

import (
	"context"
	"fmt"

	"github.com/vkdesk/presenced/internal/domain"
	"go.uber.org/zap"
)

// MprisSource stub for non-Linux platforms
type MprisSource struct {
	logger *zap.Logger
}

// NewMprisSource creates a stub source that returns an error on non-Linux platforms
func NewMprisSource(logger *zap.Logger) *MprisSource {
	return &MprisSource{logger: logger}
}

// Start returns an error indicating MPRIS is not supported on this platform
func (s *MprisSource) Start(ctx context.Context) error {
	return fmt.Errorf("MPRIS track watching is only supported on Linux systems")
}

// Events returns a closed channel since no payloads will ever arrive
func (s *MprisSource) Events() <-chan domain.TrackPayload {
	ch := make(chan domain.TrackPayload)
	close(ch)
	return ch
}

// Stop is a no-op on non-Linux platforms
func (s *MprisSource) Stop(ctx context.Context) error {
	return nil
}
