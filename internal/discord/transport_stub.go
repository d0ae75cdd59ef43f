//go:build !unix
// +build !unix

package discord

import (
	"context"
	"fmt"
	"net"
)

// dialTransport placeholder for platforms without unix socket support.
// Windows uses the \\.\pipe\discord-ipc-N named pipes, which are not
// wired up yet.
func dialTransport(ctx context.Context) (net.Conn, error) {
	return nil, fmt.Errorf("%w: IPC transport not implemented for this platform", ErrNotRunning)
}
