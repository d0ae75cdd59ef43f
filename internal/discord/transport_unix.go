//go:build unix
// +build unix

package discord

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// dialTransport locates the presence service socket. The service opens
// discord-ipc-N (N in 0..9) in the first writable runtime directory, so
// every candidate is probed in order.
func dialTransport(ctx context.Context) (net.Conn, error) {
	var dialer net.Dialer
	for _, dir := range socketDirs() {
		for i := 0; i < 10; i++ {
			path := filepath.Join(dir, fmt.Sprintf("discord-ipc-%d", i))
			conn, err := dialer.DialContext(ctx, "unix", path)
			if err == nil {
				return conn, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
	}
	return nil, ErrNotRunning
}

// socketDirs lists candidate runtime directories, most specific first
func socketDirs() []string {
	var dirs []string
	seen := map[string]bool{}
	add := func(dir string) {
		if dir != "" && !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	runtime := os.Getenv("XDG_RUNTIME_DIR")
	add(runtime)
	// Flatpak and snap builds of the service nest the socket deeper
	if runtime != "" {
		add(filepath.Join(runtime, "app", "com.discordapp.Discord"))
		add(filepath.Join(runtime, "snap.discord"))
	}
	add(os.Getenv("TMPDIR"))
	add("/tmp")
	return dirs
}
