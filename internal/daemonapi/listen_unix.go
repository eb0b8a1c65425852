//go:build !windows

package daemonapi

import (
	"net"
	"os"

	"github.com/defguard/client/internal/config"
	"github.com/defguard/client/internal/errors"
)

// listen opens the unix domain socket the CLI/tray process dials. A stale
// socket left behind by an unclean shutdown is removed first, mirroring
// the teacher's internal/api/server.go Start().
func listen(cfg *config.Config) (net.Listener, error) {
	os.Remove(cfg.SocketPath)

	ln, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return nil, errors.Wrap(errors.KindIO, "listen on "+cfg.SocketPath, err)
	}
	if err := os.Chmod(cfg.SocketPath, 0o660); err != nil {
		ln.Close()
		return nil, errors.Wrap(errors.KindIO, "chmod socket", err)
	}
	return ln, nil
}
