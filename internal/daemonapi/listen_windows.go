//go:build windows

package daemonapi

import (
	"net"

	"github.com/Microsoft/go-winio"

	"github.com/defguard/client/internal/config"
	"github.com/defguard/client/internal/errors"
)

// restrictedPipeSDDL grants full access to the Administrators group and
// the Local System account, and read/write to Authenticated Users — any
// logged-in user may dial the pipe to issue connect/disconnect requests,
// but only elevated processes may manage it.
const restrictedPipeSDDL = "D:P(A;;GA;;;SY)(A;;GA;;;BA)(A;;GRGW;;;AU)"

// listen opens a named pipe with an explicit security descriptor so
// unprivileged processes can connect but not tamper with the pipe itself.
func listen(cfg *config.Config) (net.Listener, error) {
	ln, err := winio.ListenPipe(cfg.NamedPipeName, &winio.PipeConfig{
		SecurityDescriptor: restrictedPipeSDDL,
		MessageMode:        false,
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindIO, "listen on "+cfg.NamedPipeName, err)
	}
	return ln, nil
}
