//go:build windows

package daemonclient

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

// NewNamedPipe creates a client dialed against the daemon's named pipe.
func NewNamedPipe(pipeName string) *Client {
	return New(func(ctx context.Context) (net.Conn, error) {
		return winio.DialPipeContext(ctx, pipeName)
	})
}
