//go:build !windows

package daemonclient

import (
	"context"
	"net"
	"time"
)

// NewUnix creates a client dialed against the daemon's unix socket.
func NewUnix(socketPath string) *Client {
	return New(func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: 5 * time.Second}
		return d.DialContext(ctx, "unix", socketPath)
	})
}
