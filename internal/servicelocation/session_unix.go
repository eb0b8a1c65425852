//go:build !windows

package servicelocation

import "context"

// noSessionSource never reports a session event: POSIX platforms have no
// analogue of Windows Terminal Services logon/logoff notifications, and
// the original implementation gated this reactor to Windows only. Blocking
// on ctx keeps the event loop's select well-formed without a platform
// special case at the call site.
type noSessionSource struct{}

// NewSessionEventSource returns the platform session-event source.
func NewSessionEventSource() SessionEventSource {
	return noSessionSource{}
}

func (noSessionSource) Wait(ctx context.Context) (SessionKind, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}
