package servicelocation

import "context"

// SessionKind distinguishes the two OS session events the Manager reacts
// to (§4.G event loop).
type SessionKind int

const (
	SessionLogon SessionKind = iota
	SessionLogoff
)

// SessionEventSource blocks until the next session logon/logoff event.
// Platform-specific: session_windows.go wraps WTSWaitSystemEvent, the
// event source the original Windows-only implementation used;
// session_unix.go is a no-op stub, since POSIX has no equivalent
// interactive-session notification this manager needs to react to.
type SessionEventSource interface {
	Wait(ctx context.Context) (SessionKind, error)
}
