//go:build windows

package servicelocation

import (
	"context"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/defguard/client/internal/errors"
)

const (
	wtsCurrentServerHandle = 0
	wtsEventLogon          = 0x20
	wtsEventLogoff         = 0x40
	wtsEventFlush          = 0x1000000 // returned when the wait is interrupted without a real event
)

var (
	wtsapi32            = windows.NewLazySystemDLL("wtsapi32.dll")
	procWTSWaitSysEvent = wtsapi32.NewProc("WTSWaitSystemEvent")
)

// wtsSessionSource waits for Windows Terminal Services logon/logoff
// notifications via WTSWaitSystemEvent, the same event source the
// original Windows-only service-location implementation blocked on.
// golang.org/x/sys/windows has no typed wrapper for this API, so it is
// called the way that package itself is designed to be extended: through
// NewLazySystemDLL/NewProc.
type wtsSessionSource struct{}

// NewSessionEventSource returns the platform session-event source.
func NewSessionEventSource() SessionEventSource {
	return wtsSessionSource{}
}

func (wtsSessionSource) Wait(ctx context.Context) (SessionKind, error) {
	for {
		var eventFlags uint32
		ret, _, err := procWTSWaitSysEvent.Call(
			uintptr(wtsCurrentServerHandle),
			uintptr(wtsEventLogon|wtsEventLogoff),
			uintptr(unsafe.Pointer(&eventFlags)),
		)
		if ret == 0 {
			return 0, errors.Wrap(errors.KindIO, "WTSWaitSystemEvent", err)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		switch {
		case eventFlags&wtsEventLogon != 0:
			return SessionLogon, nil
		case eventFlags&wtsEventLogoff != 0:
			return SessionLogoff, nil
		}
		// WTS_EVENT_FLUSH or an unrelated flag: keep waiting.
	}
}
