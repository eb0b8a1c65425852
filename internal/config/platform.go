package config

import "runtime"

// Platform describes the detected host platform and which Service-Location
// capabilities it supports (§4.G is platform-gated: Windows has a real
// session-event source and service-manager queries, other platforms stub it).
type Platform struct {
	OS   string // "windows", "darwin", or "linux"
	Arch string

	// SupportsServiceLocation is true when the privileged pre-logon /
	// always-on subsystem (§4.G) has a real session-event source wired
	// (Windows only per spec.md §9).
	SupportsServiceLocation bool
}

// DetectPlatform detects the host platform and its capabilities.
func DetectPlatform() *Platform {
	p := &Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
	p.SupportsServiceLocation = runtime.GOOS == "windows"
	return p
}
