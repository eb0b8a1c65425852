// Package version holds build-time version info injected via ldflags.
//
// Build with:
//
//	go build -ldflags "-X github.com/defguard/client/internal/version.version=v1.4.0"
package version

// version is set at build time via -ldflags.
var version = "dev"

// Version returns the build version string.
func Version() string {
	return version
}

// Product is the product name sent in AppVersionInfo check requests (§6).
const Product = "defguard-client"
