// Package config holds runtime configuration for the client core: data
// directories, the daemon IPC endpoint, and default periods for the
// periodic supervisors. Paths are resolved once at startup, the way the
// teacher's DefaultConfig/EnsureDirs resolve aegisd's paths.
package config

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/adrg/xdg"
)

// Config holds client runtime configuration.
type Config struct {
	// DataDir is the base directory for per-user client state.
	DataDir string

	// BinDir is the directory containing the defguard binaries, used to
	// locate defguard-service next to defguard-cli (teacher: BinDir).
	BinDir string

	// DBPath is the path to the SQLite database file.
	DBPath string

	// DBConfigPath is the path to config.json, which records whether the
	// database is passphrase-protected (§6 persisted state layout).
	DBConfigPath string

	// SocketPath is the unix-domain-socket path for the Interface Daemon
	// IPC (§6). Unused on Windows, where NamedPipeName applies instead.
	SocketPath string

	// NamedPipeName is the Windows named-pipe path for the Interface
	// Daemon IPC (§6): \\.\pipe\defguard_daemon.
	NamedPipeName string

	// ServiceDataDir is the privileged, ACL-protected directory used by
	// the Service-Location Manager (§4.G).
	ServiceDataDir string

	// MasterKeyPath is the path to the AES-256 master key the service uses
	// to encrypt private keys in Service-Location Manager records (§4.G).
	MasterKeyPath string

	// PollInterval is the Config Poller period P_poll (default 30s).
	PollInterval time.Duration

	// LivenessInterval is the Liveness Supervisor period P_check (default 30s).
	LivenessInterval time.Duration

	// StatsPeriod is the Daemon's read_interface_data emission period (default 10s).
	StatsPeriod time.Duration

	// StatsPurgeInterval is the Statistics Aggregator purge loop period (default 12h).
	StatsPurgeInterval time.Duration

	// HTTPTimeout bounds enrollment/poll/version-check HTTP calls (default 5s).
	HTTPTimeout time.Duration

	// InterfaceDownTimeout bounds how long reset() waits for an interface
	// to report not-running (default 5s, polled every 100ms — §4.G).
	InterfaceDownTimeout time.Duration
	InterfaceDownPoll    time.Duration

	// UpdateCheckInterval is the period between background §6 update-check
	// exchanges while a "connect" process is running (default 12h, matching
	// the Statistics Aggregator's purge cadence since both are low-urgency
	// background upkeep rather than anything latency-sensitive).
	UpdateCheckInterval time.Duration
}

// DefaultConfig returns the default client configuration for the current
// platform.
func DefaultConfig() *Config {
	dataDir := filepath.Join(xdg.DataHome, "defguard")

	return &Config{
		DataDir:              dataDir,
		BinDir:               executableDir(),
		DBPath:               filepath.Join(dataDir, "defguard.db"),
		DBConfigPath:         filepath.Join(dataDir, "config.json"),
		SocketPath:           filepath.Join(dataDir, "defguard-service.sock"),
		NamedPipeName:        `\\.\pipe\defguard_daemon`,
		ServiceDataDir:       serviceDataDir(),
		MasterKeyPath:        filepath.Join(dataDir, "master.key"),
		PollInterval:         30 * time.Second,
		LivenessInterval:     30 * time.Second,
		StatsPeriod:          10 * time.Second,
		StatsPurgeInterval:   12 * time.Hour,
		HTTPTimeout:          5 * time.Second,
		InterfaceDownTimeout: 5 * time.Second,
		InterfaceDownPoll:    100 * time.Millisecond,
		UpdateCheckInterval:  12 * time.Hour,
	}
}

// serviceDataDir returns the privileged, platform-wide directory used by
// the Service-Location Manager — outside any one user's home, since it
// must survive across user sessions (§4.G).
func serviceDataDir() string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("ProgramData")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "DefGuard", "service")
	default:
		return filepath.Join("/var", "lib", "defguard", "service")
	}
}

// EnsureDirs creates all directories this Config references for the
// unprivileged client process.
func (c *Config) EnsureDirs() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// EnsureServiceDir creates the privileged service directory with
// restrictive permissions. ACLs (Local System/Administrators full
// control, inherited permissions stripped) are applied on top of this by
// the platform-specific acl_*.go files in internal/servicelocation.
func (c *Config) EnsureServiceDir() error {
	return os.MkdirAll(c.ServiceDataDir, 0o700)
}

// FindBinary locates a binary by name. Search order:
//  1. PATH (exec.LookPath)
//  2. Sibling directory of the running executable (BinDir)
//  3. Known system install paths
//
// Returns the absolute path, or "" if not found.
func FindBinary(name string, binDir string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}

	if binDir != "" {
		p := filepath.Join(binDir, name)
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs
		}
	}

	for _, dir := range []string{"/usr/lib/defguard", "/usr/libexec", "/usr/local/bin"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// executableDir returns the directory containing the current executable.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
