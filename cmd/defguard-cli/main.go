// defguard-cli is the unprivileged client for the defguard VPN core. It
// dials the privileged defguard-service over the daemon IPC (§4.B) and
// hosts the components spec.md places in the client process: the
// Connection Orchestrator (§4.D), Config Poller (§4.E), Liveness
// Supervisor (§4.F), and Statistics Aggregator (§4.I). The Service-Location
// Manager (§4.G) is out of scope here — it runs inside defguard-service.
//
// Commands:
//
//	defguard-cli enroll      Exchange an enrollment token for a new instance
//	defguard-cli connect     Bring up a Location or Tunnel and hold it up
//	defguard-cli disconnect  Tear down a Location or Tunnel
//	defguard-cli status      Show active connections
//
// Grounded on the teacher's cmd/aegis/main.go: a top-level switch on
// os.Args[1] dispatching to one cmdXxx per subcommand, each with its own
// flag.FlagSet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/defguard/client/internal/config"
	"github.com/defguard/client/internal/connregistry"
	"github.com/defguard/client/internal/daemonclient"
	"github.com/defguard/client/internal/enrollment"
	"github.com/defguard/client/internal/errors"
	"github.com/defguard/client/internal/events"
	"github.com/defguard/client/internal/hooklog"
	"github.com/defguard/client/internal/liveness"
	"github.com/defguard/client/internal/orchestrator"
	"github.com/defguard/client/internal/poller"
	"github.com/defguard/client/internal/stats"
	"github.com/defguard/client/internal/store"
	"github.com/defguard/client/internal/version"
	"github.com/defguard/client/internal/versioncheck"
)

// Exit codes per spec.md §6: 0 success, 1 a handled application error, 2
// command-line misuse.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	var err error
	switch os.Args[1] {
	case "enroll":
		err = cmdEnroll(os.Args[2:])
	case "connect":
		err = cmdConnect(os.Args[2:])
	case "disconnect":
		err = cmdDisconnect(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "check-update":
		err = cmdCheckUpdate(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("%s %s\n", version.Product, version.Version())
		os.Exit(exitOK)
	case "help", "--help", "-h":
		usage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(exitUsage)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "defguard-cli: %v\n", err)
		os.Exit(exitError)
	}
}

func usage() {
	fmt.Println(`Usage: defguard-cli <command> [options]

Commands:
  enroll --token T --url URL [--name NAME]   Enroll this device into an instance
  connect --location NAME [--preshared KEY]  Bring up a Location or Tunnel, hold it until interrupted
  disconnect --location NAME                 Tear down a connection held by a foreground "connect"
  status                                      List active connections
  check-update                                Query for a newer client release

Examples:
  defguard-cli enroll --token abc123 --url https://vpn.example.com --name laptop
  defguard-cli connect --location "Office VPN"
  defguard-cli disconnect --location "Office VPN"`)
}

// cmdEnroll runs the one-shot enrollment exchange (§4.H).
func cmdEnroll(args []string) error {
	fs := flag.NewFlagSet("enroll", flag.ExitOnError)
	token := fs.String("token", "", "one-time enrollment token")
	url := fs.String("url", "", "proxy URL")
	name := fs.String("name", defaultDeviceName(), "device name to register")
	fs.Parse(args)

	if *token == "" || *url == "" {
		fs.Usage()
		os.Exit(exitUsage)
	}

	cfg := config.DefaultConfig()
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	client := enrollment.New(db, cfg.HTTPTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout*2)
	defer cancel()

	inst, err := client.Enroll(ctx, *url, *token, *name)
	if err != nil {
		return err
	}

	fmt.Printf("enrolled instance %q (uuid %s)\n", inst.Name, inst.UUID)
	return nil
}

// cmdConnect brings up a Location or Tunnel and keeps the process alive so
// its stats pump, the Config Poller, and the Liveness Supervisor keep
// running. These three read and write connregistry.Registry, which lives
// only in this process's memory, so holding the connection up requires
// holding this process up too -- "connect" exits only on SIGINT/SIGTERM,
// after tearing the connection down. A connection the Liveness Supervisor
// drops does not end the process.
func cmdConnect(args []string) error {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	location := fs.String("location", "", "name of the Location or Tunnel to connect")
	preshared := fs.String("preshared", "", "preshared key, for Locations requiring one")
	fs.Parse(args)

	if *location == "" {
		fs.Usage()
		os.Exit(exitUsage)
	}

	cfg := config.DefaultConfig()
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	entityID, kind, err := resolveTarget(db, *location)
	if err != nil {
		return err
	}

	daemon := dialDaemon(cfg)
	bus := events.New()
	registry := connregistry.New()
	hooks := hooklog.NewStore(cfg.DataDir)
	statsPump := stats.New(db, daemon)

	orch := orchestrator.New(db, registry, daemon, bus, hooks, statsPump.Run)
	cfgPoller := poller.New(db, registry, bus, cfg.PollInterval, cfg.HTTPTimeout)
	orch.SetPoller(cfgPoller)
	supervisor := liveness.New(db, registry, orch, bus, cfg.LivenessInterval)
	updateChecker := versioncheck.New(bus, cfg.HTTPTimeout, config.DetectPlatform().OS)

	connCtx, cancelConn := context.WithTimeout(context.Background(), cfg.HTTPTimeout*2)
	defer cancelConn()
	if err := orch.Connect(connCtx, entityID, kind, *preshared); err != nil {
		return err
	}
	fmt.Printf("connected %s %q\n", kind, *location)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go cfgPoller.Run(runCtx)
	go supervisor.Run(runCtx)
	go statsPump.PurgeLoop(runCtx, cfg.StatsPurgeInterval)
	go updateChecker.RunPeriodic(runCtx, cfg.UpdateCheckInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	cancelRun()

	disconnectCtx, cancelDisconnect := context.WithTimeout(context.Background(), cfg.HTTPTimeout*2)
	defer cancelDisconnect()
	if err := orch.Disconnect(disconnectCtx, entityID, kind); err != nil && !errors.Is(err, errors.KindNotFound) {
		return err
	}
	fmt.Printf("disconnected %s %q\n", kind, *location)
	return nil
}

// cmdDisconnect tears down a connection this same process is holding up.
// Invoked as a fresh process it will almost always report "not connected",
// since connregistry.Registry is process-local memory -- the intended use
// is interrupting the foreground "connect" process directly (SIGINT), not
// a second defguard-cli invocation.
func cmdDisconnect(args []string) error {
	fs := flag.NewFlagSet("disconnect", flag.ExitOnError)
	location := fs.String("location", "", "name of the Location or Tunnel to disconnect")
	fs.Parse(args)

	if *location == "" {
		fs.Usage()
		os.Exit(exitUsage)
	}

	cfg := config.DefaultConfig()
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	entityID, kind, err := resolveTarget(db, *location)
	if err != nil {
		return err
	}

	daemon := dialDaemon(cfg)
	bus := events.New()
	registry := connregistry.New()
	hooks := hooklog.NewStore(cfg.DataDir)
	orch := orchestrator.New(db, registry, daemon, bus, hooks, nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout*2)
	defer cancel()
	if err := orch.Disconnect(ctx, entityID, kind); err != nil {
		return err
	}
	fmt.Printf("disconnected %s %q\n", kind, *location)
	return nil
}

// cmdStatus lists connections active in this process's registry. Since the
// registry is process-local, a separate invocation of "status" only ever
// reports its own empty registry -- it exists for parity with spec.md's
// CLI surface and as a building block for an eventual resident-process IPC.
func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)

	registry := connregistry.New()
	conns := registry.List()
	if len(conns) == 0 {
		fmt.Println("no active connections in this process")
		return nil
	}
	for _, c := range conns {
		fmt.Printf("%s\t%s\tentity=%d\tiface=%s\tsince=%s\n", c.ID, c.Kind, c.EntityID, c.InterfaceName, c.ConnectedAt.Format(time.RFC3339))
	}
	return nil
}

// cmdCheckUpdate runs the one-shot update-check exchange (§6) and prints
// the result; APP_VERSION_FETCH is also published on a throwaway bus so
// the same code path a long-running "connect" uses is exercised here too.
func cmdCheckUpdate(args []string) error {
	fs := flag.NewFlagSet("check-update", flag.ExitOnError)
	fs.Parse(args)

	cfg := config.DefaultConfig()
	bus := events.New()
	checker := versioncheck.New(bus, cfg.HTTPTimeout, config.DetectPlatform().OS)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	defer cancel()
	info, err := checker.Check(ctx)
	if err != nil {
		return err
	}

	if info.Version == version.Version() {
		fmt.Printf("%s %s is up to date\n", version.Product, version.Version())
		return nil
	}
	fmt.Printf("update available: %s -> %s (%s)\n", version.Version(), info.Version, info.UpdateURL)
	return nil
}

// resolveTarget finds a Location or Tunnel by display name, since
// store.DB exposes no by-name lookup of its own -- callers enumerate the
// full set and match in application code. Locations are searched before
// Tunnels; a name present in both is ambiguous but Locations win, since a
// managed instance is the common case.
func resolveTarget(db *store.DB, name string) (entityID int64, kind store.ConnectionKind, err error) {
	instances, err := db.ListInstances()
	if err != nil {
		return 0, 0, err
	}
	for _, inst := range instances {
		locs, err := db.ListLocationsByInstance(inst.ID)
		if err != nil {
			return 0, 0, err
		}
		for _, loc := range locs {
			if loc.Name == name {
				return loc.ID, store.KindLocation, nil
			}
		}
	}

	tunnels, err := db.ListTunnels()
	if err != nil {
		return 0, 0, err
	}
	for _, t := range tunnels {
		if t.Name == name {
			return t.ID, store.KindTunnel, nil
		}
	}

	return 0, 0, errors.NotFound(fmt.Sprintf("no location or tunnel named %q", name))
}

// dialDaemon connects to defguard-service over the platform IPC transport
// (§6): a unix socket everywhere except Windows, where NewNamedPipe is
// used instead -- selected by this package's build-tagged dial_unix.go /
// dial_windows.go.
func dialDaemon(cfg *config.Config) *daemonclient.Client {
	return newPlatformClient(cfg)
}

func defaultDeviceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "defguard-client"
	}
	return host
}
