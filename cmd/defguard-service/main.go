// defguard-service is the privileged Interface Daemon (§4.B): the only
// process that touches the kernel WireGuard interfaces. It serves the IPC
// API the unprivileged CLI dials (create_interface, remove_interface,
// read_interface_data, status) and hosts the Service-Location Manager
// (§4.G), which the spec places in this same process rather than the
// client. Grounded on the teacher's cmd/aegisd/main.go: open dependencies
// in construction order, start the API server, write a PID file, block on
// SIGTERM/SIGINT, shut down in reverse.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/defguard/client/internal/config"
	"github.com/defguard/client/internal/daemonapi"
	"github.com/defguard/client/internal/secrets"
	"github.com/defguard/client/internal/servicelocation"
	"github.com/defguard/client/internal/version"
	"github.com/defguard/client/internal/wgiface"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("defguard-service %s starting", version.Version())

	cfg := config.DefaultConfig()
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("create directories: %v", err)
	}
	if err := cfg.EnsureServiceDir(); err != nil {
		log.Fatalf("create service directory: %v", err)
	}

	im, err := wgiface.NewManager()
	if err != nil {
		log.Fatalf("init interface manager: %v", err)
	}
	defer im.Close()

	secretStore, err := secrets.NewStore(cfg.MasterKeyPath)
	if err != nil {
		log.Fatalf("init secret store: %v", err)
	}

	sessions := servicelocation.NewSessionEventSource()
	svcLoc, err := servicelocation.New(cfg.ServiceDataDir, im, sessions, secretStore, cfg.InterfaceDownTimeout, cfg.InterfaceDownPoll)
	if err != nil {
		log.Fatalf("init service-location manager: %v", err)
	}

	server := daemonapi.NewServer(cfg, im)
	if err := server.Start(); err != nil {
		log.Fatalf("start daemon API: %v", err)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go svcLoc.RunSessionLoop(runCtx)

	pidPath := pidFilePath(cfg)
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o600); err != nil {
		log.Printf("write pid file: %v", err)
	}
	defer os.Remove(pidPath)

	log.Printf("defguard-service ready (pid %d, socket %s)", os.Getpid(), cfg.SocketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("received %v, shutting down", sig)

	cancelRun()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	log.Println("defguard-service stopped")
}

func pidFilePath(cfg *config.Config) string {
	return cfg.DataDir + "/defguard-service.pid"
}
