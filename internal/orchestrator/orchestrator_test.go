package orchestrator

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/defguard/client/internal/connregistry"
	"github.com/defguard/client/internal/daemonclient"
	"github.com/defguard/client/internal/events"
	"github.com/defguard/client/internal/hooklog"
	"github.com/defguard/client/internal/store"
	"github.com/defguard/client/internal/wgtypes"
)

// fakeDaemon runs a real HTTP server implementing just enough of the
// Interface Daemon's routes for the Orchestrator to drive create/remove,
// dialed over plain TCP instead of the production unix-socket/named-pipe
// transport — daemonclient.New accepts any dialer.
func fakeDaemon(t *testing.T) (*daemonclient.Client, *int) {
	client, _, removed := fakeDaemonCounts(t)
	return client, removed
}

// fakeDaemonCounts is fakeDaemon plus a count of create_interface calls,
// needed to assert that an idempotent second Connect does not re-create
// the interface.
func fakeDaemonCounts(t *testing.T) (*daemonclient.Client, *int, *int) {
	t.Helper()
	created, removed := 0, 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/interfaces", func(w http.ResponseWriter, r *http.Request) {
		created++
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/interfaces/remove", func(w http.ResponseWriter, r *http.Request) {
		removed++
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	addr := u.Host

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	client := daemonclient.New(func(ctx context.Context) (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", addr)
	})
	return client, &created, &removed
}

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedLocation(t *testing.T, db *store.DB) (instanceID, locationID int64) {
	t.Helper()
	instID, err := db.SaveInstance(&store.Instance{UUID: "inst-1", Name: "acme", URL: "https://a", ProxyURL: "https://a"})
	if err != nil {
		t.Fatal(err)
	}

	prv, err := wgtypes.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.SaveKeyPair(&store.KeyPair{InstanceID: instID, PrivateKey: prv.String(), PublicKey: prv.PublicKey().String()}); err != nil {
		t.Fatal(err)
	}

	peerKey, err := wgtypes.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	locID, err := db.SaveLocation(&store.Location{
		InstanceID: instID,
		NetworkID:  1,
		Name:       "office",
		Address:    "10.0.0.2/24",
		PeerPubKey: peerKey.PublicKey().String(),
		Endpoint:   "vpn.acme.example:51820",
		AllowedIPs: "10.0.0.0/24",
	})
	if err != nil {
		t.Fatal(err)
	}
	return instID, locID
}

func TestConnectDisconnectLocation(t *testing.T) {
	db := openTestDB(t)
	_, locID := seedLocation(t, db)

	daemon, removedCount := fakeDaemon(t)
	registry := connregistry.New()
	bus := events.New()
	hooks := hooklog.NewStore(t.TempDir())

	o := New(db, registry, daemon, bus, hooks, nil)

	ch, unsub := bus.Subscribe(4)
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.Connect(ctx, locID, store.KindLocation, ""); err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Kind != events.ConnectionChanged {
			t.Fatalf("got %v, want ConnectionChanged", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no event after connect")
	}

	if _, ok := registry.FindByEntity(locID, store.KindLocation); !ok {
		t.Fatal("expected active connection after connect")
	}

	if err := o.Disconnect(ctx, locID, store.KindLocation); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	if *removedCount != 1 {
		t.Fatalf("got %d remove_interface calls, want 1", *removedCount)
	}
	if _, ok := registry.FindByEntity(locID, store.KindLocation); ok {
		t.Fatal("expected no active connection after disconnect")
	}

	hist, err := db.ListConnectionHistory(locID, store.KindLocation, 1)
	if err != nil || len(hist) != 1 || hist[0].End == nil {
		t.Fatalf("got history %+v, err %v", hist, err)
	}
}

func TestConnectIsIdempotentWhenAlreadyConnected(t *testing.T) {
	db := openTestDB(t)
	_, locID := seedLocation(t, db)

	daemon, createdCount, _ := fakeDaemonCounts(t)
	registry := connregistry.New()
	o := New(db, registry, daemon, events.New(), hooklog.NewStore(t.TempDir()), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.Connect(ctx, locID, store.KindLocation, ""); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	first, ok := registry.FindByEntity(locID, store.KindLocation)
	if !ok {
		t.Fatal("expected active connection after first connect")
	}

	if err := o.Connect(ctx, locID, store.KindLocation, ""); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if *createdCount != 1 {
		t.Fatalf("got %d create_interface calls, want 1 (idempotent second connect)", *createdCount)
	}
	second, ok := registry.FindByEntity(locID, store.KindLocation)
	if !ok {
		t.Fatal("expected active connection to remain after second connect")
	}
	if second.ID != first.ID {
		t.Fatalf("expected registry entry to be unchanged, got new ID %q (was %q)", second.ID, first.ID)
	}
	if len(registry.List()) != 1 {
		t.Fatalf("got %d registry entries, want exactly 1", len(registry.List()))
	}
}

func TestConnectRejectsRouteAllTrafficWhenInstanceDisablesIt(t *testing.T) {
	db := openTestDB(t)
	instID, err := db.SaveInstance(&store.Instance{UUID: "inst-2", Name: "acme", URL: "https://a", ProxyURL: "https://a", DisableAllTraffic: true})
	if err != nil {
		t.Fatal(err)
	}
	prv, _ := wgtypes.GenerateKey()
	if _, err := db.SaveKeyPair(&store.KeyPair{InstanceID: instID, PrivateKey: prv.String(), PublicKey: prv.PublicKey().String()}); err != nil {
		t.Fatal(err)
	}
	peerKey, _ := wgtypes.GenerateKey()
	locID, err := db.SaveLocation(&store.Location{
		InstanceID: instID, NetworkID: 1, Name: "office", Address: "10.0.0.2/24",
		PeerPubKey: peerKey.PublicKey().String(), Endpoint: "vpn:51820",
		AllowedIPs: "10.0.0.0/24", RouteAllTraffic: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	daemon, _ := fakeDaemon(t)
	o := New(db, connregistry.New(), daemon, events.New(), hooklog.NewStore(t.TempDir()), nil)

	if err := o.Connect(context.Background(), locID, store.KindLocation, ""); err == nil {
		t.Fatal("expected rejection")
	}
}

func TestDisconnectNotFound(t *testing.T) {
	db := openTestDB(t)
	daemon, _ := fakeDaemon(t)
	o := New(db, connregistry.New(), daemon, events.New(), hooklog.NewStore(t.TempDir()), nil)

	if err := o.Disconnect(context.Background(), 999, store.KindLocation); err == nil {
		t.Fatal("expected not-found error")
	}
}
