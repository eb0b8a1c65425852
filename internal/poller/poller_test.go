package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/defguard/client/internal/connregistry"
	"github.com/defguard/client/internal/events"
	"github.com/defguard/client/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPollOnceAppliesNewLocationWhenNothingConnected(t *testing.T) {
	db := openTestDB(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/poll", func(w http.ResponseWriter, r *http.Request) {
		var req InstanceInfoRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Token != "tok-1" {
			t.Errorf("got token %q, want tok-1", req.Token)
		}
		json.NewEncoder(w).Encode(InstanceInfoResponse{
			DeviceConfig: &DeviceConfigResponse{
				Instance: &InstanceConfig{Name: "acme", URL: "https://a", Username: "alice"},
				Configs: []LocationConfig{
					{NetworkID: 1, NetworkName: "office", AssignedIP: "10.0.0.2/24", Pubkey: "pub1", Endpoint: "vpn:51820", AllowedIPs: "10.0.0.0/24"},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	instID, err := db.SaveInstance(&store.Instance{UUID: "inst-1", Name: "acme", URL: "https://a", ProxyURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	token := "tok-1"
	inst, err := db.GetInstance(instID)
	if err != nil {
		t.Fatal(err)
	}
	inst.Token = &token
	if err := db.ApplyInstanceUpdate(inst, true, nil, nil, false); err != nil {
		t.Fatal(err)
	}

	p := New(db, connregistry.New(), events.New(), time.Minute, 5*time.Second)
	if err := p.PollOnce(context.Background(), instID); err != nil {
		t.Fatalf("poll once: %v", err)
	}

	locs, err := db.ListLocationsByInstance(instID)
	if err != nil {
		t.Fatal(err)
	}
	if len(locs) != 1 || locs[0].Name != "office" || locs[0].PeerPubKey != "pub1" {
		t.Fatalf("unexpected locations after poll: %+v", locs)
	}
}

func TestPollOnceWithNoTokenFails(t *testing.T) {
	db := openTestDB(t)
	instID, err := db.SaveInstance(&store.Instance{UUID: "inst-2", Name: "acme", URL: "https://a", ProxyURL: "http://x"})
	if err != nil {
		t.Fatal(err)
	}
	p := New(db, connregistry.New(), events.New(), time.Minute, 5*time.Second)
	if err := p.PollOnce(context.Background(), instID); err == nil {
		t.Fatal("expected error for instance without a polling token")
	}
}

func TestPollOnceDefersWhenLocationActive(t *testing.T) {
	db := openTestDB(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/poll", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(InstanceInfoResponse{
			DeviceConfig: &DeviceConfigResponse{
				Instance: &InstanceConfig{Name: "acme-renamed", URL: "https://a", Username: "alice"},
				Configs:  []LocationConfig{},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	instID, err := db.SaveInstance(&store.Instance{UUID: "inst-3", Name: "acme", URL: "https://a", ProxyURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	token := "tok-3"
	inst, _ := db.GetInstance(instID)
	inst.Token = &token
	db.ApplyInstanceUpdate(inst, true, nil, nil, false)

	peerKey := "pub-active"
	locID, err := db.SaveLocation(&store.Location{InstanceID: instID, NetworkID: 1, Name: "office", Address: "10.0.0.2/24", PeerPubKey: peerKey, Endpoint: "vpn:51820", AllowedIPs: "10.0.0.0/24"})
	if err != nil {
		t.Fatal(err)
	}

	registry := connregistry.New()
	registry.Add("conn-1", locID, store.KindLocation, "wg0", func(ctx context.Context) { <-ctx.Done() })
	t.Cleanup(func() { registry.CloseAll() })

	bus := events.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	p := New(db, registry, bus, time.Minute, 5*time.Second)
	if err := p.PollOnce(context.Background(), instID); err != nil {
		t.Fatalf("poll once: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Kind != events.ConfigChanged {
			t.Fatalf("got %v, want ConfigChanged", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a ConfigChanged event")
	}

	reloaded, err := db.GetInstance(instID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Name != "acme" {
		t.Fatalf("instance name changed to %q while a location was active, want unchanged", reloaded.Name)
	}
}

func TestPollAllSkipsInstancesWithoutToken(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.SaveInstance(&store.Instance{UUID: "inst-4", Name: "no-token", URL: "https://a", ProxyURL: "http://unused"}); err != nil {
		t.Fatal(err)
	}
	p := New(db, connregistry.New(), events.New(), time.Minute, 5*time.Second)
	p.pollAll(context.Background()) // must not attempt any HTTP call, must not panic
}
