package enrollment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/defguard/client/internal/poller"
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

func TestEnrollPersistsInstanceKeyPairAndLocation(t *testing.T) {
	db := openTestDB(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/enrollment/start", func(w http.ResponseWriter, r *http.Request) {
		var req StartRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Token != "enroll-tok" {
			t.Errorf("got start token %q, want enroll-tok", req.Token)
		}
		json.NewEncoder(w).Encode(StartResponse{
			Instance: &InstanceInfo{ID: "inst-uuid-1", Name: "acme", URL: "https://a", Username: "alice"},
		})
	})
	mux.HandleFunc("/api/v1/enrollment/create_device", func(w http.ResponseWriter, r *http.Request) {
		var req CreateDeviceRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Token != "enroll-tok" {
			t.Errorf("got create_device token %q, want enroll-tok", req.Token)
		}
		if req.Pubkey == "" {
			t.Error("expected a generated pubkey in create_device request")
		}
		json.NewEncoder(w).Encode(CreateDeviceResponse{
			Instance: &poller.InstanceConfig{Name: "acme", URL: "https://a", Username: "alice"},
			Configs: []poller.LocationConfig{
				{NetworkID: 1, NetworkName: "office", AssignedIP: "10.0.0.2/24", Pubkey: "serverpub", Endpoint: "vpn:51820", AllowedIPs: "10.0.0.0/24"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(db, 5*time.Second)
	inst, err := c.Enroll(context.Background(), srv.URL, "enroll-tok", "laptop")
	if err != nil {
		t.Fatal(err)
	}
	if inst.ID == 0 {
		t.Fatal("expected a persisted instance ID")
	}
	if inst.UUID != "inst-uuid-1" {
		t.Fatalf("got UUID %q, want inst-uuid-1", inst.UUID)
	}

	got, err := db.GetInstance(inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "acme" {
		t.Fatalf("got name %q, want acme", got.Name)
	}

	kp, err := db.GetKeyPairByInstance(inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if kp.PrivateKey == "" || kp.PublicKey == "" {
		t.Fatal("expected a generated key pair to be persisted")
	}

	locs, err := db.ListLocationsByInstance(inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(locs) != 1 {
		t.Fatalf("got %d locations, want 1", len(locs))
	}
	if locs[0].PeerPubKey != "serverpub" {
		t.Fatalf("got peer pubkey %q, want serverpub", locs[0].PeerPubKey)
	}
}

func TestEnrollRejectsResponseWithoutExactlyOneLocation(t *testing.T) {
	db := openTestDB(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/enrollment/start", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(StartResponse{
			Instance: &InstanceInfo{ID: "inst-uuid-2", Name: "acme", URL: "https://a"},
		})
	})
	mux.HandleFunc("/api/v1/enrollment/create_device", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(CreateDeviceResponse{
			Instance: &poller.InstanceConfig{Name: "acme", URL: "https://a"},
			Configs:  []poller.LocationConfig{},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(db, 5*time.Second)
	if _, err := c.Enroll(context.Background(), srv.URL, "tok", "laptop"); err == nil {
		t.Fatal("expected an error when create_device returns zero locations")
	}
}

func TestEnrollFailsWhenStartResponseMissingInstance(t *testing.T) {
	db := openTestDB(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/enrollment/start", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(StartResponse{})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(db, 5*time.Second)
	if _, err := c.Enroll(context.Background(), srv.URL, "tok", "laptop"); err == nil {
		t.Fatal("expected an error when enrollment start response has no instance")
	}
}
