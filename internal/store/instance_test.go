package store

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "client.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndGetInstance(t *testing.T) {
	db := openTestDB(t)

	inst := &Instance{
		UUID:     "11111111-1111-1111-1111-111111111111",
		Name:     "acme-corp",
		URL:      "https://vpn.acme.example",
		ProxyURL: "https://proxy.acme.example",
		Username: "alice",
	}

	id, err := db.SaveInstance(inst)
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("expected nonzero id")
	}

	got, err := db.GetInstance(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "acme-corp" || got.UUID != inst.UUID {
		t.Fatalf("got %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}
}

func TestSaveInstanceUpsert(t *testing.T) {
	db := openTestDB(t)

	inst := &Instance{UUID: "same-uuid", Name: "first-name", URL: "https://a", ProxyURL: "https://a-proxy"}
	id1, err := db.SaveInstance(inst)
	if err != nil {
		t.Fatal(err)
	}

	inst.Name = "renamed"
	id2, err := db.SaveInstance(inst)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id on upsert, got %d and %d", id1, id2)
	}

	got, err := db.GetInstanceByUUID("same-uuid")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "renamed" {
		t.Fatalf("got name %q, want %q", got.Name, "renamed")
	}
}

func TestGetInstanceNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetInstance(999); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestListInstances(t *testing.T) {
	db := openTestDB(t)

	for _, name := range []string{"zeta", "alpha", "mu"} {
		if _, err := db.SaveInstance(&Instance{UUID: name, Name: name, URL: "https://x", ProxyURL: "https://x"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ListInstances()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d instances, want 3", len(got))
	}
	if got[0].Name != "alpha" || got[1].Name != "mu" || got[2].Name != "zeta" {
		t.Fatalf("instances not ordered by name: %+v", got)
	}
}

func TestDeleteInstanceCascades(t *testing.T) {
	db := openTestDB(t)

	id, err := db.SaveInstance(&Instance{UUID: "to-delete", Name: "gone", URL: "https://x", ProxyURL: "https://x"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := db.SaveKeyPair(&KeyPair{InstanceID: id, PrivateKey: "priv", PublicKey: "pub"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SaveLocation(&Location{InstanceID: id, NetworkID: 1, Name: "loc-1", Address: "10.0.0.2/24", PeerPubKey: "pk", Endpoint: "vpn:51820"}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteInstance(id); err != nil {
		t.Fatal(err)
	}

	if _, err := db.GetKeyPairByInstance(id); err == nil {
		t.Fatal("expected key pair to be cascade-deleted")
	}
	locs, err := db.ListLocationsByInstance(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(locs) != 0 {
		t.Fatalf("expected locations to be cascade-deleted, got %d", len(locs))
	}

	if err := db.DeleteInstance(id); err == nil {
		t.Fatal("expected not-found error deleting an already-deleted instance")
	}
}
