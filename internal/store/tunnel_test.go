package store

import "testing"

func TestSaveAndGetTunnel(t *testing.T) {
	db := openTestDB(t)

	tun := &Tunnel{
		Name:              "home-office",
		PrivateKey:        "privkey==",
		Address:           "10.13.13.2/24",
		PeerPubKey:        "pubkey==",
		Endpoint:          "home.example:51820",
		AllowedIPs:        "0.0.0.0/0",
		KeepaliveInterval: 25,
		PreUp:             "echo up",
	}
	id, err := db.SaveTunnel(tun)
	if err != nil {
		t.Fatal(err)
	}

	got, err := db.GetTunnel(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "home-office" || got.PreUp != "echo up" {
		t.Fatalf("got %+v", got)
	}
}

func TestSaveTunnelUpdateByID(t *testing.T) {
	db := openTestDB(t)

	tun := &Tunnel{Name: "v1", PrivateKey: "pk", Address: "10.0.0.2/24", PeerPubKey: "pub", Endpoint: "e:1"}
	id, err := db.SaveTunnel(tun)
	if err != nil {
		t.Fatal(err)
	}

	tun.ID = id
	tun.Name = "v2"
	if _, err := db.SaveTunnel(tun); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetTunnel(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "v2" {
		t.Fatalf("got name %q, want v2", got.Name)
	}

	all, err := db.ListTunnels()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected update in place, got %d tunnels", len(all))
	}
}

func TestDeleteTunnel(t *testing.T) {
	db := openTestDB(t)
	id, err := db.SaveTunnel(&Tunnel{Name: "gone", PrivateKey: "pk", Address: "10.0.0.2/24", PeerPubKey: "pub", Endpoint: "e:1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteTunnel(id); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteTunnel(id); err == nil {
		t.Fatal("expected not-found error on second delete")
	}
}
