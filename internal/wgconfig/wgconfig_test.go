package wgconfig

import (
	"testing"

	"github.com/defguard/client/internal/store"
)

const sampleConf = `[Interface]
PrivateKey = cHJpdmF0ZWtleWJhc2U2NHBhZGRpbmdwYWRkaW5nMT0=
Address = 10.6.0.2/32
DNS = 10.6.0.1,corp.example

[Peer]
PublicKey = cHVibGlja2V5YmFzZTY0cGFkZGluZ3BhZGRpbmcxPQ==
AllowedIPs = 0.0.0.0/0
Endpoint = vpn.example.com:51820
PersistentKeepalive = 25
`

func TestParseExtractsInterfaceAndPeer(t *testing.T) {
	tun, err := Parse("office", []byte(sampleConf))
	if err != nil {
		t.Fatal(err)
	}
	if tun.Name != "office" {
		t.Fatalf("got name %q, want office", tun.Name)
	}
	if tun.Address != "10.6.0.2/32" {
		t.Fatalf("got address %q", tun.Address)
	}
	if tun.AllowedIPs != "0.0.0.0/0" {
		t.Fatalf("got allowed ips %q", tun.AllowedIPs)
	}
	if tun.Endpoint != "vpn.example.com:51820" {
		t.Fatalf("got endpoint %q", tun.Endpoint)
	}
	if tun.KeepaliveInterval != 25 {
		t.Fatalf("got keepalive %d, want 25", tun.KeepaliveInterval)
	}
	if tun.DNS != "10.6.0.1,corp.example" {
		t.Fatalf("got dns %q, want resolver then search domain", tun.DNS)
	}
}

func TestParseDefaultsKeepaliveWhenAbsent(t *testing.T) {
	conf := `[Interface]
PrivateKey = key
Address = 10.0.0.2/32

[Peer]
PublicKey = pub
AllowedIPs = 10.0.0.0/24
Endpoint = vpn:51820
`
	tun, err := Parse("t", []byte(conf))
	if err != nil {
		t.Fatal(err)
	}
	if tun.KeepaliveInterval != defaultKeepalive {
		t.Fatalf("got keepalive %d, want default %d", tun.KeepaliveInterval, defaultKeepalive)
	}
}

func TestRoundTripParseRenderParseIsIdentity(t *testing.T) {
	tun, err := Parse("office", []byte(sampleConf))
	if err != nil {
		t.Fatal(err)
	}

	rendered := Render(tun)
	again, err := Parse("office", rendered)
	if err != nil {
		t.Fatalf("re-parsing rendered config failed: %v", err)
	}

	if *again != *tun {
		t.Fatalf("round trip mismatch:\nfirst:  %+v\nsecond: %+v", tun, again)
	}
}

func TestNormalizeCSVIsOrderIndependent(t *testing.T) {
	a := normalizeCSV("10.1.0.0/16,10.0.0.0/24")
	b := normalizeCSV("10.0.0.0/24, 10.1.0.0/16")
	if a != b {
		t.Fatalf("got %q and %q, want equal after normalization", a, b)
	}
}

func TestRenderOmitsEmptyOptionalFields(t *testing.T) {
	tun := &store.Tunnel{
		Name:              "bare",
		PrivateKey:        "key",
		Address:           "10.0.0.2/32",
		PeerPubKey:        "pub",
		AllowedIPs:        "0.0.0.0/0",
		KeepaliveInterval: 25,
	}
	out := string(Render(tun))
	if containsAny(out, "PresharedKey", "PreUp", "PostUp", "PreDown", "PostDown", "DNS") {
		t.Fatalf("expected no optional keys in render, got:\n%s", out)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(sub) > 0 && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
