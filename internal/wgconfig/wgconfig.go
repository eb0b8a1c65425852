// Package wgconfig parses and renders the imported peer-config format
// (§6): a standard WireGuard INI file with one [Interface] and one [Peer]
// section, mapped onto store.Tunnel. Parsing and rendering are each
// other's inverse on the normalized subset (§8's round-trip law), so a
// Tunnel imported from a .conf and immediately exported produces the same
// file modulo deterministic address/AllowedIPs ordering.
package wgconfig

import (
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/defguard/client/internal/errors"
	"github.com/defguard/client/internal/store"
)

const defaultKeepalive = 25

// Parse reads an imported peer-config file and returns the Tunnel it
// describes. name becomes the Tunnel's display name, since a .conf file
// carries none of its own.
func Parse(name string, data []byte) (*store.Tunnel, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return nil, errors.Wrap(errors.KindConfigParse, "parse peer config", err)
	}

	iface, err := cfg.GetSection("Interface")
	if err != nil {
		return nil, errors.Wrap(errors.KindConfigParse, "peer config missing [Interface]", err)
	}
	peer, err := cfg.GetSection("Peer")
	if err != nil {
		return nil, errors.Wrap(errors.KindConfigParse, "peer config missing [Peer]", err)
	}

	t := &store.Tunnel{
		Name:              name,
		PrivateKey:        iface.Key("PrivateKey").String(),
		Address:           normalizeCSV(iface.Key("Address").String()),
		PeerPubKey:        peer.Key("PublicKey").String(),
		PresharedKey:      peer.Key("PresharedKey").String(),
		Endpoint:          peer.Key("Endpoint").String(),
		AllowedIPs:        normalizeCSV(peer.Key("AllowedIPs").String()),
		KeepaliveInterval: defaultKeepalive,
		PreUp:             iface.Key("PreUp").String(),
		PostUp:            iface.Key("PostUp").String(),
		PreDown:           iface.Key("PreDown").String(),
		PostDown:          iface.Key("PostDown").String(),
	}

	if dns := iface.Key("DNS").String(); dns != "" {
		resolvers, search := splitDNS(dns)
		t.DNS = strings.Join(append(resolvers, search...), ",")
	}

	if raw := peer.Key("PersistentKeepalive").String(); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.Wrap(errors.KindConfigParse, "parse PersistentKeepalive", err)
		}
		t.KeepaliveInterval = n
	}

	return t, nil
}

// Render produces the imported peer-config text for t — the inverse of
// Parse on the normalized subset.
func Render(t *store.Tunnel) []byte {
	cfg := ini.Empty()

	iface, _ := cfg.NewSection("Interface")
	iface.NewKey("PrivateKey", t.PrivateKey)
	iface.NewKey("Address", normalizeCSV(t.Address))
	if t.DNS != "" {
		iface.NewKey("DNS", t.DNS)
	}
	setIfNotEmpty(iface, "PreUp", t.PreUp)
	setIfNotEmpty(iface, "PostUp", t.PostUp)
	setIfNotEmpty(iface, "PreDown", t.PreDown)
	setIfNotEmpty(iface, "PostDown", t.PostDown)

	peer, _ := cfg.NewSection("Peer")
	peer.NewKey("PublicKey", t.PeerPubKey)
	setIfNotEmpty(peer, "PresharedKey", t.PresharedKey)
	peer.NewKey("AllowedIPs", normalizeCSV(t.AllowedIPs))
	setIfNotEmpty(peer, "Endpoint", t.Endpoint)
	keepalive := t.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = defaultKeepalive
	}
	peer.NewKey("PersistentKeepalive", strconv.Itoa(keepalive))

	var buf strings.Builder
	cfg.WriteTo(&buf)
	return []byte(buf.String())
}

func setIfNotEmpty(s *ini.Section, key, val string) {
	if val != "" {
		s.NewKey(key, val)
	}
}

// splitDNS separates resolvers (entries that look like an IP address) from
// search domains (everything else), keeping each group's original order.
func splitDNS(csv string) (resolvers, search []string) {
	for _, entry := range splitTrim(csv) {
		if looksLikeIP(entry) {
			resolvers = append(resolvers, entry)
		} else {
			search = append(search, entry)
		}
	}
	return resolvers, search
}

func looksLikeIP(s string) bool {
	return strings.Count(s, ".") == 3 || strings.Contains(s, ":")
}

// normalizeCSV sorts a comma-separated list deterministically so two
// logically-equal address/AllowedIPs lists in different orders render
// identically — the ordering §8's round-trip law requires.
func normalizeCSV(csv string) string {
	parts := splitTrim(csv)
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func splitTrim(csv string) []string {
	if csv == "" {
		return nil
	}
	raw := strings.Split(csv, ",")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
