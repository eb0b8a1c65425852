package servicelocation

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/defguard/client/internal/errors"
	"github.com/defguard/client/internal/secrets"
	"github.com/defguard/client/internal/store"
	"github.com/defguard/client/internal/wgiface"
	"github.com/defguard/client/internal/wgtypes"
)

// InterfaceManager is the subset of wgiface.Manager the Service-Location
// Manager drives directly — it runs inside the same process as the
// Interface Daemon, so it never goes through the daemonclient IPC
// boundary the unprivileged client process uses.
type InterfaceManager interface {
	CreateInterface(req wgtypes.CreateInterfaceRequest) error
	RemoveInterface(req wgtypes.RemoveInterfaceRequest) error
	IsRunning(interfaceName string) bool
}

// Manager owns the privileged, ACL-protected on-disk state described in
// spec.md §4.G and drives service-location interfaces up and down
// independently of the Connection Registry (§4.C never sees these
// connections; §4.F's Liveness Supervisor ignores them accordingly).
type Manager struct {
	dataDir     string
	iface       InterfaceManager
	sessions    SessionEventSource
	secrets     *secrets.Store
	downTimeout time.Duration
	downPoll    time.Duration

	cache *connectedCache
	// ifaceNames tracks instanceUUID/pubkey -> the interface name Connect
	// allocated, so Disconnect and reset() can find it again without
	// re-deriving it (wgiface.AllocateName is not guaranteed idempotent
	// on every platform, e.g. macOS's first-free-utunN rule).
	ifaceNames map[string]string
}

// New constructs a Manager over dataDir (config.Config.ServiceDataDir) and
// runs the startup reconciliation spec.md §4.G's third paragraph
// describes before returning. secretStore encrypts/decrypts each instance
// record's private key at rest (§4.A's AES-256-GCM secrets.Store, reused
// here rather than duplicated since both are "material only the daemon
// should ever read in plaintext").
func New(dataDir string, iface InterfaceManager, sessions SessionEventSource, secretStore *secrets.Store, downTimeout, downPoll time.Duration) (*Manager, error) {
	entries, err := readConnected(dataDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		dataDir:     dataDir,
		iface:       iface,
		sessions:    sessions,
		secrets:     secretStore,
		downTimeout: downTimeout,
		downPoll:    downPoll,
		cache:       newConnectedCache(nil),
		ifaceNames:  make(map[string]string),
	}

	if err := m.reconcileOnStartup(entries); err != nil {
		return nil, err
	}
	if err := m.cleanupInvalid(); err != nil {
		return nil, err
	}
	return m, nil
}

// reconcileOnStartup drops connected.json entries whose interface isn't
// actually running (the process may have crashed, or the machine rebooted
// without a clean shutdown) and persists the corrected list.
func (m *Manager) reconcileOnStartup(entries []ConnectedEntry) error {
	var live []ConnectedEntry
	for _, e := range entries {
		name := ifaceName(e.InstanceUUID, e.LocationPubkey)
		if m.iface.IsRunning(name) {
			live = append(live, e)
			m.ifaceNames[cacheKey(e.InstanceUUID, e.LocationPubkey)] = name
		}
	}
	if err := writeConnected(m.dataDir, live); err != nil {
		return err
	}
	m.cache.replace(live)
	return nil
}

// cleanupInvalid force-disconnects every connected entry whose instance
// record no longer lists that pubkey (the proxy dropped the location out
// from under a connected service tunnel).
func (m *Manager) cleanupInvalid() error {
	for _, e := range m.cache.list() {
		rec, err := readInstanceRecord(m.dataDir, m.secrets, e.InstanceUUID)
		if err != nil {
			return err
		}
		if rec != nil && findServiceLocation(rec, e.LocationPubkey) != nil {
			continue
		}
		if err := m.disconnect(e.InstanceUUID, e.LocationPubkey); err != nil {
			return err
		}
	}
	return nil
}

// SaveInstanceRecord persists (or replaces) the service-location set for
// an instance, re-deriving which of its previously-connected locations
// are still valid.
func (m *Manager) SaveInstanceRecord(rec *InstanceRecord) error {
	if err := writeInstanceRecord(m.dataDir, m.secrets, rec); err != nil {
		return err
	}
	return m.cleanupInvalid()
}

// connect brings up a service-location interface for (instanceUUID,
// pubkey), mirroring spec.md §4.D connect steps 3-4 but sourcing the
// private key from the instance record and never touching the Registry.
func (m *Manager) connect(instanceUUID string, loc *ServiceLocation, privateKey string) error {
	prvKey, err := wgtypes.ParseKeyBase64(privateKey)
	if err != nil {
		return err
	}
	peerPubKey, err := wgtypes.ParseKeyBase64(loc.Pubkey)
	if err != nil {
		return err
	}

	name := ifaceName(instanceUUID, loc.Pubkey)

	port, err := freeUDPPort()
	if err != nil {
		return errors.Wrap(errors.KindIO, "allocate listen port", err)
	}

	keepalive := uint32(25)
	if loc.KeepaliveInterval > 0 {
		keepalive = uint32(loc.KeepaliveInterval)
	}

	req := wgtypes.CreateInterfaceRequest{
		Config: wgtypes.InterfaceConfig{
			Name:    name,
			PrvKey:  prvKey,
			Address: loc.Address,
			Port:    port,
			Peers: []wgtypes.Peer{{
				PublicKey:                   peerPubKey,
				Endpoint:                    loc.Endpoint,
				PersistentKeepaliveInterval: &keepalive,
				AllowedIPs:                  splitCSV(loc.AllowedIPs),
			}},
		},
		AllowedIPs:    splitCSV(loc.AllowedIPs),
		DNS:           dnsResolvers(loc.DNS),
		SearchDomains: dnsSearchDomains(loc.DNS),
	}

	if err := m.iface.CreateInterface(req); err != nil {
		return errors.Wrap(errors.KindWireGuard, "create service location interface", err)
	}

	entry := ConnectedEntry{InstanceUUID: instanceUUID, LocationPubkey: loc.Pubkey}
	updated := append(m.cache.list(), entry)
	if err := writeConnected(m.dataDir, updated); err != nil {
		return err
	}
	m.cache.add(entry)
	m.ifaceNames[cacheKey(instanceUUID, loc.Pubkey)] = name
	return nil
}

// disconnect tears down a service-location interface and rewrites
// connected.json (spec.md §4.G: "disconnect path removes the interface
// and rewrites connected.json").
func (m *Manager) disconnect(instanceUUID, pubkey string) error {
	name := m.ifaceNames[cacheKey(instanceUUID, pubkey)]
	if name == "" {
		name = ifaceName(instanceUUID, pubkey)
	}

	if err := m.iface.RemoveInterface(wgtypes.RemoveInterfaceRequest{InterfaceName: name}); err != nil {
		return errors.Wrap(errors.KindWireGuard, "remove service location interface", err)
	}

	remaining := make([]ConnectedEntry, 0, len(m.cache.list()))
	for _, e := range m.cache.list() {
		if e.InstanceUUID == instanceUUID && e.LocationPubkey == pubkey {
			continue
		}
		remaining = append(remaining, e)
	}
	if err := writeConnected(m.dataDir, remaining); err != nil {
		return err
	}
	m.cache.remove(func(e ConnectedEntry) bool {
		return e.InstanceUUID == instanceUUID && e.LocationPubkey == pubkey
	})
	delete(m.ifaceNames, cacheKey(instanceUUID, pubkey))
	return nil
}

// Reset implements spec.md §4.G's reset(instance_uuid, pubkey): disconnect,
// wait for the interface to actually report not-running, then reconnect
// iff the location is always-on, or pre-logon with nobody signed in.
func (m *Manager) Reset(instanceUUID, pubkey string, userLoggedIn bool) error {
	rec, err := readInstanceRecord(m.dataDir, m.secrets, instanceUUID)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.NotFound("no service-location record for instance " + instanceUUID)
	}
	loc := findServiceLocation(rec, pubkey)
	if loc == nil {
		return errors.NotFound("no service location for pubkey")
	}

	name := ifaceName(instanceUUID, pubkey)
	if err := m.disconnect(instanceUUID, pubkey); err != nil {
		return err
	}
	if err := m.waitNotRunning(name); err != nil {
		return err
	}

	shouldReconnect := loc.Mode == store.ServiceLocationAlwaysOn ||
		(loc.Mode == store.ServiceLocationPreLogon && !userLoggedIn)
	if !shouldReconnect {
		return nil
	}
	return m.connect(instanceUUID, loc, rec.PrivateKey)
}

func (m *Manager) waitNotRunning(name string) error {
	deadline := time.Now().Add(m.downTimeout)
	for {
		if !m.iface.IsRunning(name) {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New(errors.KindWireGuard, "interface "+name+" still running after down timeout")
		}
		time.Sleep(m.downPoll)
	}
}

// RunSessionLoop blocks on session logon/logoff events until ctx is
// cancelled, applying spec.md §4.G's event-loop rules: on logoff, connect
// every service location not already connected; on logon, disconnect
// every pre-logon location (always-on locations stay up).
func (m *Manager) RunSessionLoop(ctx context.Context) {
	for {
		kind, err := m.sessions.Wait(ctx)
		if err != nil {
			return
		}
		switch kind {
		case SessionLogoff:
			m.connectAll()
		case SessionLogon:
			m.disconnectPreLogon()
		}
	}
}

func (m *Manager) connectAll() {
	uuids, err := listInstanceUUIDs(m.dataDir)
	if err != nil {
		return
	}
	for _, uuid := range uuids {
		rec, err := readInstanceRecord(m.dataDir, m.secrets, uuid)
		if err != nil || rec == nil {
			continue
		}
		for i := range rec.ServiceLocations {
			loc := &rec.ServiceLocations[i]
			if loc.Mode == store.ServiceLocationDisabled {
				continue
			}
			if m.cache.has(uuid, loc.Pubkey) {
				continue
			}
			m.connect(uuid, loc, rec.PrivateKey)
		}
	}
}

func (m *Manager) disconnectPreLogon() {
	for _, e := range m.cache.list() {
		rec, err := readInstanceRecord(m.dataDir, m.secrets, e.InstanceUUID)
		if err != nil || rec == nil {
			continue
		}
		loc := findServiceLocation(rec, e.LocationPubkey)
		if loc == nil || loc.Mode != store.ServiceLocationPreLogon {
			continue
		}
		m.disconnect(e.InstanceUUID, e.LocationPubkey)
	}
}

func findServiceLocation(rec *InstanceRecord, pubkey string) *ServiceLocation {
	for i := range rec.ServiceLocations {
		if rec.ServiceLocations[i].Pubkey == pubkey {
			return &rec.ServiceLocations[i]
		}
	}
	return nil
}

func ifaceName(instanceUUID, pubkey string) string {
	n, _ := wgiface.AllocateName(instanceUUID + pubkey)
	return n
}

func cacheKey(instanceUUID, pubkey string) string {
	return instanceUUID + "/" + pubkey
}

func freeUDPPort() (uint32, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, err
	}
	return uint32(port), nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dnsResolvers(s string) []string {
	var out []string
	for _, entry := range splitCSV(s) {
		if net.ParseIP(entry) != nil {
			out = append(out, entry)
		}
	}
	return out
}

func dnsSearchDomains(s string) []string {
	var out []string
	for _, entry := range splitCSV(s) {
		if net.ParseIP(entry) == nil {
			out = append(out, entry)
		}
	}
	return out
}
