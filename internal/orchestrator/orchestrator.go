// Package orchestrator implements the Connection Orchestrator (§4.D): the
// component that turns a Location or Tunnel row into a live WireGuard
// interface. Grounded on the teacher's lifecycle.Manager — the same
// "validate state → transition → side effect → notify" sequencing the
// teacher uses for bootInstance/EnsureInstance, generalized from a VM
// boot/resume/pause/terminate state machine to a simpler connect/disconnect
// pair, since a WireGuard interface has no paused state.
package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/defguard/client/internal/connregistry"
	"github.com/defguard/client/internal/daemonclient"
	"github.com/defguard/client/internal/errors"
	"github.com/defguard/client/internal/events"
	"github.com/defguard/client/internal/hooklog"
	"github.com/defguard/client/internal/store"
	"github.com/defguard/client/internal/wgiface"
	"github.com/defguard/client/internal/wgtypes"
)

// InstancePoller is the Config Poller capability the Orchestrator uses to
// trigger a one-shot reconciliation after disconnecting a location (§4.D
// disconnect, final step). Defined locally to avoid orchestrator importing
// the poller package — the poller never needs to call back into the
// orchestrator.
type InstancePoller interface {
	PollOnce(ctx context.Context, instanceID int64) error
}

// Orchestrator drives connect/disconnect for both Locations and Tunnels.
type Orchestrator struct {
	db       *store.DB
	registry *connregistry.Registry
	daemon   *daemonclient.Client
	bus      *events.Bus
	hooks    *hooklog.Store
	poller   InstancePoller

	statsPump StatsPump
}

// StatsPump is spawned by the Registry (§4.C) as the per-connection
// background task once a connection is live — normally the Statistics
// Aggregator's sample loop (§4.I), reading from interfaceName via the
// daemon and writing StatsSample rows keyed by (entityID, kind).
type StatsPump func(ctx context.Context, connID string, entityID int64, kind store.ConnectionKind, interfaceName string)

// New creates an Orchestrator. statsPump may be nil, in which case a
// connection's pump goroutine simply blocks until cancelled.
func New(db *store.DB, registry *connregistry.Registry, daemon *daemonclient.Client, bus *events.Bus, hooks *hooklog.Store, statsPump StatsPump) *Orchestrator {
	return &Orchestrator{db: db, registry: registry, daemon: daemon, bus: bus, hooks: hooks, statsPump: statsPump}
}

// SetPoller wires the Config Poller in after construction, breaking the
// dependency cycle that a constructor-argument would otherwise create.
func (o *Orchestrator) SetPoller(p InstancePoller) {
	o.poller = p
}

// entity is the shared shape of a Location and a Tunnel the Orchestrator
// needs to build an InterfaceConfig, independent of which table it came from.
type entity struct {
	name              string
	privateKey        string
	address           string
	peerPubKey        string
	endpoint          string
	allowedIPs        string
	dns               string
	routeAllTraffic   bool
	keepaliveInterval int
	preUp, postUp     string
	preDown, postDown string
}

// Connect brings up a WireGuard interface for a Location or Tunnel,
// following spec.md §4.D connect steps 1-5.
func (o *Orchestrator) Connect(ctx context.Context, entityID int64, kind store.ConnectionKind, presharedKey string) error {
	if _, ok := o.registry.FindByEntity(entityID, kind); ok {
		// Already connected: §8's idempotence law requires a second Connect
		// on the same (entityID, kind) to succeed without mutating the
		// Registry, rather than spawning a second interface and pump.
		return nil
	}

	ent, instanceID, err := o.loadEntity(entityID, kind)
	if err != nil {
		return err
	}

	if kind == store.KindLocation {
		inst, err := o.db.GetInstance(instanceID)
		if err != nil {
			return err
		}
		if inst.DisableAllTraffic && ent.routeAllTraffic {
			return errors.New(errors.KindInternal, "instance disables all-traffic routing; location cannot route all traffic")
		}
	}

	ifaceName, err := wgiface.AllocateName(ent.name)
	if err != nil {
		return errors.Wrap(errors.KindWireGuard, "allocate interface name", err)
	}

	prvKey, err := wgtypes.ParseKeyBase64(ent.privateKey)
	if err != nil {
		return err
	}
	peerPubKey, err := wgtypes.ParseKeyBase64(ent.peerPubKey)
	if err != nil {
		return err
	}

	port, err := freePort()
	if err != nil {
		return errors.Wrap(errors.KindIO, "allocate listen port", err)
	}

	keepalive := uint32(25)
	if kind == store.KindTunnel && ent.keepaliveInterval > 0 {
		keepalive = uint32(ent.keepaliveInterval)
	}

	allowedIPs := splitCSV(ent.allowedIPs)
	if ent.routeAllTraffic {
		allowedIPs = []string{"0.0.0.0/0", "::/0"}
	}

	peer := wgtypes.Peer{
		PublicKey:                   peerPubKey,
		Endpoint:                    ent.endpoint,
		PersistentKeepaliveInterval: &keepalive,
		AllowedIPs:                  allowedIPs,
	}
	pskSource := presharedKey
	if pskSource == "" && kind == store.KindTunnel {
		t, _ := o.db.GetTunnel(entityID)
		if t != nil {
			pskSource = t.PresharedKey
		}
	}
	if pskSource != "" {
		psk, err := wgtypes.ParseKeyBase64(pskSource)
		if err != nil {
			return err
		}
		peer.PresharedKey = &psk
	}

	req := wgtypes.CreateInterfaceRequest{
		Config: wgtypes.InterfaceConfig{
			Name:    ifaceName,
			PrvKey:  prvKey,
			Address: ent.address,
			Port:    port,
			Peers:   []wgtypes.Peer{peer},
		},
		AllowedIPs: allowedIPs,
		DNS:        dnsResolvers(ent.dns),
	}
	req.SearchDomains = dnsSearchDomains(ent.dns)

	if err := o.daemon.CreateInterface(ctx, req); err != nil {
		return errors.Wrap(errors.KindWireGuard, "create interface", err)
	}

	connID := uuid.NewString()
	o.registry.Add(connID, entityID, kind, ifaceName, func(pumpCtx context.Context) {
		if o.statsPump == nil {
			<-pumpCtx.Done()
			return
		}
		o.statsPump(pumpCtx, connID, entityID, kind, ifaceName)
	})

	o.db.BeginConnectionHistory(entityID, kind, "127.0.0.1")

	o.bus.Publish(events.ConnectionChanged, connID)

	if kind == store.KindTunnel && ent.postUp != "" {
		o.runHook(connID, hooklog.PostUp, ent.postUp)
	}

	return nil
}

// Disconnect tears down a Location's or Tunnel's active WireGuard
// interface, following spec.md §4.D disconnect.
func (o *Orchestrator) Disconnect(ctx context.Context, entityID int64, kind store.ConnectionKind) error {
	conn, ok := o.registry.FindByEntity(entityID, kind)
	if !ok {
		return errors.NotFound("no active connection for entity")
	}

	if kind == store.KindTunnel {
		if ent, _, err := o.loadEntity(entityID, kind); err == nil && ent.preDown != "" {
			o.runHook(conn.ID, hooklog.PreDown, ent.preDown)
		}
	}

	if err := o.daemon.RemoveInterface(ctx, wgtypes.RemoveInterfaceRequest{InterfaceName: conn.InterfaceName}); err != nil {
		return errors.Wrap(errors.KindWireGuard, "remove interface", err)
	}

	if kind == store.KindTunnel {
		if ent, _, err := o.loadEntity(entityID, kind); err == nil && ent.postDown != "" {
			o.runHook(conn.ID, hooklog.PostDown, ent.postDown)
		}
	}

	connID := conn.ID
	if err := o.registry.Remove(connID); err != nil {
		return err
	}
	o.hooks.Remove(connID)

	if hist, err := o.db.ListConnectionHistory(entityID, kind, 1); err == nil && len(hist) > 0 && hist[0].End == nil {
		o.db.EndConnectionHistory(hist[0].ID)
	}

	o.bus.Publish(events.ConnectionChanged, connID)

	if kind == store.KindLocation && o.poller != nil {
		loc, err := o.db.GetLocation(entityID)
		if err == nil {
			go o.poller.PollOnce(context.Background(), loc.InstanceID)
		}
	}

	return nil
}

func (o *Orchestrator) runHook(connectionID string, hook hooklog.Hook, command string) {
	cmd := exec.Command("sh", "-c", command)
	stdout, _ := cmd.StdoutPipe()
	stderr, _ := cmd.StderrPipe()
	if err := cmd.Start(); err != nil {
		o.hooks.Append(connectionID, hook, "stderr", fmt.Sprintf("start: %v", err))
		return
	}
	go streamLines(o.hooks, connectionID, hook, "stdout", stdout)
	go streamLines(o.hooks, connectionID, hook, "stderr", stderr)
	if err := cmd.Wait(); err != nil {
		o.hooks.Append(connectionID, hook, "stderr", fmt.Sprintf("exit: %v", err))
	}
}

func streamLines(hooks *hooklog.Store, connectionID string, hook hooklog.Hook, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		hooks.Append(connectionID, hook, stream, scanner.Text())
	}
}

func (o *Orchestrator) loadEntity(entityID int64, kind store.ConnectionKind) (entity, int64, error) {
	if kind == store.KindTunnel {
		t, err := o.db.GetTunnel(entityID)
		if err != nil {
			return entity{}, 0, err
		}
		return entity{
			name:              t.Name,
			privateKey:        t.PrivateKey,
			address:           t.Address,
			peerPubKey:        t.PeerPubKey,
			endpoint:          t.Endpoint,
			allowedIPs:        t.AllowedIPs,
			dns:               t.DNS,
			routeAllTraffic:   t.RouteAllTraffic,
			keepaliveInterval: t.KeepaliveInterval,
			preUp:             t.PreUp,
			postUp:            t.PostUp,
			preDown:           t.PreDown,
			postDown:          t.PostDown,
		}, 0, nil
	}

	loc, err := o.db.GetLocation(entityID)
	if err != nil {
		return entity{}, 0, err
	}
	kp, err := o.db.GetKeyPairByInstance(loc.InstanceID)
	if err != nil {
		return entity{}, 0, err
	}
	return entity{
		name:              loc.Name,
		privateKey:        kp.PrivateKey,
		address:           loc.Address,
		peerPubKey:        loc.PeerPubKey,
		endpoint:          loc.Endpoint,
		allowedIPs:        loc.AllowedIPs,
		dns:               loc.DNS,
		routeAllTraffic:   loc.RouteAllTraffic,
		keepaliveInterval: loc.KeepaliveInterval,
	}, loc.InstanceID, nil
}

// freePort binds to 127.0.0.1:0, reads back the assigned port, and
// releases it — spec.md §4.D step 3's "free local TCP port" rule, applied
// to UDP listen port selection the same way the teacher never needed to
// (the teacher's ports come from a fixed ExposePorts list).
func freePort() (uint32, error) {
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

// dnsResolvers splits the comma-separated DNS field into entries parsable
// as an IP address (spec.md §4.D step 3).
func dnsResolvers(s string) []string {
	var out []string
	for _, entry := range splitCSV(s) {
		if net.ParseIP(entry) != nil {
			out = append(out, entry)
		}
	}
	return out
}

// dnsSearchDomains returns the entries of the DNS field that do not parse
// as an IP address — treated as search domains (spec.md §4.D step 3).
func dnsSearchDomains(s string) []string {
	var out []string
	for _, entry := range splitCSV(s) {
		if net.ParseIP(entry) == nil {
			out = append(out, entry)
		}
	}
	return out
}
