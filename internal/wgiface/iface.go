// Package wgiface owns the privileged side of WireGuard interface
// management: bringing an interface up with a given configuration, tearing
// it down, and reading its live peer/traffic data. It is the backend the
// Interface Daemon's IPC server (§4.B) drives; platform differences (Linux
// iproute2/netlink, Windows wireguard-nt) are isolated behind this
// interface the way the teacher isolates its VM hypervisor backends behind
// vmm.VMM (internal/vmm/vmm.go).
package wgiface

import (
	"net"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
	upstream "golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/defguard/client/internal/errors"
	"github.com/defguard/client/internal/wgtypes"
)

// Manager brings WireGuard interfaces up and down and reads their live
// state. One Manager is shared by every create/remove/read call the daemon
// handles.
type Manager struct {
	client *wgctrl.Client
}

// NewManager opens a wgctrl client used to configure and query interfaces
// through the kernel's (or wireguard-go's userspace) WireGuard control
// protocol.
func NewManager() (*Manager, error) {
	c, err := wgctrl.New()
	if err != nil {
		return nil, errors.Wrap(errors.KindWireGuard, "open wgctrl client", err)
	}
	return &Manager{client: c}, nil
}

// Close releases the underlying wgctrl client.
func (m *Manager) Close() error {
	return m.client.Close()
}

// CreateInterface brings up a WireGuard interface with the given name,
// private key, listen port, and peer set. Platform-specific device
// creation (TUN allocation, address/route assignment) happens in the
// up_<platform>.go build-tagged files; this method pushes the WireGuard
// level config once the device exists.
func (m *Manager) CreateInterface(req wgtypes.CreateInterfaceRequest) error {
	if err := bringUp(req); err != nil {
		return err
	}

	privKey, err := upstream.NewKey(wgtypes.Key(req.Config.PrvKey)[:])
	if err != nil {
		return errors.Wrap(errors.KindKeyDecode, "decode interface private key", err)
	}

	peers := make([]upstream.PeerConfig, 0, len(req.Config.Peers))
	for _, p := range req.Config.Peers {
		pc, err := toPeerConfig(p)
		if err != nil {
			return err
		}
		peers = append(peers, pc)
	}

	port := int(req.Config.Port)
	cfg := upstream.Config{
		PrivateKey:   &privKey,
		ListenPort:   &port,
		ReplacePeers: true,
		Peers:        peers,
	}
	if err := m.client.ConfigureDevice(req.Config.Name, cfg); err != nil {
		return errors.Wrap(errors.KindWireGuard, "configure device "+req.Config.Name, err)
	}
	return nil
}

// RemoveInterface tears down a previously created interface.
func (m *Manager) RemoveInterface(req wgtypes.RemoveInterfaceRequest) error {
	return tearDown(req.InterfaceName)
}

// IsRunning reports whether an interface with the given name currently
// exists and answers to the WireGuard control protocol — the Service-
// Location Manager's "query the interface's running state" check (§4.G
// startup reconciliation, reset()'s not-running wait).
func (m *Manager) IsRunning(interfaceName string) bool {
	_, err := m.client.Device(interfaceName)
	return err == nil
}

// ReadInterfaceData reads the live listen port and per-peer counters for an
// interface (§4.B read_interface_data — polled by the stats pump, §4.I).
func (m *Manager) ReadInterfaceData(interfaceName string) (wgtypes.InterfaceData, error) {
	dev, err := m.client.Device(interfaceName)
	if err != nil {
		return wgtypes.InterfaceData{}, errors.Wrap(errors.KindWireGuard, "read device "+interfaceName, err)
	}

	data := wgtypes.InterfaceData{ListenPort: uint32(dev.ListenPort)}
	for _, p := range dev.Peers {
		peer := wgtypes.Peer{
			PublicKey:  wgtypes.Key(p.PublicKey),
			TxBytes:    uint64(p.TransmitBytes),
			RxBytes:    uint64(p.ReceiveBytes),
			AllowedIPs: ipNetsToStrings(p.AllowedIPs),
		}
		if p.Endpoint != nil {
			peer.Endpoint = p.Endpoint.String()
		}
		if !p.LastHandshakeTime.IsZero() {
			ts := uint64(p.LastHandshakeTime.Unix())
			peer.LastHandshake = &ts
		}
		if p.PersistentKeepaliveInterval > 0 {
			sec := uint32(p.PersistentKeepaliveInterval / time.Second)
			peer.PersistentKeepaliveInterval = &sec
		}
		var zeroKey upstream.Key
		if p.PresharedKey != zeroKey {
			psk := wgtypes.Key(p.PresharedKey)
			peer.PresharedKey = &psk
		}
		data.Peers = append(data.Peers, peer)
	}
	return data, nil
}

func toPeerConfig(p wgtypes.Peer) (upstream.PeerConfig, error) {
	pub, err := upstream.NewKey(wgtypes.Key(p.PublicKey)[:])
	if err != nil {
		return upstream.PeerConfig{}, errors.Wrap(errors.KindKeyDecode, "decode peer public key", err)
	}

	allowedIPs := make([]net.IPNet, 0, len(p.AllowedIPs))
	for _, cidr := range p.AllowedIPs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return upstream.PeerConfig{}, errors.Wrap(errors.KindIPParse, "parse allowed IP "+cidr, err)
		}
		allowedIPs = append(allowedIPs, *ipNet)
	}

	pc := upstream.PeerConfig{
		PublicKey:         pub,
		ReplaceAllowedIPs: true,
		AllowedIPs:        allowedIPs,
	}

	if p.Endpoint != "" {
		endpoint, err := net.ResolveUDPAddr("udp", p.Endpoint)
		if err != nil {
			return upstream.PeerConfig{}, errors.Wrap(errors.KindAddressParse, "resolve peer endpoint "+p.Endpoint, err)
		}
		pc.Endpoint = endpoint
	}
	if p.PresharedKey != nil {
		psk, err := upstream.NewKey(wgtypes.Key(*p.PresharedKey)[:])
		if err != nil {
			return upstream.PeerConfig{}, errors.Wrap(errors.KindKeyDecode, "decode preshared key", err)
		}
		pc.PresharedKey = &psk
	}
	if p.PersistentKeepaliveInterval != nil {
		d := time.Duration(*p.PersistentKeepaliveInterval) * time.Second
		pc.PersistentKeepaliveInterval = &d
	}
	return pc, nil
}

func ipNetsToStrings(nets []net.IPNet) []string {
	out := make([]string, 0, len(nets))
	for _, n := range nets {
		out = append(out, n.String())
	}
	return out
}
