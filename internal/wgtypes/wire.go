package wgtypes

// Peer is a single WireGuard peer entry, matching spec.md §6 field-for-field.
type Peer struct {
	PublicKey                   Key      `json:"public_key"`
	PresharedKey                *Key     `json:"preshared_key,omitempty"`
	ProtocolVersion              *uint32  `json:"protocol_version,omitempty"`
	Endpoint                    string   `json:"endpoint,omitempty"`
	LastHandshake               *uint64  `json:"last_handshake,omitempty"`
	TxBytes                     uint64   `json:"tx_bytes"`
	RxBytes                     uint64   `json:"rx_bytes"`
	PersistentKeepaliveInterval *uint32  `json:"persistent_keepalive_interval,omitempty"`
	AllowedIPs                  []string `json:"allowed_ips"`
}

// InterfaceConfig describes a WireGuard interface to create, matching
// spec.md §6's InterfaceConfig wire message.
type InterfaceConfig struct {
	Name    string `json:"name"`
	PrvKey  Key    `json:"prvkey"`
	Address string `json:"address"` // CSV
	Port    uint32 `json:"port"`
	Peers   []Peer `json:"peers"`
}

// CreateInterfaceRequest is the create_interface IPC verb payload.
type CreateInterfaceRequest struct {
	Config         InterfaceConfig `json:"config"`
	AllowedIPs     []string        `json:"allowed_ips"`
	DNS            []string        `json:"dns"`
	SearchDomains  []string        `json:"search_domains"`
}

// RemoveInterfaceRequest is the remove_interface IPC verb payload.
type RemoveInterfaceRequest struct {
	InterfaceName string `json:"interface_name"`
	Endpoint      string `json:"endpoint"`
}

// ReadInterfaceDataRequest is the read_interface_data IPC verb payload.
type ReadInterfaceDataRequest struct {
	InterfaceName string `json:"interface_name"`
}

// InterfaceData is one frame of the read_interface_data stream.
type InterfaceData struct {
	ListenPort uint32 `json:"listen_port"`
	Peers      []Peer `json:"peers"`
}
