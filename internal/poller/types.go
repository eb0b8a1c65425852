package poller

// InstanceInfoRequest is the body of a poll request (spec.md §4.E step 1).
type InstanceInfoRequest struct {
	Token string `json:"token"`
}

// InstanceConfig is the "instance" sub-object of a poll response — the
// scalar fields of an Instance the proxy is authoritative for.
type InstanceConfig struct {
	Name              string  `json:"name"`
	URL               string  `json:"url"`
	Username          string  `json:"username"`
	DisableAllTraffic bool    `json:"disable_all_traffic"`
	EnterpriseEnabled bool    `json:"enterprise_enabled"`
	Token             *string `json:"token,omitempty"`
}

// LocationConfig is one entry of a poll response's "configs" array,
// mirroring the original device_config_to_location field mapping.
type LocationConfig struct {
	NetworkID         int64  `json:"network_id"`
	NetworkName       string `json:"network_name"`
	AssignedIP        string `json:"assigned_ip"`
	Pubkey            string `json:"pubkey"`
	Endpoint          string `json:"endpoint"`
	AllowedIPs        string `json:"allowed_ips"`
	DNS               string `json:"dns"`
	MFAEnabled        bool   `json:"mfa_enabled"`
	KeepaliveInterval int    `json:"keepalive_interval"`
}

// DeviceConfigResponse is the "device_config" payload of a poll response.
type DeviceConfigResponse struct {
	Instance *InstanceConfig  `json:"instance"`
	Configs  []LocationConfig `json:"configs"`
}

// InstanceInfoResponse is the full body of a successful poll response.
type InstanceInfoResponse struct {
	DeviceConfig *DeviceConfigResponse `json:"device_config"`
}
