package store

// ConnectionKind distinguishes a Location-backed connection from a
// user-imported Tunnel (§3). Stored as a small integer column, per
// spec.md §9 "dynamic enumerations ... database columns are small
// integers with a documented mapping".
type ConnectionKind int

const (
	KindLocation ConnectionKind = iota
	KindTunnel
)

func (k ConnectionKind) String() string {
	if k == KindTunnel {
		return "tunnel"
	}
	return "location"
}

// MFAMode is a Location's location_mfa_mode (§3).
type MFAMode int

const (
	MFADisabled MFAMode = iota
	MFAInternal
	MFAExternal
)

// ServiceLocationMode is a Location's service_location_mode (§3).
type ServiceLocationMode int

const (
	ServiceLocationDisabled ServiceLocationMode = iota
	ServiceLocationPreLogon
	ServiceLocationAlwaysOn
)

func (m ServiceLocationMode) String() string {
	switch m {
	case ServiceLocationPreLogon:
		return "pre-logon"
	case ServiceLocationAlwaysOn:
		return "always-on"
	default:
		return "disabled"
	}
}
