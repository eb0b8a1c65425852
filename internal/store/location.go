package store

import (
	"database/sql"

	"github.com/defguard/client/internal/errors"
)

// Location is a single WireGuard network reachable through an Instance
// (§3). NetworkID is the server-assigned identifier used to reconcile
// against the Config Poller's location set; ID is the local surrogate key.
type Location struct {
	ID                  int64
	InstanceID          int64
	NetworkID           int64
	Name                string
	Address             string // CSV of CIDRs, client-side addresses
	PeerPubKey          string
	Endpoint            string
	AllowedIPs          string // CSV
	DNS                 string // CSV, may be empty
	RouteAllTraffic     bool
	KeepaliveInterval   int
	MFAMode             MFAMode
	ServiceLocationMode ServiceLocationMode
}

// SameConfig reports whether two locations are configuration-equivalent —
// ignoring the surrogate ID — the structural-equality check the Config
// Poller's diff uses to decide whether a location changed (§4.E).
func (l *Location) SameConfig(other *Location) bool {
	if other == nil {
		return false
	}
	return l.NetworkID == other.NetworkID &&
		l.Name == other.Name &&
		l.Address == other.Address &&
		l.PeerPubKey == other.PeerPubKey &&
		l.Endpoint == other.Endpoint &&
		l.AllowedIPs == other.AllowedIPs &&
		l.DNS == other.DNS &&
		l.RouteAllTraffic == other.RouteAllTraffic &&
		l.KeepaliveInterval == other.KeepaliveInterval &&
		l.MFAMode == other.MFAMode &&
		l.ServiceLocationMode == other.ServiceLocationMode
}

// SaveLocation inserts or updates a location, keyed by (instance_id, network_id).
func (d *DB) SaveLocation(loc *Location) (int64, error) {
	_, err := d.db.Exec(`
		INSERT INTO locations (instance_id, network_id, name, address, peer_pubkey, endpoint, allowed_ips, dns, route_all_traffic, keepalive_interval, location_mfa_mode, service_location_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id, network_id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			peer_pubkey = excluded.peer_pubkey,
			endpoint = excluded.endpoint,
			allowed_ips = excluded.allowed_ips,
			dns = excluded.dns,
			route_all_traffic = excluded.route_all_traffic,
			keepalive_interval = excluded.keepalive_interval,
			location_mfa_mode = excluded.location_mfa_mode,
			service_location_mode = excluded.service_location_mode
	`, loc.InstanceID, loc.NetworkID, loc.Name, loc.Address, loc.PeerPubKey, loc.Endpoint, loc.AllowedIPs, loc.DNS,
		loc.RouteAllTraffic, loc.KeepaliveInterval, int(loc.MFAMode), int(loc.ServiceLocationMode))
	if err != nil {
		return 0, errors.Wrap(errors.KindDatabase, "save location", err)
	}

	// Look the row up by its key: when the conflict path updates an existing
	// row, SQLite leaves LastInsertId at the connection's previous insert.
	existing, err := d.GetLocationByNetworkID(loc.InstanceID, loc.NetworkID)
	if err != nil {
		return 0, err
	}
	return existing.ID, nil
}

// GetLocation returns the location with the given primary key.
func (d *DB) GetLocation(id int64) (*Location, error) {
	row := d.db.QueryRow(locationSelect+` WHERE id = ?`, id)
	return scanLocation(row)
}

// GetLocationByNetworkID returns the location for (instanceID, networkID).
func (d *DB) GetLocationByNetworkID(instanceID, networkID int64) (*Location, error) {
	row := d.db.QueryRow(locationSelect+` WHERE instance_id = ? AND network_id = ?`, instanceID, networkID)
	return scanLocation(row)
}

// ListLocationsByInstance returns every location belonging to an instance.
func (d *DB) ListLocationsByInstance(instanceID int64) ([]*Location, error) {
	rows, err := d.db.Query(locationSelect+` WHERE instance_id = ? ORDER BY name`, instanceID)
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "list locations", err)
	}
	defer rows.Close()

	var out []*Location
	for rows.Next() {
		loc, err := scanLocationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// DeleteLocation removes a location by primary key.
func (d *DB) DeleteLocation(id int64) error {
	res, err := d.db.Exec(`DELETE FROM locations WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(errors.KindDatabase, "delete location", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.NotFound("location not found")
	}
	return nil
}

const locationSelect = `
	SELECT id, instance_id, network_id, name, address, peer_pubkey, endpoint, allowed_ips, dns, route_all_traffic, keepalive_interval, location_mfa_mode, service_location_mode
	FROM locations`

func scanLocation(row *sql.Row) (*Location, error) {
	loc := &Location{}
	var mfaMode, slMode int
	err := row.Scan(&loc.ID, &loc.InstanceID, &loc.NetworkID, &loc.Name, &loc.Address, &loc.PeerPubKey, &loc.Endpoint,
		&loc.AllowedIPs, &loc.DNS, &loc.RouteAllTraffic, &loc.KeepaliveInterval, &mfaMode, &slMode)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("location not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "scan location", err)
	}
	loc.MFAMode = MFAMode(mfaMode)
	loc.ServiceLocationMode = ServiceLocationMode(slMode)
	return loc, nil
}

func scanLocationRow(rows *sql.Rows) (*Location, error) {
	loc := &Location{}
	var mfaMode, slMode int
	err := rows.Scan(&loc.ID, &loc.InstanceID, &loc.NetworkID, &loc.Name, &loc.Address, &loc.PeerPubKey, &loc.Endpoint,
		&loc.AllowedIPs, &loc.DNS, &loc.RouteAllTraffic, &loc.KeepaliveInterval, &mfaMode, &slMode)
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "scan location row", err)
	}
	loc.MFAMode = MFAMode(mfaMode)
	loc.ServiceLocationMode = ServiceLocationMode(slMode)
	return loc, nil
}
