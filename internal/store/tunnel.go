package store

import (
	"database/sql"

	"github.com/defguard/client/internal/errors"
)

// Tunnel is a user-imported WireGuard configuration, independent of any
// Instance (§3). A superset of Location's networking fields plus the
// key material and up/down hook commands an imported .conf may carry.
type Tunnel struct {
	ID                int64
	Name              string
	PrivateKey        string
	Address           string // CSV
	PeerPubKey        string
	PresharedKey      string
	Endpoint          string
	AllowedIPs        string // CSV
	DNS               string // CSV
	RouteAllTraffic   bool
	KeepaliveInterval int
	PreUp             string
	PostUp            string
	PreDown           string
	PostDown          string
}

// SaveTunnel inserts a new tunnel or updates an existing one by ID. A zero
// ID always inserts.
func (d *DB) SaveTunnel(t *Tunnel) (int64, error) {
	if t.ID == 0 {
		res, err := d.db.Exec(`
			INSERT INTO tunnels (name, private_key, address, peer_pubkey, preshared_key, endpoint, allowed_ips, dns, route_all_traffic, keepalive_interval, pre_up, post_up, pre_down, post_down)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.Name, t.PrivateKey, t.Address, t.PeerPubKey, t.PresharedKey, t.Endpoint, t.AllowedIPs, t.DNS,
			t.RouteAllTraffic, t.KeepaliveInterval, t.PreUp, t.PostUp, t.PreDown, t.PostDown)
		if err != nil {
			return 0, errors.Wrap(errors.KindDatabase, "insert tunnel", err)
		}
		return res.LastInsertId()
	}

	_, err := d.db.Exec(`
		UPDATE tunnels SET name=?, private_key=?, address=?, peer_pubkey=?, preshared_key=?, endpoint=?,
			allowed_ips=?, dns=?, route_all_traffic=?, keepalive_interval=?, pre_up=?, post_up=?, pre_down=?, post_down=?
		WHERE id=?
	`, t.Name, t.PrivateKey, t.Address, t.PeerPubKey, t.PresharedKey, t.Endpoint, t.AllowedIPs, t.DNS,
		t.RouteAllTraffic, t.KeepaliveInterval, t.PreUp, t.PostUp, t.PreDown, t.PostDown, t.ID)
	if err != nil {
		return 0, errors.Wrap(errors.KindDatabase, "update tunnel", err)
	}
	return t.ID, nil
}

// GetTunnel returns the tunnel with the given primary key.
func (d *DB) GetTunnel(id int64) (*Tunnel, error) {
	row := d.db.QueryRow(tunnelSelect+` WHERE id = ?`, id)
	return scanTunnel(row)
}

// ListTunnels returns every imported tunnel ordered by name.
func (d *DB) ListTunnels() ([]*Tunnel, error) {
	rows, err := d.db.Query(tunnelSelect + ` ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "list tunnels", err)
	}
	defer rows.Close()

	var out []*Tunnel
	for rows.Next() {
		t, err := scanTunnelRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTunnel removes a tunnel by primary key.
func (d *DB) DeleteTunnel(id int64) error {
	res, err := d.db.Exec(`DELETE FROM tunnels WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(errors.KindDatabase, "delete tunnel", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.NotFound("tunnel not found")
	}
	return nil
}

const tunnelSelect = `
	SELECT id, name, private_key, address, peer_pubkey, preshared_key, endpoint, allowed_ips, dns, route_all_traffic, keepalive_interval, pre_up, post_up, pre_down, post_down
	FROM tunnels`

func scanTunnel(row *sql.Row) (*Tunnel, error) {
	t := &Tunnel{}
	err := row.Scan(&t.ID, &t.Name, &t.PrivateKey, &t.Address, &t.PeerPubKey, &t.PresharedKey, &t.Endpoint,
		&t.AllowedIPs, &t.DNS, &t.RouteAllTraffic, &t.KeepaliveInterval, &t.PreUp, &t.PostUp, &t.PreDown, &t.PostDown)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("tunnel not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "scan tunnel", err)
	}
	return t, nil
}

func scanTunnelRow(rows *sql.Rows) (*Tunnel, error) {
	t := &Tunnel{}
	err := rows.Scan(&t.ID, &t.Name, &t.PrivateKey, &t.Address, &t.PeerPubKey, &t.PresharedKey, &t.Endpoint,
		&t.AllowedIPs, &t.DNS, &t.RouteAllTraffic, &t.KeepaliveInterval, &t.PreUp, &t.PostUp, &t.PreDown, &t.PostDown)
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "scan tunnel row", err)
	}
	return t, nil
}
