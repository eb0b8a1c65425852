package store

import (
	"database/sql"
	"time"

	"github.com/defguard/client/internal/errors"
)

// Instance is an enrolled DefGuard instance: an organization-level grouping
// of Locations reached through a shared proxy and, optionally, a shared
// enrollment token (§3).
type Instance struct {
	ID                int64
	UUID              string
	Name              string
	URL               string
	ProxyURL          string
	Username          string
	Token             *string
	DisableAllTraffic bool
	EnterpriseEnabled bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SaveInstance inserts a new instance or updates an existing one, keyed by
// UUID — mirroring the teacher's INSERT ... ON CONFLICT DO UPDATE idiom.
func (d *DB) SaveInstance(inst *Instance) (int64, error) {
	now := time.Now().Format(time.RFC3339)
	_, err := d.db.Exec(`
		INSERT INTO instances (uuid, name, url, proxy_url, username, token, disable_all_traffic, enterprise_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			proxy_url = excluded.proxy_url,
			username = excluded.username,
			token = excluded.token,
			disable_all_traffic = excluded.disable_all_traffic,
			enterprise_enabled = excluded.enterprise_enabled,
			updated_at = excluded.updated_at
	`, inst.UUID, inst.Name, inst.URL, inst.ProxyURL, inst.Username, inst.Token, inst.DisableAllTraffic, inst.EnterpriseEnabled, now, now)
	if err != nil {
		return 0, errors.Wrap(errors.KindDatabase, "save instance", err)
	}

	// LastInsertId is not usable here: when the conflict path updates an
	// existing row, SQLite leaves it at the connection's previous insert,
	// which may belong to another row or table. Look the row up by UUID.
	existing, err := d.GetInstanceByUUID(inst.UUID)
	if err != nil {
		return 0, err
	}
	return existing.ID, nil
}

// GetInstance returns the instance with the given primary key.
func (d *DB) GetInstance(id int64) (*Instance, error) {
	row := d.db.QueryRow(`
		SELECT id, uuid, name, url, proxy_url, username, token, disable_all_traffic, enterprise_enabled, created_at, updated_at
		FROM instances WHERE id = ?
	`, id)
	return scanInstance(row)
}

// GetInstanceByUUID returns the instance with the given external UUID.
func (d *DB) GetInstanceByUUID(uuid string) (*Instance, error) {
	row := d.db.QueryRow(`
		SELECT id, uuid, name, url, proxy_url, username, token, disable_all_traffic, enterprise_enabled, created_at, updated_at
		FROM instances WHERE uuid = ?
	`, uuid)
	return scanInstance(row)
}

// ListInstances returns all enrolled instances ordered by name.
func (d *DB) ListInstances() ([]*Instance, error) {
	rows, err := d.db.Query(`
		SELECT id, uuid, name, url, proxy_url, username, token, disable_all_traffic, enterprise_enabled, created_at, updated_at
		FROM instances ORDER BY name
	`)
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "list instances", err)
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstanceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// DeleteInstance removes an instance and, via ON DELETE CASCADE, its
// locations and key pair.
func (d *DB) DeleteInstance(id int64) error {
	res, err := d.db.Exec(`DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(errors.KindDatabase, "delete instance", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.NotFound("instance not found")
	}
	return nil
}

func scanInstance(row *sql.Row) (*Instance, error) {
	inst := &Instance{}
	var createdStr, updatedStr string
	err := row.Scan(&inst.ID, &inst.UUID, &inst.Name, &inst.URL, &inst.ProxyURL, &inst.Username,
		&inst.Token, &inst.DisableAllTraffic, &inst.EnterpriseEnabled, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("instance not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "scan instance", err)
	}
	inst.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	inst.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return inst, nil
}

func scanInstanceRow(rows *sql.Rows) (*Instance, error) {
	inst := &Instance{}
	var createdStr, updatedStr string
	err := rows.Scan(&inst.ID, &inst.UUID, &inst.Name, &inst.URL, &inst.ProxyURL, &inst.Username,
		&inst.Token, &inst.DisableAllTraffic, &inst.EnterpriseEnabled, &createdStr, &updatedStr)
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "scan instance row", err)
	}
	inst.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	inst.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return inst, nil
}
