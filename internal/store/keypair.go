package store

import (
	"database/sql"

	"github.com/defguard/client/internal/errors"
)

// KeyPair is the WireGuard private/public key pair generated for a single
// Instance (§3). Exactly one key pair exists per instance — a new
// enrollment replaces it rather than accumulating rows.
type KeyPair struct {
	ID         int64
	InstanceID int64
	PrivateKey string // base64, WireGuard wire form
	PublicKey  string // base64, derived from PrivateKey
}

// SaveKeyPair inserts or replaces the key pair for an instance.
func (d *DB) SaveKeyPair(kp *KeyPair) (int64, error) {
	res, err := d.db.Exec(`
		INSERT INTO key_pairs (instance_id, private_key, public_key)
		VALUES (?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			private_key = excluded.private_key,
			public_key = excluded.public_key
	`, kp.InstanceID, kp.PrivateKey, kp.PublicKey)
	if err != nil {
		return 0, errors.Wrap(errors.KindDatabase, "save key pair", err)
	}

	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	existing, err := d.GetKeyPairByInstance(kp.InstanceID)
	if err != nil {
		return 0, err
	}
	return existing.ID, nil
}

// GetKeyPairByInstance returns the key pair belonging to an instance.
func (d *DB) GetKeyPairByInstance(instanceID int64) (*KeyPair, error) {
	row := d.db.QueryRow(`
		SELECT id, instance_id, private_key, public_key FROM key_pairs WHERE instance_id = ?
	`, instanceID)

	kp := &KeyPair{}
	err := row.Scan(&kp.ID, &kp.InstanceID, &kp.PrivateKey, &kp.PublicKey)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("key pair not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "scan key pair", err)
	}
	return kp, nil
}

// DeleteKeyPair removes the key pair for an instance.
func (d *DB) DeleteKeyPair(instanceID int64) error {
	res, err := d.db.Exec(`DELETE FROM key_pairs WHERE instance_id = ?`, instanceID)
	if err != nil {
		return errors.Wrap(errors.KindDatabase, "delete key pair", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.NotFound("key pair not found")
	}
	return nil
}
