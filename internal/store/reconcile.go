package store

import (
	"database/sql"
	"time"

	"github.com/defguard/client/internal/errors"
)

// ApplyInstanceUpdate persists a changed Instance and a location add/update/
// remove set inside one transaction — the Config Poller's only write path
// into the store (§4.E step 5, §4.A invariant 4: a crash never leaves a
// half-applied poll result). infoChanged controls whether inst itself is
// written; upserts and deletes may be empty. Each Location in upserts
// updates the row with the same (instance_id, network_id), or is inserted
// when there is none; its ID field is not read. When clearRouteAllTraffic
// is set, route_all_traffic is forced to false on every remaining Location
// of the instance — the
// cascade spec.md §4.E step 5 requires when disable_all_traffic just
// became true.
func (d *DB) ApplyInstanceUpdate(inst *Instance, infoChanged bool, upserts []*Location, deletes []int64, clearRouteAllTraffic bool) error {
	return d.WithTx(func(tx *sql.Tx) error {
		if infoChanged {
			now := time.Now().Format(time.RFC3339)
			if _, err := tx.Exec(`
				UPDATE instances SET name = ?, url = ?, username = ?, token = ?,
					disable_all_traffic = ?, enterprise_enabled = ?, updated_at = ?
				WHERE id = ?
			`, inst.Name, inst.URL, inst.Username, inst.Token, inst.DisableAllTraffic, inst.EnterpriseEnabled, now, inst.ID); err != nil {
				return errors.Wrap(errors.KindDatabase, "update instance", err)
			}
		}

		for _, loc := range upserts {
			if _, err := tx.Exec(`
				INSERT INTO locations (instance_id, network_id, name, address, peer_pubkey, endpoint, allowed_ips, dns, keepalive_interval, location_mfa_mode)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(instance_id, network_id) DO UPDATE SET
					name = excluded.name,
					address = excluded.address,
					peer_pubkey = excluded.peer_pubkey,
					endpoint = excluded.endpoint,
					allowed_ips = excluded.allowed_ips,
					dns = excluded.dns,
					keepalive_interval = excluded.keepalive_interval,
					location_mfa_mode = excluded.location_mfa_mode
			`, loc.InstanceID, loc.NetworkID, loc.Name, loc.Address, loc.PeerPubKey, loc.Endpoint,
				loc.AllowedIPs, loc.DNS, loc.KeepaliveInterval, int(loc.MFAMode)); err != nil {
				return errors.Wrap(errors.KindDatabase, "upsert location", err)
			}
		}

		for _, id := range deletes {
			if _, err := tx.Exec(`DELETE FROM locations WHERE id = ?`, id); err != nil {
				return errors.Wrap(errors.KindDatabase, "delete stale location", err)
			}
		}

		if clearRouteAllTraffic {
			if _, err := tx.Exec(`UPDATE locations SET route_all_traffic = 0 WHERE instance_id = ?`, inst.ID); err != nil {
				return errors.Wrap(errors.KindDatabase, "clear route_all_traffic", err)
			}
		}
		return nil
	})
}

// CreateEnrolledInstance persists a freshly-enrolled Instance, its
// generated KeyPair, and exactly one Location inside a single transaction
// -- the Enrollment Client's only write path (spec.md 4.H: "persisted via
// one transaction"). Unlike ApplyInstanceUpdate/SaveInstance this always
// inserts fresh rows; an instance UUID collision is a caller error, not a
// merge case, since enrollment only ever produces new instances.
func (d *DB) CreateEnrolledInstance(inst *Instance, kp *KeyPair, loc *Location) (instanceID int64, err error) {
	err = d.WithTx(func(tx *sql.Tx) error {
		now := time.Now().Format(time.RFC3339)
		res, err := tx.Exec(`
			INSERT INTO instances (uuid, name, url, proxy_url, username, token, disable_all_traffic, enterprise_enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, inst.UUID, inst.Name, inst.URL, inst.ProxyURL, inst.Username, inst.Token, inst.DisableAllTraffic, inst.EnterpriseEnabled, now, now)
		if err != nil {
			return errors.Wrap(errors.KindDatabase, "insert enrolled instance", err)
		}
		instanceID, err = res.LastInsertId()
		if err != nil {
			return errors.Wrap(errors.KindDatabase, "read enrolled instance id", err)
		}

		if _, err := tx.Exec(`
			INSERT INTO key_pairs (instance_id, private_key, public_key)
			VALUES (?, ?, ?)
		`, instanceID, kp.PrivateKey, kp.PublicKey); err != nil {
			return errors.Wrap(errors.KindDatabase, "insert enrolled key pair", err)
		}

		if _, err := tx.Exec(`
			INSERT INTO locations (instance_id, network_id, name, address, peer_pubkey, endpoint, allowed_ips, dns, keepalive_interval, location_mfa_mode, service_location_mode)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, instanceID, loc.NetworkID, loc.Name, loc.Address, loc.PeerPubKey, loc.Endpoint, loc.AllowedIPs, loc.DNS,
			loc.KeepaliveInterval, int(loc.MFAMode), int(loc.ServiceLocationMode)); err != nil {
			return errors.Wrap(errors.KindDatabase, "insert enrolled location", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return instanceID, nil
}
