// Package servicelocation implements the Service-Location Manager (§4.G):
// the privileged component, hosted inside the Interface Daemon process,
// that keeps pre-logon and always-on tunnels up outside any user session.
// Grounded on the original client's enterprise/service_locations module,
// generalized from its Windows-specific WGApi/proto::ServiceLocation
// plumbing to the daemon's own wgiface.Manager and store types.
package servicelocation

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/defguard/client/internal/errors"
	"github.com/defguard/client/internal/secrets"
	"github.com/defguard/client/internal/store"
)

// ServiceLocation is one tunnel a service-location instance file drives —
// the fields Connect needs that don't live in the Store, since the Store
// is never read by this manager (it runs without a signed-in user).
type ServiceLocation struct {
	Name              string                   `json:"name"`
	Address           string                   `json:"address"`
	Pubkey            string                   `json:"pubkey"`
	Endpoint          string                   `json:"endpoint"`
	AllowedIPs        string                   `json:"allowed_ips"`
	DNS               string                   `json:"dns"`
	KeepaliveInterval int                      `json:"keepalive_interval"`
	Mode              store.ServiceLocationMode `json:"mode"`
}

// InstanceRecord is the in-memory form of the `{instance_uuid}.json` file:
// one per enrolled Instance that has at least one service location. On
// disk PrivateKey is AES-256-GCM ciphertext, not plaintext (onDiskRecord
// below) -- ACLs restrict the file to Local System/Administrators (or
// root), but encrypting the key too means a copied-out file is useless
// without the daemon's master key as well (§4.G, §4.A's secrets.Store).
type InstanceRecord struct {
	InstanceUUID     string            `json:"instance_uuid"`
	PrivateKey       string            `json:"private_key"`
	ServiceLocations []ServiceLocation `json:"service_locations"`
}

// onDiskRecord is InstanceRecord's on-disk encoding: PrivateKey replaced
// with its encrypted form. A []byte field marshals to a base64 JSON
// string, so the file format is still plain JSON.
type onDiskRecord struct {
	InstanceUUID     string            `json:"instance_uuid"`
	PrivateKey       []byte            `json:"private_key"`
	ServiceLocations []ServiceLocation `json:"service_locations"`
}

// ConnectedEntry is one row of `connected.json`: an instance/pubkey pair
// currently driven by this manager.
type ConnectedEntry struct {
	InstanceUUID   string `json:"instance_uuid"`
	LocationPubkey string `json:"location_pubkey"`
}

func instanceRecordPath(dataDir, instanceUUID string) string {
	return filepath.Join(dataDir, instanceUUID+".json")
}

func connectedPath(dataDir string) string {
	return filepath.Join(dataDir, "connected.json")
}

// readInstanceRecord loads `{instance_uuid}.json`, or (nil, nil) if it
// doesn't exist — an instance with no service locations never gets one.
func readInstanceRecord(dataDir string, secretStore *secrets.Store, instanceUUID string) (*InstanceRecord, error) {
	b, err := os.ReadFile(instanceRecordPath(dataDir, instanceUUID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindIO, "read instance record", err)
	}
	var onDisk onDiskRecord
	if err := json.Unmarshal(b, &onDisk); err != nil {
		return nil, errors.Wrap(errors.KindJSON, "decode instance record", err)
	}
	privateKey, err := secretStore.DecryptString(onDisk.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "decrypt instance record private key", err)
	}
	return &InstanceRecord{
		InstanceUUID:     onDisk.InstanceUUID,
		PrivateKey:       privateKey,
		ServiceLocations: onDisk.ServiceLocations,
	}, nil
}

// writeInstanceRecord persists `{instance_uuid}.json` and reapplies the
// service ACL to that file — every write re-applies ACLs per spec.md §4.G.
func writeInstanceRecord(dataDir string, secretStore *secrets.Store, rec *InstanceRecord) error {
	ciphertext, err := secretStore.EncryptString(rec.PrivateKey)
	if err != nil {
		return errors.Wrap(errors.KindInternal, "encrypt instance record private key", err)
	}
	onDisk := onDiskRecord{
		InstanceUUID:     rec.InstanceUUID,
		PrivateKey:       ciphertext,
		ServiceLocations: rec.ServiceLocations,
	}
	b, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindJSON, "encode instance record", err)
	}
	path := instanceRecordPath(dataDir, rec.InstanceUUID)
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return errors.Wrap(errors.KindIO, "write instance record", err)
	}
	return applyACL(path)
}

func listInstanceUUIDs(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, errors.Wrap(errors.KindIO, "list service data dir", err)
	}
	var uuids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" || name == "connected.json" {
			continue
		}
		uuids = append(uuids, name[:len(name)-len(".json")])
	}
	return uuids, nil
}

// readConnected loads `connected.json`, or an empty list if it doesn't
// exist yet (first run).
func readConnected(dataDir string) ([]ConnectedEntry, error) {
	b, err := os.ReadFile(connectedPath(dataDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindIO, "read connected.json", err)
	}
	var entries []ConnectedEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, errors.Wrap(errors.KindJSON, "decode connected.json", err)
	}
	return entries, nil
}

// writeConnected persists `connected.json` and reapplies ACLs. Callers
// write-through this before updating the in-process cache (§5: "writes to
// connected.json are disk-first, then the cache").
func writeConnected(dataDir string, entries []ConnectedEntry) error {
	if entries == nil {
		entries = []ConnectedEntry{}
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindJSON, "encode connected.json", err)
	}
	path := connectedPath(dataDir)
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return errors.Wrap(errors.KindIO, "write connected.json", err)
	}
	return applyACL(path)
}
