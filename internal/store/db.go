// Package store implements the Persistent Store (§4.A): embedded relational
// storage for instances, locations, tunnels, key pairs, connection history,
// per-second statistics, and settings. Grounded on the teacher's
// internal/registry package — modernc.org/sqlite (pure Go, no cgo), WAL
// journaling, and an idempotent CREATE TABLE IF NOT EXISTS migration run at
// Open time.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/defguard/client/internal/errors"
)

// DB wraps the SQLite database backing the client core.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path, enabling WAL
// journaling and incremental vacuum (§4.A), then runs migrations.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(errors.KindIO, "create database directory", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "open database", err)
	}

	// A single file-backed SQLite connection serializes writers anyway;
	// keep one connection so WAL readers never race a mid-migration schema.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, errors.Wrap(errors.KindDatabase, fmt.Sprintf("set %s", pragma), err)
		}
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(errors.KindMigration, "migrate", err)
	}
	return d, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Vacuum runs an incremental vacuum pass, reclaiming freed pages.
func (d *DB) Vacuum() error {
	_, err := d.db.Exec("PRAGMA incremental_vacuum")
	if err != nil {
		return errors.Wrap(errors.KindDatabase, "incremental vacuum", err)
	}
	return nil
}

// WithTx runs fn inside an explicit transaction, committing on success and
// rolling back on any error or panic. Every multi-statement state change in
// the client core goes through WithTx so a crash never leaves half-updated
// rows (§4.A failure semantics, invariant 4 in §8).
func (d *DB) WithTx(fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.db.Begin()
	if err != nil {
		return errors.Wrap(errors.KindDatabase, "begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(errors.KindDatabase, "commit transaction", err)
	}
	return nil
}

func (d *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			id                   INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid                 TEXT NOT NULL UNIQUE,
			name                 TEXT NOT NULL,
			url                  TEXT NOT NULL,
			proxy_url            TEXT NOT NULL,
			username             TEXT NOT NULL DEFAULT '',
			token                TEXT,
			disable_all_traffic  INTEGER NOT NULL DEFAULT 0,
			enterprise_enabled   INTEGER NOT NULL DEFAULT 0,
			created_at           TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at           TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS key_pairs (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id  INTEGER NOT NULL UNIQUE REFERENCES instances(id) ON DELETE CASCADE,
			private_key  TEXT NOT NULL,
			public_key   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS locations (
			id                      INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id             INTEGER NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
			network_id              INTEGER NOT NULL,
			name                    TEXT NOT NULL,
			address                 TEXT NOT NULL,
			peer_pubkey             TEXT NOT NULL,
			endpoint                TEXT NOT NULL,
			allowed_ips             TEXT NOT NULL DEFAULT '',
			dns                     TEXT NOT NULL DEFAULT '',
			route_all_traffic       INTEGER NOT NULL DEFAULT 0,
			keepalive_interval      INTEGER NOT NULL DEFAULT 25,
			location_mfa_mode       INTEGER NOT NULL DEFAULT 0,
			service_location_mode   INTEGER NOT NULL DEFAULT 0,
			UNIQUE(instance_id, network_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tunnels (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			name                TEXT NOT NULL,
			private_key         TEXT NOT NULL,
			address             TEXT NOT NULL,
			peer_pubkey         TEXT NOT NULL,
			preshared_key       TEXT NOT NULL DEFAULT '',
			endpoint            TEXT NOT NULL,
			allowed_ips         TEXT NOT NULL DEFAULT '',
			dns                 TEXT NOT NULL DEFAULT '',
			route_all_traffic   INTEGER NOT NULL DEFAULT 0,
			keepalive_interval  INTEGER NOT NULL DEFAULT 25,
			pre_up              TEXT NOT NULL DEFAULT '',
			post_up             TEXT NOT NULL DEFAULT '',
			pre_down            TEXT NOT NULL DEFAULT '',
			post_down           TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS connection_history (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id       INTEGER NOT NULL,
			kind            INTEGER NOT NULL,
			connected_from  TEXT NOT NULL DEFAULT '',
			start           TEXT NOT NULL,
			end             TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS stats_samples (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id       INTEGER NOT NULL,
			kind            INTEGER NOT NULL,
			collected_at    TEXT NOT NULL,
			upload          INTEGER NOT NULL DEFAULT 0,
			download        INTEGER NOT NULL DEFAULT 0,
			last_handshake  INTEGER NOT NULL DEFAULT 0,
			listen_port     INTEGER NOT NULL DEFAULT 0,
			keepalive       INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stats_entity ON stats_samples(entity_id, kind, collected_at)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id                  INTEGER PRIMARY KEY CHECK (id = 1),
			theme               TEXT NOT NULL DEFAULT 'light',
			log_level           TEXT NOT NULL DEFAULT 'info',
			tray_icon_theme     TEXT NOT NULL DEFAULT 'color',
			check_for_updates   INTEGER NOT NULL DEFAULT 1,
			peer_alive_period   INTEGER NOT NULL DEFAULT 300,
			stats_retention_hours INTEGER NOT NULL DEFAULT 720
		)`,
		`INSERT OR IGNORE INTO settings (id) VALUES (1)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration statement: %w", err)
		}
	}
	return nil
}
