package store

import "github.com/defguard/client/internal/errors"

// Settings is the single-row client configuration persisted alongside the
// rest of the store (§3). A row with id=1 is seeded by the migration, so
// GetSettings always succeeds once the database has been opened.
type Settings struct {
	Theme               string
	LogLevel            string
	TrayIconTheme       string
	CheckForUpdates     bool
	PeerAlivePeriod     int
	StatsRetentionHours int
}

// GetSettings returns the singleton settings row.
func (d *DB) GetSettings() (*Settings, error) {
	row := d.db.QueryRow(`
		SELECT theme, log_level, tray_icon_theme, check_for_updates, peer_alive_period, stats_retention_hours
		FROM settings WHERE id = 1
	`)

	s := &Settings{}
	if err := row.Scan(&s.Theme, &s.LogLevel, &s.TrayIconTheme, &s.CheckForUpdates, &s.PeerAlivePeriod, &s.StatsRetentionHours); err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "get settings", err)
	}
	return s, nil
}

// SaveSettings overwrites the singleton settings row.
func (d *DB) SaveSettings(s *Settings) error {
	_, err := d.db.Exec(`
		UPDATE settings SET theme = ?, log_level = ?, tray_icon_theme = ?, check_for_updates = ?, peer_alive_period = ?, stats_retention_hours = ?
		WHERE id = 1
	`, s.Theme, s.LogLevel, s.TrayIconTheme, s.CheckForUpdates, s.PeerAlivePeriod, s.StatsRetentionHours)
	if err != nil {
		return errors.Wrap(errors.KindDatabase, "save settings", err)
	}
	return nil
}
