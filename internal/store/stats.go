package store

import (
	"database/sql"
	"time"

	"github.com/defguard/client/internal/errors"
)

// StatsSample is one interface-reading sample for a Location or Tunnel
// (§3), keyed by (EntityID, Kind, CollectedAt). Deltas (bytes transferred
// since the previous sample) are derived on read, not stored, so a counter
// reset on the WireGuard interface never corrupts history.
type StatsSample struct {
	ID            int64
	EntityID      int64
	Kind          ConnectionKind
	CollectedAt   time.Time
	Upload        uint64
	Download      uint64
	LastHandshake uint64
	ListenPort    uint32
	Keepalive     int
}

// AddStatsSample appends one sample row.
func (d *DB) AddStatsSample(s *StatsSample) (int64, error) {
	res, err := d.db.Exec(`
		INSERT INTO stats_samples (entity_id, kind, collected_at, upload, download, last_handshake, listen_port, keepalive)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.EntityID, int(s.Kind), s.CollectedAt.Format(time.RFC3339), s.Upload, s.Download, s.LastHandshake, s.ListenPort, s.Keepalive)
	if err != nil {
		return 0, errors.Wrap(errors.KindDatabase, "add stats sample", err)
	}
	return res.LastInsertId()
}

// LatestStatByEntity returns the most recent sample for an entity, or
// (nil, nil) if none exists yet.
func (d *DB) LatestStatByEntity(entityID int64, kind ConnectionKind) (*StatsSample, error) {
	row := d.db.QueryRow(`
		SELECT id, entity_id, kind, collected_at, upload, download, last_handshake, listen_port, keepalive
		FROM stats_samples WHERE entity_id = ? AND kind = ?
		ORDER BY collected_at DESC LIMIT 1
	`, entityID, int(kind))
	s, err := scanStatsSample(row)
	if errors.Is(err, errors.KindNotFound) {
		return nil, nil
	}
	return s, err
}

// StatDelta is a sample paired with the traffic delta since the previous
// sample for the same entity, clamped at zero across counter resets.
type StatDelta struct {
	Sample          StatsSample
	UploadDelta     uint64
	DownloadDelta   uint64
}

// StatsInRange returns samples for (entity, kind) with start >= from,
// bucketed by aggregation: "hour" truncates collected_at to the hour,
// keeping the last sample per bucket; "second" returns every raw sample.
// Deltas are computed against each entity's immediately preceding sample.
func (d *DB) StatsInRange(entityID int64, kind ConnectionKind, from time.Time, aggregation string) ([]StatDelta, error) {
	if aggregation != "second" && aggregation != "hour" {
		return nil, errors.New(errors.KindInternal, "aggregation must be \"second\" or \"hour\"")
	}

	// Pull one extra sample strictly before `from` to seed the first delta.
	prevRow := d.db.QueryRow(`
		SELECT id, entity_id, kind, collected_at, upload, download, last_handshake, listen_port, keepalive
		FROM stats_samples WHERE entity_id = ? AND kind = ? AND collected_at < ?
		ORDER BY collected_at DESC LIMIT 1
	`, entityID, int(kind), from.Format(time.RFC3339))
	prev, err := scanStatsSample(prevRow)
	if err != nil && !errors.Is(err, errors.KindNotFound) {
		return nil, err
	}

	rows, err := d.db.Query(`
		SELECT id, entity_id, kind, collected_at, upload, download, last_handshake, listen_port, keepalive
		FROM stats_samples WHERE entity_id = ? AND kind = ? AND collected_at >= ?
		ORDER BY collected_at ASC
	`, entityID, int(kind), from.Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "stats in range", err)
	}
	defer rows.Close()

	var raw []StatsSample
	for rows.Next() {
		s, err := scanStatsSampleRows(rows)
		if err != nil {
			return nil, err
		}
		raw = append(raw, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "stats in range", err)
	}

	deltas := make([]StatDelta, 0, len(raw))
	prevSample := prev
	for i := range raw {
		delta := StatDelta{Sample: raw[i]}
		if prevSample != nil {
			delta.UploadDelta = clampedDelta(raw[i].Upload, prevSample.Upload)
			delta.DownloadDelta = clampedDelta(raw[i].Download, prevSample.Download)
		} else {
			delta.UploadDelta = raw[i].Upload
			delta.DownloadDelta = raw[i].Download
		}
		deltas = append(deltas, delta)
		prevSample = &raw[i]
	}

	if aggregation == "second" {
		return deltas, nil
	}
	return bucketHourly(deltas), nil
}

// clampedDelta returns cur-prev, or cur if the counter rolled back
// (interface restart) so the result never goes negative.
func clampedDelta(cur, prev uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}

// bucketHourly collapses a time-ordered delta series to one entry per
// hour, keeping the last sample in each bucket and summing deltas within it.
func bucketHourly(deltas []StatDelta) []StatDelta {
	if len(deltas) == 0 {
		return deltas
	}

	var out []StatDelta
	bucketStart := deltas[0].Sample.CollectedAt.Truncate(time.Hour)
	acc := StatDelta{Sample: deltas[0].Sample}

	flush := func() { out = append(out, acc) }

	for i, d := range deltas {
		bucket := d.Sample.CollectedAt.Truncate(time.Hour)
		if i == 0 {
			acc = d
			continue
		}
		if bucket != bucketStart {
			flush()
			bucketStart = bucket
			acc = d
			continue
		}
		acc.Sample = d.Sample
		acc.UploadDelta += d.UploadDelta
		acc.DownloadDelta += d.DownloadDelta
	}
	flush()
	return out
}

// LatestInboundTrafficSample returns the most recent sample whose download
// counter differs from its immediate predecessor — proof of inbound
// traffic, the Liveness Supervisor's peer-alive check (§4.F step 1). Returns
// (nil, nil) if no such sample exists yet, including when fewer than two
// samples have been recorded at all.
func (d *DB) LatestInboundTrafficSample(entityID int64, kind ConnectionKind) (*StatsSample, error) {
	rows, err := d.db.Query(`
		SELECT id, entity_id, kind, collected_at, upload, download, last_handshake, listen_port, keepalive
		FROM stats_samples WHERE entity_id = ? AND kind = ?
		ORDER BY collected_at DESC LIMIT 200
	`, entityID, int(kind))
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "latest inbound traffic sample", err)
	}
	defer rows.Close()

	var samples []StatsSample
	for rows.Next() {
		s, err := scanStatsSampleRows(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "latest inbound traffic sample", err)
	}

	for i := 0; i+1 < len(samples); i++ {
		if samples[i].Download != samples[i+1].Download {
			return &samples[i], nil
		}
	}
	return nil, nil
}

// PurgeOldStats deletes stats_samples rows older than cutoff in a single
// transaction (§4.I purge loop).
func (d *DB) PurgeOldStats(cutoff time.Time) error {
	return d.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM stats_samples WHERE collected_at < ?`, cutoff.Format(time.RFC3339))
		if err != nil {
			return errors.Wrap(errors.KindDatabase, "purge old stats", err)
		}
		return nil
	})
}

func scanStatsSample(row *sql.Row) (*StatsSample, error) {
	s := &StatsSample{}
	var kind int
	var collectedStr string
	err := row.Scan(&s.ID, &s.EntityID, &kind, &collectedStr, &s.Upload, &s.Download, &s.LastHandshake, &s.ListenPort, &s.Keepalive)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("stats sample not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "scan stats sample", err)
	}
	s.Kind = ConnectionKind(kind)
	s.CollectedAt, _ = time.Parse(time.RFC3339, collectedStr)
	return s, nil
}

func scanStatsSampleRows(rows *sql.Rows) (*StatsSample, error) {
	s := &StatsSample{}
	var kind int
	var collectedStr string
	err := rows.Scan(&s.ID, &s.EntityID, &kind, &collectedStr, &s.Upload, &s.Download, &s.LastHandshake, &s.ListenPort, &s.Keepalive)
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "scan stats sample row", err)
	}
	s.Kind = ConnectionKind(kind)
	s.CollectedAt, _ = time.Parse(time.RFC3339, collectedStr)
	return s, nil
}
