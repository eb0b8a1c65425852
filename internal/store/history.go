package store

import (
	"database/sql"
	"time"

	"github.com/defguard/client/internal/errors"
)

// ConnectionHistory records one connect/disconnect span for a Location or
// Tunnel (§3), keyed by (EntityID, Kind) since the two id spaces overlap.
type ConnectionHistory struct {
	ID            int64
	EntityID      int64
	Kind          ConnectionKind
	ConnectedFrom string
	Start         time.Time
	End           *time.Time
}

// BeginConnectionHistory records the start of a new connection span.
func (d *DB) BeginConnectionHistory(entityID int64, kind ConnectionKind, connectedFrom string) (int64, error) {
	res, err := d.db.Exec(`
		INSERT INTO connection_history (entity_id, kind, connected_from, start)
		VALUES (?, ?, ?, ?)
	`, entityID, int(kind), connectedFrom, time.Now().Format(time.RFC3339))
	if err != nil {
		return 0, errors.Wrap(errors.KindDatabase, "begin connection history", err)
	}
	return res.LastInsertId()
}

// EndConnectionHistory stamps the end time of a connection span.
func (d *DB) EndConnectionHistory(id int64) error {
	res, err := d.db.Exec(`UPDATE connection_history SET end = ? WHERE id = ? AND end IS NULL`,
		time.Now().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrap(errors.KindDatabase, "end connection history", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.NotFound("open connection history entry not found")
	}
	return nil
}

// ListConnectionHistory returns history entries for an entity, most recent first.
func (d *DB) ListConnectionHistory(entityID int64, kind ConnectionKind, limit int) ([]*ConnectionHistory, error) {
	rows, err := d.db.Query(`
		SELECT id, entity_id, kind, connected_from, start, end
		FROM connection_history
		WHERE entity_id = ? AND kind = ?
		ORDER BY start DESC
		LIMIT ?
	`, entityID, int(kind), limit)
	if err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "list connection history", err)
	}
	defer rows.Close()

	var out []*ConnectionHistory
	for rows.Next() {
		h, err := scanConnectionHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanConnectionHistory(rows *sql.Rows) (*ConnectionHistory, error) {
	h := &ConnectionHistory{}
	var kind int
	var startStr string
	var endStr sql.NullString
	if err := rows.Scan(&h.ID, &h.EntityID, &kind, &h.ConnectedFrom, &startStr, &endStr); err != nil {
		return nil, errors.Wrap(errors.KindDatabase, "scan connection history", err)
	}
	h.Kind = ConnectionKind(kind)
	h.Start, _ = time.Parse(time.RFC3339, startStr)
	if endStr.Valid {
		t, _ := time.Parse(time.RFC3339, endStr.String)
		h.End = &t
	}
	return h, nil
}
