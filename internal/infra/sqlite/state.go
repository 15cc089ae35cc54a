package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atlasbms/atlas/internal/control/leadlag"
)

// Snapshot keys. The control-state image and the lead-lag group image are
// saved separately so either can be restored alone.
const (
	SnapshotControlState = "control-state"
	SnapshotLeadLag      = "leadlag-groups"
)

// ─── State Snapshots ────────────────────────────────────────────────────────

// SaveSnapshot stores a serialised state image under the key.
func (d *DB) SaveSnapshot(key string, payload []byte) error {
	_, err := d.db.Exec(`
		INSERT INTO state_snapshots (key, payload, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		key, string(payload), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}

// LoadSnapshot returns the stored image, or (nil, false) when absent.
func (d *DB) LoadSnapshot(key string) ([]byte, bool, error) {
	var payload string
	row := d.db.QueryRow(`SELECT payload FROM state_snapshots WHERE key = ?`, key)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	return []byte(payload), true, nil
}

// ─── Lead-Lag Event Audit ───────────────────────────────────────────────────

// RecordLeadLagEvent implements leadlag.EventSink.
func (d *DB) RecordLeadLagEvent(ev leadlag.Event) error {
	_, err := d.db.Exec(`
		INSERT INTO leadlag_events (id, group_id, kind, from_id, to_id, reason, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.GroupID, string(ev.Kind), ev.FromID, ev.ToID, ev.Reason, ev.At.UnixNano())
	if err != nil {
		return fmt.Errorf("record leadlag event: %w", err)
	}
	return nil
}

// RecentLeadLagEvents returns the newest events for one group, or for all
// groups when groupID is empty.
func (d *DB) RecentLeadLagEvents(groupID string, limit int) ([]leadlag.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, group_id, kind, from_id, to_id, reason, at FROM leadlag_events`
	args := []any{}
	if groupID != "" {
		q += ` WHERE group_id = ?`
		args = append(args, groupID)
	}
	q += ` ORDER BY at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list leadlag events: %w", err)
	}
	defer rows.Close()

	var out []leadlag.Event
	for rows.Next() {
		var ev leadlag.Event
		var kind string
		var at int64
		if err := rows.Scan(&ev.ID, &ev.GroupID, &kind, &ev.FromID, &ev.ToID, &ev.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan leadlag event: %w", err)
		}
		ev.Kind = leadlag.EventKind(kind)
		ev.At = time.Unix(0, at)
		out = append(out, ev)
	}
	return out, rows.Err()
}
