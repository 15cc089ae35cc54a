package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atlasbms/atlas/internal/domain"
)

// ─── Equipment Metadata Repository ──────────────────────────────────────────

// UpsertEquipment inserts or updates one roster entry.
func (d *DB) UpsertEquipment(e domain.Equipment) error {
	_, err := d.db.Exec(`
		INSERT INTO equipment (id, name, type, location_id, group_id, subrole, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			location_id = excluded.location_id,
			group_id = excluded.group_id,
			subrole = excluded.subrole,
			updated_at = excluded.updated_at`,
		e.ID, e.Name, string(e.Type), e.LocationID, e.GroupID, e.Subrole,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert equipment %s: %w", e.ID, err)
	}
	return nil
}

// GetEquipment resolves an equipment id, following the alias table for
// historical misspellings. The second return reports whether an alias was
// followed, so the caller can log the correction.
func (d *DB) GetEquipment(id string) (domain.Equipment, bool, error) {
	e, err := d.getEquipmentExact(id)
	if err == nil {
		return e, false, nil
	}
	if !errors.Is(err, domain.ErrUnknownEquipment) {
		return domain.Equipment{}, false, err
	}

	var canonical string
	row := d.db.QueryRow(`SELECT equipment_id FROM equipment_aliases WHERE alias = ?`, id)
	if err := row.Scan(&canonical); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Equipment{}, false, fmt.Errorf("equipment %s: %w", id, domain.ErrUnknownEquipment)
		}
		return domain.Equipment{}, false, fmt.Errorf("alias lookup %s: %w", id, err)
	}
	e, err = d.getEquipmentExact(canonical)
	if err != nil {
		return domain.Equipment{}, false, err
	}
	return e, true, nil
}

func (d *DB) getEquipmentExact(id string) (domain.Equipment, error) {
	row := d.db.QueryRow(`
		SELECT id, name, type, location_id, group_id, subrole
		FROM equipment WHERE id = ?`, id)

	var e domain.Equipment
	var typ string
	if err := row.Scan(&e.ID, &e.Name, &typ, &e.LocationID, &e.GroupID, &e.Subrole); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Equipment{}, fmt.Errorf("equipment %s: %w", id, domain.ErrUnknownEquipment)
		}
		return domain.Equipment{}, fmt.Errorf("get equipment %s: %w", id, err)
	}
	e.Type = domain.EquipmentType(typ)
	return e, nil
}

// ListEquipment returns the roster for one location and type. An empty
// type lists the whole location.
func (d *DB) ListEquipment(locationID string, typ domain.EquipmentType) ([]domain.Equipment, error) {
	q := `SELECT id, name, type, location_id, group_id, subrole FROM equipment WHERE location_id = ?`
	args := []any{locationID}
	if typ != "" {
		q += ` AND type = ?`
		args = append(args, string(typ))
	}
	q += ` ORDER BY id`

	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list equipment: %w", err)
	}
	defer rows.Close()

	var out []domain.Equipment
	for rows.Next() {
		var e domain.Equipment
		var t string
		if err := rows.Scan(&e.ID, &e.Name, &t, &e.LocationID, &e.GroupID, &e.Subrole); err != nil {
			return nil, fmt.Errorf("scan equipment: %w", err)
		}
		e.Type = domain.EquipmentType(t)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddAlias records a historical misspelling of an equipment id.
func (d *DB) AddAlias(alias, equipmentID string) error {
	_, err := d.db.Exec(`
		INSERT INTO equipment_aliases (alias, equipment_id) VALUES (?, ?)
		ON CONFLICT(alias) DO UPDATE SET equipment_id = excluded.equipment_id`,
		alias, equipmentID)
	if err != nil {
		return fmt.Errorf("add alias %s: %w", alias, err)
	}
	return nil
}
