package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AppliedUnit is a ledger row: one unit applied on behalf of a partner.
type AppliedUnit struct {
	Partner string `json:"partner"`
	UnitID  string `json:"unit_id"`
	DN      string `json:"dn"`
	USN     int64  `json:"usn"`
	Op      string `json:"op"`
	BatchID string `json:"batch_id"`
	Seq     int64  `json:"seq"`
}

// PartnerCursor is the highest replication position fully applied for a partner.
type PartnerCursor struct {
	Partner    string `json:"partner"`
	Cursor     int64  `json:"cursor"`
	UpdatedSeq int64  `json:"updated_seq"`
}

// IsUnitApplied reports whether the ledger holds unitID for partner.
func (s *Store) IsUnitApplied(ctx context.Context, partner, unitID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM applied_units WHERE partner = ? AND unit_id = ?
	`, partner, unitID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is unit applied: %w", err)
	}
	return true, nil
}

// MarkUnitApplied records u in the ledger.
// Uses ON CONFLICT DO NOTHING for idempotency; inserted is false when the unit
// was already recorded.
func (s *Store) MarkUnitApplied(ctx context.Context, u AppliedUnit) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO applied_units (partner, unit_id, dn, usn, op, batch_id, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(partner, unit_id) DO NOTHING
	`, u.Partner, u.UnitID, u.DN, u.USN, u.Op, u.BatchID, u.Seq)
	if err != nil {
		return false, fmt.Errorf("mark unit applied: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark unit applied: %w", err)
	}
	return n > 0, nil
}

// AppliedUnits returns the ledger for partner in application order.
// An empty partner returns the ledger of every partner.
func (s *Store) AppliedUnits(ctx context.Context, partner string) ([]AppliedUnit, error) {
	query := `
		SELECT partner, unit_id, dn, usn, op, batch_id, seq
		FROM applied_units`
	var args []any
	if partner != "" {
		query += ` WHERE partner = ?`
		args = append(args, partner)
	}
	query += ` ORDER BY seq ASC, unit_id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query applied units: %w", err)
	}
	defer rows.Close()

	units := []AppliedUnit{}
	for rows.Next() {
		var u AppliedUnit
		if err := rows.Scan(&u.Partner, &u.UnitID, &u.DN, &u.USN, &u.Op, &u.BatchID, &u.Seq); err != nil {
			return nil, fmt.Errorf("scan applied unit: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied units: %w", err)
	}
	return units, nil
}

// AdvanceCursor raises partner's cursor to cursor. A lower value never moves
// the cursor backwards.
func (s *Store) AdvanceCursor(ctx context.Context, partner string, cursor, seq int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO partner_cursors (partner, position, updated_seq)
		VALUES (?, ?, ?)
		ON CONFLICT(partner) DO UPDATE SET
			position = MAX(position, excluded.position),
			updated_seq = CASE WHEN excluded.position > position THEN excluded.updated_seq ELSE updated_seq END
	`, partner, cursor, seq)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", classify(err))
	}
	return nil
}

// Cursor returns partner's cursor. ok is false when nothing has been applied
// for partner yet.
func (s *Store) Cursor(ctx context.Context, partner string) (cursor int64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT position FROM partner_cursors WHERE partner = ?
	`, partner).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get cursor: %w", err)
	}
	return cursor, true, nil
}

// ListCursors returns every partner cursor ordered by partner.
func (s *Store) ListCursors(ctx context.Context) ([]PartnerCursor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT partner, position, updated_seq
		FROM partner_cursors
		ORDER BY partner COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query cursors: %w", err)
	}
	defer rows.Close()

	cursors := []PartnerCursor{}
	for rows.Next() {
		var c PartnerCursor
		if err := rows.Scan(&c.Partner, &c.Cursor, &c.UpdatedSeq); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		cursors = append(cursors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cursors: %w", err)
	}
	return cursors, nil
}
