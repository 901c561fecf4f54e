package store

import (
	"context"
	"fmt"

	"github.com/roach88/dirrepl/internal/dispatch"
	"github.com/roach88/dirrepl/internal/ir"
)

// GetEntry retrieves an entry, live or tombstone, by DN.
// Returns dispatch.ErrNoSuchEntry if not found.
func (s *Store) GetEntry(ctx context.Context, dn string) (ir.Entry, error) {
	row, err := resolve(ctx, s.db, dispatch.Identity{DN: dn}, false)
	if err != nil {
		return ir.Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return row.entry, nil
}

// ListEntries returns every entry ordered by normalized DN.
// Returns an empty slice (not nil) when the store holds no entries.
func (s *Store) ListEntries(ctx context.Context) ([]ir.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		ORDER BY dn_norm COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []ir.Entry{}
	for rows.Next() {
		row, err := scanEntryRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, row.entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// AttributeMetadata returns the stored attribute metadata of the entry at dn,
// ordered by attribute name.
func (s *Store) AttributeMetadata(ctx context.Context, dn string) ([]ir.AttributeMetadata, error) {
	row, err := resolve(ctx, s.db, dispatch.Identity{DN: dn}, false)
	if err != nil {
		return nil, fmt.Errorf("attribute metadata: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT attr, stamp FROM attr_metadata
		WHERE entry_id = ?
		ORDER BY attr_fold COLLATE BINARY ASC
	`, row.id)
	if err != nil {
		return nil, fmt.Errorf("query attribute metadata: %w", err)
	}
	defer rows.Close()

	var out []ir.AttributeMetadata
	for rows.Next() {
		var attr, raw string
		if err := rows.Scan(&attr, &raw); err != nil {
			return nil, fmt.Errorf("scan attribute metadata: %w", err)
		}
		st, err := ir.ParseStamp(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ir.AttributeMetadata{Attr: attr, Stamp: st})
	}
	return out, rows.Err()
}

// ValueMetadata returns the stored value metadata of the entry at dn,
// ordered by attribute then value.
func (s *Store) ValueMetadata(ctx context.Context, dn string) ([]ir.ValueMetadata, error) {
	row, err := resolve(ctx, s.db, dispatch.Identity{DN: dn}, false)
	if err != nil {
		return nil, fmt.Errorf("value metadata: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM value_metadata
		WHERE entry_id = ?
		ORDER BY attr_fold COLLATE BINARY ASC, value COLLATE BINARY ASC
	`, row.id)
	if err != nil {
		return nil, fmt.Errorf("query value metadata: %w", err)
	}
	defer rows.Close()

	var out []ir.ValueMetadata
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan value metadata: %w", err)
		}
		vm, err := ir.ParseValueMetadata(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, vm)
	}
	return out, rows.Err()
}
