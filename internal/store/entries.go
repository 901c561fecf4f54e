package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/dirrepl/internal/dispatch"
	"github.com/roach88/dirrepl/internal/ir"
)

var _ dispatch.Backend = (*Store)(nil)

// tombstoneAttrs are the attributes a tombstone keeps from its live entry.
var tombstoneAttrs = []string{ir.AttrObjectClass, ir.AttrObjectGUID, ir.AttrUSNChanged}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type entryRow struct {
	id      int64
	entry   ir.Entry
	guid    string
	deleted bool
}

const entryColumns = `id, dn, COALESCE(object_guid, ''), is_deleted, attributes`

func scanEntryRow(scan func(dest ...any) error) (*entryRow, error) {
	var (
		row       entryRow
		attrsJSON string
	)
	if err := scan(&row.id, &row.entry.DN, &row.guid, &row.deleted, &attrsJSON); err != nil {
		return nil, err
	}
	attrs, err := unmarshalAttributes(attrsJSON)
	if err != nil {
		return nil, err
	}
	row.entry.Attrs = attrs
	return &row, nil
}

// AddEntry creates entry with its attribute and value metadata.
//
// An Add whose objectGUID is already stored replays a creation this store has
// seen, relayed by another partner or rebuilt from a tombstone. On a live
// entry it is merged like a Modify: only attributes and values whose stamps
// order after the stored ones change. On a tombstone it is dropped, since the
// delete came after the creation. Any other entry holding the normalized DN
// yields dispatch.ErrEntryExists.
func (s *Store) AddEntry(ctx context.Context, entry ir.Entry, meta []ir.AttributeMetadata, valueMeta []ir.ValueMetadata) error {
	var (
		existing *entryRow
		skipped  int
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if guid := entry.First(ir.AttrObjectGUID); guid != "" {
			row, err := resolve(ctx, tx, dispatch.Identity{GUID: guid}, false)
			switch {
			case err == nil:
				existing = row
				if row.deleted {
					return nil
				}
				mods := dispatch.Modifications(&ir.Update{Entry: entry, Metadata: meta, ValueMetadata: valueMeta})
				skipped, err = applyMods(ctx, tx, row, mods)
				return err
			case !errors.Is(err, dispatch.ErrNoSuchEntry):
				return err
			}
		}
		return insertEntry(ctx, tx, entry, meta, valueMeta)
	})
	if err != nil {
		return fmt.Errorf("add entry %s: %w", entry.DN, err)
	}

	switch {
	case existing == nil:
		s.logger.Debug("entry added", "dn", entry.DN)
	case existing.deleted:
		s.logger.Info("add of deleted object dropped",
			"dn", entry.DN,
			"tombstone", existing.entry.DN)
	default:
		s.logger.Info("add merged into existing entry",
			"dn", entry.DN,
			"existing", existing.entry.DN,
			"skipped", skipped)
	}
	return nil
}

// SeedEntry writes entry exactly as given, with no objectGUID merge. It is
// how fixtures and imports lay down state, including divergent state such as
// two live entries sharing an objectGUID. A normalized DN already present
// yields dispatch.ErrEntryExists.
func (s *Store) SeedEntry(ctx context.Context, entry ir.Entry, meta []ir.AttributeMetadata) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEntry(ctx, tx, entry, meta, nil)
	})
	if err != nil {
		return fmt.Errorf("seed entry %s: %w", entry.DN, err)
	}
	s.logger.Debug("entry seeded", "dn", entry.DN)
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, entry ir.Entry, meta []ir.AttributeMetadata, valueMeta []ir.ValueMetadata) error {
	attrsJSON, err := marshalAttributes(entry.Attrs)
	if err != nil {
		return err
	}

	var guid any
	if g := entry.First(ir.AttrObjectGUID); g != "" {
		guid = g
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO entries (dn, dn_norm, object_guid, is_deleted, usn_changed, attributes)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.DN,
		ir.NormalizeDN(entry.DN),
		guid,
		isDeleted(entry),
		usnChanged(entry),
		attrsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	for _, md := range meta {
		if err := putAttrStamp(ctx, tx, id, md.Attr, md.Stamp); err != nil {
			return err
		}
	}
	for _, vm := range valueMeta {
		if err := putValueStamp(ctx, tx, id, vm); err != nil {
			return err
		}
	}
	return nil
}

// ModifyEntry applies mods to the entry identified by target. A change whose
// stamp does not order after the stored stamp for the same attribute or value
// is skipped, so a replayed unit leaves the entry as it was. uSNChanged is
// local bookkeeping and only moves forward. A replace of entryDN renames the
// entry.
func (s *Store) ModifyEntry(ctx context.Context, target dispatch.Identity, mods []dispatch.Modification) error {
	skipped := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row, err := resolve(ctx, tx, target, false)
		if err != nil {
			return err
		}
		skipped, err = applyMods(ctx, tx, row, mods)
		return err
	})
	if err != nil {
		return fmt.Errorf("modify entry %s: %w", target, err)
	}

	s.logger.Debug("entry modified",
		"target", target.String(),
		"mods", len(mods),
		"skipped", skipped)
	return nil
}

// applyMods applies mods to row under last-writer-wins and stores the result.
// It returns how many changes lost to a stored stamp.
func applyMods(ctx context.Context, tx *sql.Tx, row *entryRow, mods []dispatch.Modification) (int, error) {
	stamps, err := loadAttrStamps(ctx, tx, row.id)
	if err != nil {
		return 0, err
	}
	valueStamps, err := loadValueStamps(ctx, tx, row.id)
	if err != nil {
		return 0, err
	}

	skipped := 0
	entry := row.entry
	for _, m := range mods {
		fold := ir.Fold(m.Attr)
		switch m.Op {
		case dispatch.ModReplace, dispatch.ModDelete:
			if ir.SameAttr(m.Attr, ir.AttrUSNChanged) {
				// Local bookkeeping: only ever moves forward.
				if m.Op == dispatch.ModReplace && len(m.Values) > 0 && parseUSN(m.Values[0]) > usnChanged(entry) {
					entry.Put(ir.Attribute{Name: m.Attr, Values: m.Values[:1]})
					if err := putAttrStamp(ctx, tx, row.id, m.Attr, m.Stamp); err != nil {
						return skipped, err
					}
				}
				continue
			}
			if old, ok := stamps[fold]; ok && old.Compare(m.Stamp) >= 0 {
				skipped++
				continue
			}
			switch {
			case m.Op == dispatch.ModDelete:
				entry.Remove(m.Attr)
			case ir.SameAttr(m.Attr, ir.AttrEntryDN):
				if len(m.Values) > 0 {
					entry.DN = m.Values[0]
				}
			default:
				entry.Put(ir.Attribute{Name: m.Attr, Values: append([]string(nil), m.Values...)})
			}
			stamps[fold] = m.Stamp
			if err := putAttrStamp(ctx, tx, row.id, m.Attr, m.Stamp); err != nil {
				return skipped, err
			}

		case dispatch.ModAddValue, dispatch.ModDeleteValue:
			op := ir.ValueOpAdd
			if m.Op == dispatch.ModDeleteValue {
				op = ir.ValueOpDelete
			}
			for _, v := range m.Values {
				key := valueKey(fold, v)
				if old, ok := valueStamps[key]; ok && old.Compare(m.Stamp) >= 0 {
					skipped++
					continue
				}
				if op == ir.ValueOpAdd {
					entry.AddValue(m.Attr, v)
				} else {
					entry.RemoveValue(m.Attr, v)
				}
				valueStamps[key] = m.Stamp
				vm := ir.ValueMetadata{Attr: m.Attr, Value: v, Op: op, Stamp: m.Stamp}
				if err := putValueStamp(ctx, tx, row.id, vm); err != nil {
					return skipped, err
				}
			}

		default:
			return skipped, fmt.Errorf("unknown modification %s on %s", m.Op, m.Attr)
		}
	}

	return skipped, updateEntry(ctx, tx, row.id, entry, row.deleted)
}

// DeleteEntry turns the live entry identified by target into a tombstone
// under the deleted-objects container. The tombstone keeps objectClass,
// objectGUID and uSNChanged, gains isDeleted=TRUE and lastKnownDn, and
// replaces any placeholder tombstone already holding its DN.
func (s *Store) DeleteEntry(ctx context.Context, target dispatch.Identity) error {
	var tombDN string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row, err := resolve(ctx, tx, target, true)
		if err != nil {
			return err
		}
		guid := row.guid
		if guid == "" {
			guid = target.GUID
		}
		if guid == "" {
			return fmt.Errorf("entry %s has no objectGUID", row.entry.DN)
		}
		tombDN = ir.TombstoneDN(row.entry.DN, guid, s.deletedObjectsDN)

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM entries WHERE dn_norm = ? AND is_deleted = 1 AND id != ?
		`, ir.NormalizeDN(tombDN), row.id); err != nil {
			return fmt.Errorf("drop placeholder tombstone: %w", err)
		}

		tomb := ir.Entry{DN: tombDN}
		for _, name := range tombstoneAttrs {
			if a, ok := row.entry.Get(name); ok {
				tomb.Put(a.Clone())
			}
		}
		if !tomb.Has(ir.AttrObjectGUID) {
			tomb.Put(ir.Attribute{Name: ir.AttrObjectGUID, Values: []string{guid}})
		}
		tomb.Put(ir.Attribute{Name: ir.AttrIsDeleted, Values: []string{"TRUE"}})
		tomb.Put(ir.Attribute{Name: ir.AttrLastKnownDN, Values: []string{row.entry.DN}})

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM value_metadata WHERE entry_id = ?
		`, row.id); err != nil {
			return fmt.Errorf("drop value metadata: %w", err)
		}
		if err := pruneAttrStamps(ctx, tx, row.id, tombstoneAttrs); err != nil {
			return err
		}
		return updateEntry(ctx, tx, row.id, tomb, true)
	})
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", target, err)
	}

	s.logger.Debug("entry deleted", "target", target.String(), "tombstone", tombDN)
	return nil
}

// FindByIdentityMarker returns every live entry whose objectGUID is guid.
// Tombstones are never returned.
func (s *Store) FindByIdentityMarker(ctx context.Context, guid string) ([]ir.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE object_guid = ? AND is_deleted = 0
		ORDER BY dn_norm COLLATE BINARY ASC
	`, guid)
	if err != nil {
		return nil, classify(fmt.Errorf("find by identity marker: %w", err))
	}
	defer rows.Close()

	var found []ir.Entry
	for rows.Next() {
		row, err := scanEntryRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		found = append(found, row.entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("iterate entries: %w", err))
	}
	return found, nil
}

// resolve locates the entry target names: by objectGUID when set, preferring
// a live entry, by normalized DN otherwise.
func resolve(ctx context.Context, q querier, target dispatch.Identity, liveOnly bool) (*entryRow, error) {
	var (
		query string
		arg   string
	)
	if target.GUID != "" {
		query = `SELECT ` + entryColumns + ` FROM entries WHERE object_guid = ?`
		arg = target.GUID
	} else {
		query = `SELECT ` + entryColumns + ` FROM entries WHERE dn_norm = ?`
		arg = ir.NormalizeDN(target.DN)
	}
	if liveOnly {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY is_deleted ASC, id ASC LIMIT 1`

	row, err := scanEntryRow(q.QueryRowContext(ctx, query, arg).Scan)
	if errors.Is(err, sql.ErrNoRows) && target.GUID != "" && target.DN != "" {
		// The entry may predate its objectGUID; fall back to the DN.
		return resolve(ctx, q, dispatch.Identity{DN: target.DN}, liveOnly)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", dispatch.ErrNoSuchEntry, target)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}
	return row, nil
}

func updateEntry(ctx context.Context, tx *sql.Tx, id int64, entry ir.Entry, deleted bool) error {
	attrsJSON, err := marshalAttributes(entry.Attrs)
	if err != nil {
		return err
	}
	var guid any
	if g := entry.First(ir.AttrObjectGUID); g != "" {
		guid = g
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE entries
		SET dn = ?, dn_norm = ?, object_guid = COALESCE(?, object_guid),
		    is_deleted = ?, usn_changed = ?, attributes = ?
		WHERE id = ?
	`,
		entry.DN,
		ir.NormalizeDN(entry.DN),
		guid,
		deleted || isDeleted(entry),
		usnChanged(entry),
		attrsJSON,
		id,
	)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return nil
}

func putAttrStamp(ctx context.Context, tx *sql.Tx, entryID int64, attr string, stamp ir.Stamp) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO attr_metadata (entry_id, attr_fold, attr, stamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entry_id, attr_fold) DO UPDATE SET attr = excluded.attr, stamp = excluded.stamp
	`, entryID, ir.Fold(attr), attr, stamp.String())
	if err != nil {
		return fmt.Errorf("put attribute metadata %s: %w", attr, err)
	}
	return nil
}

func putValueStamp(ctx context.Context, tx *sql.Tx, entryID int64, vm ir.ValueMetadata) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO value_metadata (entry_id, attr_fold, value, record)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entry_id, attr_fold, value) DO UPDATE SET record = excluded.record
	`, entryID, ir.Fold(vm.Attr), vm.Value, vm.String())
	if err != nil {
		return fmt.Errorf("put value metadata %s: %w", vm.Attr, err)
	}
	return nil
}

func loadAttrStamps(ctx context.Context, q querier, entryID int64) (map[string]ir.Stamp, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT attr_fold, stamp FROM attr_metadata WHERE entry_id = ?
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("query attribute metadata: %w", err)
	}
	defer rows.Close()

	stamps := make(map[string]ir.Stamp)
	for rows.Next() {
		var fold, raw string
		if err := rows.Scan(&fold, &raw); err != nil {
			return nil, fmt.Errorf("scan attribute metadata: %w", err)
		}
		st, err := ir.ParseStamp(raw)
		if err != nil {
			return nil, err
		}
		stamps[fold] = st
	}
	return stamps, rows.Err()
}

func loadValueStamps(ctx context.Context, q querier, entryID int64) (map[string]ir.Stamp, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT attr_fold, value, record FROM value_metadata WHERE entry_id = ?
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("query value metadata: %w", err)
	}
	defer rows.Close()

	stamps := make(map[string]ir.Stamp)
	for rows.Next() {
		var fold, value, raw string
		if err := rows.Scan(&fold, &value, &raw); err != nil {
			return nil, fmt.Errorf("scan value metadata: %w", err)
		}
		vm, err := ir.ParseValueMetadata(raw)
		if err != nil {
			return nil, err
		}
		stamps[valueKey(fold, value)] = vm.Stamp
	}
	return stamps, rows.Err()
}

// pruneAttrStamps drops metadata for every attribute not in keep.
func pruneAttrStamps(ctx context.Context, tx *sql.Tx, entryID int64, keep []string) error {
	folds := make([]any, 0, len(keep)+1)
	folds = append(folds, entryID)
	marks := make([]string, 0, len(keep))
	for _, k := range keep {
		folds = append(folds, ir.Fold(k))
		marks = append(marks, "?")
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM attr_metadata
		WHERE entry_id = ? AND attr_fold NOT IN (`+strings.Join(marks, ", ")+`)
	`, folds...)
	if err != nil {
		return fmt.Errorf("prune attribute metadata: %w", err)
	}
	return nil
}

func valueKey(fold, value string) string {
	return fold + "\x00" + value
}

func isDeleted(e ir.Entry) bool {
	return strings.EqualFold(e.First(ir.AttrIsDeleted), "TRUE")
}

func usnChanged(e ir.Entry) int64 {
	return parseUSN(e.First(ir.AttrUSNChanged))
}

func parseUSN(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
