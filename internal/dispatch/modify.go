package dispatch

import (
	"strings"

	"github.com/roach88/dirrepl/internal/ir"
)

// Modifications derives the backend modifications a Modify unit carries.
//
// Every attribute with attribute metadata becomes a replace when the entry
// holds values for it and a delete otherwise. objectGUID is identity and is
// never modified. Value metadata becomes value-level adds and deletes. An
// entryDN replace is how a rename travels; backends interpret it.
//
// Order follows the unit's metadata, then its value metadata.
func Modifications(u *ir.Update) []Modification {
	mods := make([]Modification, 0, len(u.Metadata)+len(u.ValueMetadata))
	for _, md := range u.Metadata {
		if ir.SameAttr(md.Attr, ir.AttrObjectGUID) {
			continue
		}
		attr, ok := u.Entry.Get(md.Attr)
		if ok && len(attr.Values) > 0 {
			mods = append(mods, Modification{
				Op:     ModReplace,
				Attr:   attr.Name,
				Values: append([]string(nil), attr.Values...),
				Stamp:  md.Stamp,
			})
			continue
		}
		mods = append(mods, Modification{Op: ModDelete, Attr: md.Attr, Stamp: md.Stamp})
	}
	for _, vm := range u.ValueMetadata {
		op := ModAddValue
		if vm.Op == ir.ValueOpDelete {
			op = ModDeleteValue
		}
		mods = append(mods, Modification{
			Op:     op,
			Attr:   vm.Attr,
			Values: []string{vm.Value},
			Stamp:  vm.Stamp,
		})
	}
	return mods
}

// TargetOf returns the identity a Modify or Delete unit addresses. The
// objectGUID is preferred; the DN is the entry's live DN, taken from
// lastKnownDn when the unit carries a tombstone name.
func TargetOf(u *ir.Update, deletedObjectsDN string) Identity {
	id := Identity{
		GUID: u.Entry.First(ir.AttrObjectGUID),
		DN:   u.Entry.DN,
	}
	if ir.IsTombstoneDN(u.Entry.DN, deletedObjectsDN) {
		if dn := u.Entry.First(ir.AttrLastKnownDN); dn != "" {
			id.DN = dn
		}
		if id.GUID == "" {
			if _, guid, ok := ir.TombstoneIdentity(u.Entry.DN); ok {
				id.GUID = guid
			}
		}
	}
	return id
}

// marksDeleted reports whether u sets isDeleted to TRUE.
func marksDeleted(u *ir.Update) bool {
	return strings.EqualFold(u.Entry.First(ir.AttrIsDeleted), "TRUE")
}
