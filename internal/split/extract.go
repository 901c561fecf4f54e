package split

import (
	"strconv"
	"strings"

	"github.com/roach88/dirrepl/internal/ir"
)

// ExtractEvent moves every record of combined stamped with usn into a new
// individual update and returns it. Records are transferred, not copied:
// afterwards combined no longer holds them.
//
// must lists the mandatory attributes of the entry's object classes. When
// combined is an Add, any mandatory attribute that left combined is copied
// back so the earliest Add stays schema-valid.
//
// On error combined is left untouched only for ErrCodeNoMatchingRecords;
// callers that need atomicity work on a clone (see Splitter.Split).
func ExtractEvent(combined *ir.Update, usn int64, must []string) (*ir.Update, error) {
	if !carries(combined, usn) {
		return nil, &SplitError{
			Code:    ErrCodeNoMatchingRecords,
			Message: "no metadata record carries this sequence number",
			DN:      combined.Entry.DN,
			USN:     usn,
		}
	}
	return extractEvent(combined, usn, must)
}

func extractEvent(combined *ir.Update, usn int64, must []string) (*ir.Update, error) {
	unit := &ir.Update{
		SyncState: ir.SyncStateModify,
		USN:       usn,
		Partner:   combined.Partner,
		Entry:     ir.Entry{DN: combined.Entry.DN},
	}

	moveAttributes(combined, unit, usn)
	moveValues(combined, unit, usn)

	if combined.SyncState == ir.SyncStateAdd {
		repairMandatory(combined, unit, must)
	}

	if err := propagateOperational(combined, unit); err != nil {
		return nil, err
	}
	return unit, nil
}

// operational reports whether attr is an entry-level marker owned by the
// combined update. Operational attributes never move; every unit gets a copy.
func operational(attr string) bool {
	return ir.SameAttr(attr, ir.AttrUSNChanged) || ir.SameAttr(attr, ir.AttrObjectGUID)
}

// carries reports whether any record of u is stamped with usn.
func carries(u *ir.Update, usn int64) bool {
	for _, md := range u.Metadata {
		if md.LocalUSN == usn {
			return true
		}
	}
	for _, vm := range u.ValueMetadata {
		if vm.LocalUSN == usn {
			return true
		}
	}
	return false
}

// moveAttributes transfers attribute metadata stamped with usn, and the
// attributes it describes, from combined to unit.
func moveAttributes(combined, unit *ir.Update, usn int64) {
	kept := combined.Metadata[:0]
	for _, md := range combined.Metadata {
		if md.LocalUSN != usn || operational(md.Attr) {
			kept = append(kept, md)
			continue
		}
		unit.Metadata = append(unit.Metadata, md)
		if attr, ok := combined.Entry.Remove(md.Attr); ok {
			unit.Entry.Put(attr)
		}
	}
	combined.Metadata = kept
}

// moveValues transfers value metadata stamped with usn from combined to unit.
//
// An added value leaves combined and joins unit's entry, so the value appears
// exactly when its write is replayed. A deleted value is appended to combined
// when combined still owns the attribute, so the earlier state holds the value
// the later unit removes.
func moveValues(combined, unit *ir.Update, usn int64) {
	kept := combined.ValueMetadata[:0]
	for _, vm := range combined.ValueMetadata {
		if vm.LocalUSN != usn {
			kept = append(kept, vm)
			continue
		}
		unit.ValueMetadata = append(unit.ValueMetadata, vm)
		switch vm.Op {
		case ir.ValueOpAdd:
			combined.Entry.RemoveValue(vm.Attr, vm.Value)
			unit.Entry.AddValue(vm.Attr, vm.Value)
		case ir.ValueOpDelete:
			if combined.HasMetadata(vm.Attr) {
				combined.Entry.AddValue(vm.Attr, vm.Value)
			}
		}
	}
	combined.ValueMetadata = kept
}

// repairMandatory copies mandatory attributes that moved entirely into unit
// back onto combined. Metadata is not copied: unit stays the owner.
func repairMandatory(combined, unit *ir.Update, must []string) {
	for _, name := range must {
		if combined.Entry.Has(name) {
			continue
		}
		if attr, ok := unit.Entry.Get(name); ok {
			combined.Entry.Put(attr.Clone())
		}
	}
}

// propagateOperational gives unit the entry's identity and last-changed
// marker, and turns it into a Delete when it carries isDeleted.
func propagateOperational(combined, unit *ir.Update) error {
	if isDeleted(unit.Entry) {
		unit.SyncState = ir.SyncStateDelete
		if combined.SyncState == ir.SyncStateAdd {
			if err := handleTombstoneAdd(combined, unit); err != nil {
				return err
			}
		}
	}

	// objectGUID keeps its creation stamp in every unit.
	if guid, ok := combined.Entry.Get(ir.AttrObjectGUID); ok {
		unit.Entry.Put(guid.Clone())
	}
	if md, ok := combined.FindMetadata(ir.AttrObjectGUID); ok {
		unit.PutMetadata(md)
	}

	unit.Entry.Put(ir.Attribute{Name: ir.AttrUSNChanged, Values: []string{strconv.FormatInt(unit.USN, 10)}})
	if md, ok := combined.FindMetadata(ir.AttrUSNChanged); ok {
		md.LocalUSN = unit.USN
		unit.PutMetadata(md)
	}
	return nil
}

// handleTombstoneAdd rewrites a combined Add whose entry was both created and
// deleted within the batch. The combined update becomes the Add of the live
// object at its last known DN, and the unit deletes it afterwards.
func handleTombstoneAdd(combined, unit *ir.Update) error {
	lastKnown, ok := unit.Entry.Get(ir.AttrLastKnownDN)
	if !ok || len(lastKnown.Values) == 0 {
		return &SplitError{
			Code:    ErrCodeMissingLastKnownDN,
			Message: "tombstone add without lastKnownDn",
			DN:      combined.Entry.DN,
			USN:     unit.USN,
			Attr:    ir.AttrLastKnownDN,
		}
	}

	stamp := ir.Stamp{LocalUSN: combined.USN, Version: 1}
	if created, ok := combined.FindMetadata(ir.AttrUSNCreated); ok {
		stamp.InvocationID = created.InvocationID
		stamp.OrigTime = created.OrigTime
		stamp.OrigUSN = created.OrigUSN
	}

	combined.Entry.DN = lastKnown.Values[0]
	combined.Entry.Put(ir.Attribute{Name: ir.AttrEntryDN, Values: append([]string(nil), lastKnown.Values...)})
	combined.PutMetadata(ir.AttributeMetadata{Attr: ir.AttrEntryDN, Stamp: stamp})

	if oc, ok := unit.Entry.Get(ir.AttrObjectClass); ok && !combined.Entry.Has(ir.AttrObjectClass) {
		combined.Entry.Put(oc.Clone())
		if !combined.HasMetadata(ir.AttrObjectClass) {
			combined.PutMetadata(ir.AttributeMetadata{Attr: ir.AttrObjectClass, Stamp: stamp})
		}
	}
	return nil
}

func isDeleted(e ir.Entry) bool {
	return strings.EqualFold(e.First(ir.AttrIsDeleted), "TRUE")
}
