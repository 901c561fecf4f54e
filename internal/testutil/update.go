package testutil

import (
	"strconv"

	"github.com/roach88/dirrepl/internal/ir"
)

// UpdateBuilder assembles combined updates for tests.
//
//	u := testutil.NewUpdate(ir.SyncStateModify, "cn=foo,dc=x").
//		Attr("cn", 100, "foo").
//		USNChanged(100).
//		Value("telephoneNumber", "555-1000", ir.ValueOpAdd, 105).
//		Build()
type UpdateBuilder struct {
	u ir.Update
}

// NewUpdate starts an update for dn with partner "ldap://peer-a".
func NewUpdate(state ir.SyncState, dn string) *UpdateBuilder {
	return &UpdateBuilder{u: ir.Update{
		SyncState: state,
		Partner:   "ldap://peer-a",
		Entry:     ir.Entry{DN: dn},
	}}
}

// Partner sets the partner identity.
func (b *UpdateBuilder) Partner(partner string) *UpdateBuilder {
	b.u.Partner = partner
	return b
}

// Attr adds an attribute with values and attribute metadata stamped usn.
func (b *UpdateBuilder) Attr(name string, usn int64, values ...string) *UpdateBuilder {
	b.u.Entry.Put(ir.Attribute{Name: name, Values: values})
	b.u.PutMetadata(ir.AttributeMetadata{Attr: name, Stamp: Stamp(usn)})
	return b
}

// Plain adds an attribute without metadata.
func (b *UpdateBuilder) Plain(name string, values ...string) *UpdateBuilder {
	b.u.Entry.Put(ir.Attribute{Name: name, Values: values})
	return b
}

// Meta adds attribute metadata without values (a deleted attribute).
func (b *UpdateBuilder) Meta(name string, usn int64) *UpdateBuilder {
	b.u.PutMetadata(ir.AttributeMetadata{Attr: name, Stamp: Stamp(usn)})
	return b
}

// Value adds value metadata. An added value is also placed in the entry,
// matching what a partner sends.
func (b *UpdateBuilder) Value(attr, value string, op ir.ValueOp, usn int64) *UpdateBuilder {
	if op == ir.ValueOpAdd {
		b.u.Entry.AddValue(attr, value)
	}
	b.u.ValueMetadata = append(b.u.ValueMetadata, ir.ValueMetadata{
		Attr: attr, Value: value, Op: op, Stamp: Stamp(usn),
	})
	return b
}

// USNChanged sets the uSNChanged value and metadata and the update's USN.
func (b *UpdateBuilder) USNChanged(usn int64) *UpdateBuilder {
	b.u.USN = usn
	return b.Attr(ir.AttrUSNChanged, usn, strconv.FormatInt(usn, 10))
}

// GUID sets objectGUID with metadata stamped usn.
func (b *UpdateBuilder) GUID(guid string, usn int64) *UpdateBuilder {
	return b.Attr(ir.AttrObjectGUID, usn, guid)
}

// Build returns a deep copy of the assembled update.
func (b *UpdateBuilder) Build() *ir.Update {
	return b.u.Clone()
}

// Stamp returns a deterministic stamp for usn.
func Stamp(usn int64) ir.Stamp {
	return ir.Stamp{
		LocalUSN:     usn,
		Version:      1,
		InvocationID: "inv-peer-a",
		OrigTime:     "20240101000000.000",
		OrigUSN:      usn,
	}
}
