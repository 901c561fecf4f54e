package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestEntry_CaselessAttributeNames(t *testing.T) {
	e := Entry{DN: "cn=foo", Attrs: []Attribute{{Name: "objectClass", Values: []string{"person"}}}}

	assert.True(t, e.Has("OBJECTCLASS"))
	assert.Equal(t, "person", e.First("objectclass"))

	e.Put(Attribute{Name: "ObjectClass", Values: []string{"top", "person"}})
	require.Len(t, e.Attrs, 1)
	assert.Equal(t, []string{"top", "person"}, e.Attrs[0].Values)
}

func TestEntry_AddRemoveValue(t *testing.T) {
	var e Entry
	e.AddValue("member", "a")
	e.AddValue("member", "b")
	e.AddValue("member", "a")

	got, ok := e.Get("member")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, got.Values)

	assert.True(t, e.RemoveValue("member", "a"))
	assert.False(t, e.RemoveValue("member", "zzz"))
	assert.True(t, e.RemoveValue("member", "b"))
	assert.False(t, e.Has("member"), "empty attribute is dropped")
	assert.False(t, e.RemoveValue("missing", "a"))
}

func TestEntry_Remove(t *testing.T) {
	e := Entry{Attrs: []Attribute{
		{Name: "cn", Values: []string{"foo"}},
		{Name: "sn", Values: []string{"bar"}},
	}}
	a, ok := e.Remove("CN")
	require.True(t, ok)
	assert.Equal(t, "cn", a.Name)
	assert.Equal(t, []Attribute{{Name: "sn", Values: []string{"bar"}}}, e.Attrs)

	_, ok = e.Remove("cn")
	assert.False(t, ok)
}

func TestUpdate_CloneIsDeep(t *testing.T) {
	u := &Update{
		SyncState: SyncStateAdd,
		USN:       100,
		Entry:     Entry{DN: "cn=foo", Attrs: []Attribute{{Name: "cn", Values: []string{"foo"}}}},
		Metadata:  []AttributeMetadata{{Attr: "cn", Stamp: Stamp{LocalUSN: 100}}},
		ValueMetadata: []ValueMetadata{
			{Attr: "member", Value: "x", Stamp: Stamp{LocalUSN: 101}},
		},
	}
	c := u.Clone()
	c.Entry.Attrs[0].Values[0] = "changed"
	c.Metadata[0].LocalUSN = 1
	c.ValueMetadata[0].Value = "y"

	assert.Equal(t, "foo", u.Entry.Attrs[0].Values[0])
	assert.Equal(t, int64(100), u.Metadata[0].LocalUSN)
	assert.Equal(t, "x", u.ValueMetadata[0].Value)
}

func TestUpdate_PutMetadata(t *testing.T) {
	u := &Update{Metadata: []AttributeMetadata{{Attr: "uSNChanged", Stamp: Stamp{LocalUSN: 105}}}}
	u.PutMetadata(AttributeMetadata{Attr: "usnchanged", Stamp: Stamp{LocalUSN: 100}})
	require.Len(t, u.Metadata, 1)
	assert.Equal(t, int64(100), u.Metadata[0].LocalUSN)

	u.PutMetadata(AttributeMetadata{Attr: "cn", Stamp: Stamp{LocalUSN: 100}})
	assert.Len(t, u.Metadata, 2)
	assert.True(t, u.HasMetadata("CN"))
}

func TestSyncState_Text(t *testing.T) {
	for _, s := range []SyncState{SyncStateAdd, SyncStateModify, SyncStateDelete} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back SyncState
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	var s SyncState
	assert.Error(t, s.UnmarshalText([]byte("rename")))
	_, err := SyncState(9).MarshalText()
	assert.Error(t, err)
}

func TestUpdate_DecodesFromYAML(t *testing.T) {
	doc := `
sync_state: modify
usn: 105
partner: ldap://peer-a
entry:
  dn: cn=foo,dc=x
  attributes:
    - {name: cn, values: [foo]}
metadata:
  - {attr: cn, usn: 100, version: 1, invocation_id: inv-a}
value_metadata:
  - {attr: telephoneNumber, value: 555-1000, op: add, usn: 105}
`
	var u Update
	require.NoError(t, yaml.Unmarshal([]byte(doc), &u))
	assert.Equal(t, SyncStateModify, u.SyncState)
	assert.Equal(t, int64(105), u.USN)
	assert.Equal(t, "foo", u.Entry.First("cn"))
	require.Len(t, u.Metadata, 1)
	assert.Equal(t, int64(100), u.Metadata[0].LocalUSN)
	assert.Equal(t, "inv-a", u.Metadata[0].InvocationID)
	require.Len(t, u.ValueMetadata, 1)
	assert.Equal(t, ValueOpAdd, u.ValueMetadata[0].Op)
	assert.Equal(t, "555-1000", u.ValueMetadata[0].Value)
}
