package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleUnit() *Update {
	return &Update{
		SyncState: SyncStateModify,
		USN:       105,
		Partner:   "ldap://peer-a",
		Entry:     Entry{DN: "cn=foo,dc=x"},
		Metadata: []AttributeMetadata{
			{Attr: "uSNChanged", Stamp: Stamp{LocalUSN: 105}},
		},
		ValueMetadata: []ValueMetadata{
			{Attr: "telephoneNumber", Value: "555-1000", Stamp: Stamp{LocalUSN: 105}},
		},
	}
}

func TestUnitID_Deterministic(t *testing.T) {
	id1, err := UnitID(sampleUnit())
	require.NoError(t, err)
	id2, err := UnitID(sampleUnit())
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)
}

func TestUnitID_IgnoresDNCase(t *testing.T) {
	u := sampleUnit()
	u.Entry.DN = "CN=Foo,DC=X"
	assert.Equal(t, MustUnitID(sampleUnit()), MustUnitID(u))
}

func TestUnitID_ChangesWithIdentity(t *testing.T) {
	base := MustUnitID(sampleUnit())

	u := sampleUnit()
	u.Partner = "ldap://peer-b"
	assert.NotEqual(t, base, MustUnitID(u))

	u = sampleUnit()
	u.USN = 106
	assert.NotEqual(t, base, MustUnitID(u))

	u = sampleUnit()
	u.ValueMetadata[0].Op = ValueOpDelete
	assert.NotEqual(t, base, MustUnitID(u))
}

func TestHashWithDomain_Separation(t *testing.T) {
	data := []byte("payload")
	assert.NotEqual(t, hashWithDomain("a", data), hashWithDomain("b", data))
	assert.NotEqual(t, hashWithDomain("ab", []byte("c")), hashWithDomain("a", []byte("bc")))
}

func TestMarshalCanonical(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"b":    int64(2),
		"a":    []any{"x<y", true},
		"é": "café",
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":[\"x<y\",true],\"b\":2,\"é\":\"café\"}", string(out))

	_, err = MarshalCanonical(map[string]any{"f": 1.5})
	assert.Error(t, err)
	_, err = MarshalCanonical(nil)
	assert.Error(t, err)
}
