package split

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dirrepl/internal/ir"
	"github.com/roach88/dirrepl/internal/schema"
	"github.com/roach88/dirrepl/internal/testutil"
)

func newTestSplitter() *Splitter {
	return New(schema.Default(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func usnsOf(units []*ir.Update) []int64 {
	out := make([]int64, len(units))
	for i, u := range units {
		out[i] = u.USN
	}
	return out
}

func TestExtractUSNs_DescendingDistinct(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateModify, "cn=foo,dc=x").
		Attr("cn", 100, "foo").
		Attr("sn", 103, "bar").
		USNChanged(105).
		Value("member", "a", ir.ValueOpAdd, 103).
		Value("member", "b", ir.ValueOpAdd, 101).
		Build()
	before := u.Clone()

	usns, err := ExtractUSNs(u)
	require.NoError(t, err)
	assert.Equal(t, []int64{105, 103, 101, 100}, usns)
	assert.Equal(t, before, u, "extraction must not mutate the update")
}

func TestExtractUSNs_ValueMetadataOnly(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateModify, "cn=foo,dc=x").
		Value("member", "a", ir.ValueOpAdd, 103).
		Build()

	_, err := ExtractUSNs(u)
	require.Error(t, err)
	assert.Equal(t, ErrCodeNoAttributeMetadata, ErrorCodeOf(err))
	assert.True(t, IsProtocolError(err))
}

func TestRebase_PopsSmallest(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateModify, "cn=foo,dc=x").
		Attr("cn", 10, "foo").
		Attr("sn", 12, "bar").
		USNChanged(12).
		Build()

	remaining, err := Rebase(u, []int64{12, 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{12}, remaining)
	assert.Equal(t, int64(10), u.USN)
	assert.Equal(t, "10", u.Entry.First(ir.AttrUSNChanged))

	md, ok := u.FindMetadata(ir.AttrUSNChanged)
	require.True(t, ok)
	assert.Equal(t, int64(10), md.LocalUSN)
}

func TestRebase_MissingUSNChanged(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateModify, "cn=foo,dc=x").Attr("cn", 10, "foo").Build()

	_, err := Rebase(u, []int64{10})
	require.Error(t, err)
	assert.Equal(t, ErrCodeMissingUSNChanged, ErrorCodeOf(err))
	assert.True(t, IsProtocolError(err))
}

func TestSplit_AscendingReplayOrder(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateModify, "cn=foo,dc=x").
		GUID("guid-foo", 100).
		Attr("cn", 100, "foo").
		Attr("description", 105, "latest").
		Attr("title", 103, "engineer").
		USNChanged(105).
		Build()

	res, err := newTestSplitter().Split(u)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 103, 105}, usnsOf(res.Units))
	assert.Equal(t, int64(100), res.BaseUSN)
	assert.Equal(t, int64(105), res.MaxUSN())
	assert.Same(t, u, res.Units[0], "combined update is rebased in place")
}

func TestSplit_PartitionProperty(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateModify, "cn=foo,dc=x").
		GUID("guid-foo", 100).
		Attr("cn", 100, "foo").
		Attr("sn", 101, "bar").
		Attr("title", 102, "x").
		Meta("description", 102).
		USNChanged(103).
		Value("member", "m1", ir.ValueOpAdd, 101).
		Value("member", "m2", ir.ValueOpAdd, 103).
		Build()
	original := u.Clone()

	res, err := newTestSplitter().Split(u)
	require.NoError(t, err)
	require.Len(t, res.Units, 4)

	for _, md := range original.Metadata {
		if md.Attr == ir.AttrUSNChanged || md.Attr == ir.AttrObjectGUID {
			continue
		}
		owners := 0
		for _, unit := range res.Units {
			if got, ok := unit.FindMetadata(md.Attr); ok {
				owners++
				assert.Equal(t, md.LocalUSN, unit.USN, "attr %s", md.Attr)
				assert.Equal(t, md.LocalUSN, got.LocalUSN)
			}
		}
		assert.Equal(t, 1, owners, "attr %s", md.Attr)
	}
	for _, vm := range original.ValueMetadata {
		owners := 0
		for _, unit := range res.Units {
			for _, got := range unit.ValueMetadata {
				if got == vm {
					owners++
					assert.Equal(t, vm.LocalUSN, unit.USN)
				}
			}
		}
		assert.Equal(t, 1, owners, "value %s=%s", vm.Attr, vm.Value)
	}

	for _, unit := range res.Units {
		for _, md := range unit.Metadata {
			if md.Attr != ir.AttrObjectGUID {
				assert.Equal(t, unit.USN, md.LocalUSN, "unit %d references one usn", unit.USN)
			}
		}
	}
}

func TestSplit_ConservationProperty(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateModify, "cn=foo,dc=x").
		GUID("guid-foo", 100).
		Attr("cn", 100, "foo").
		Attr("sn", 104, "bar").
		USNChanged(104).
		Plain("member", "m0").
		Value("member", "m1", ir.ValueOpAdd, 102).
		Value("member", "m2", ir.ValueOpAdd, 104).
		Build()
	original := u.Clone()

	res, err := newTestSplitter().Split(u)
	require.NoError(t, err)

	type pair struct{ attr, value string }
	want := map[pair]bool{}
	for _, a := range original.Entry.Attrs {
		if a.Name == ir.AttrUSNChanged {
			continue
		}
		for _, v := range a.Values {
			want[pair{a.Name, v}] = true
		}
	}
	got := map[pair]bool{}
	for _, unit := range res.Units {
		for _, a := range unit.Entry.Attrs {
			if a.Name == ir.AttrUSNChanged {
				continue
			}
			for _, v := range a.Values {
				got[pair{a.Name, v}] = true
			}
		}
	}
	assert.Equal(t, want, got)
}

func TestSplit_AddRepairsMandatoryAttribute(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateAdd, "cn=foo,dc=x").
		GUID("guid-foo", 100).
		Attr("cn", 100, "foo").
		Attr(ir.AttrObjectClass, 105, "top", "container").
		USNChanged(100).
		Build()

	res, err := newTestSplitter().Split(u)
	require.NoError(t, err)
	require.Equal(t, []int64{100, 105}, usnsOf(res.Units))

	first, second := res.Units[0], res.Units[1]
	assert.Equal(t, ir.SyncStateAdd, first.SyncState)
	assert.Equal(t, ir.SyncStateModify, second.SyncState)

	oc, ok := first.Entry.Get(ir.AttrObjectClass)
	require.True(t, ok, "earliest add carries a repaired objectClass")
	assert.Equal(t, []string{"top", "container"}, oc.Values)
	assert.False(t, first.HasMetadata(ir.AttrObjectClass), "repaired copy has no metadata")

	oc, ok = second.Entry.Get(ir.AttrObjectClass)
	require.True(t, ok)
	assert.Equal(t, []string{"top", "container"}, oc.Values)
	md, ok := second.FindMetadata(ir.AttrObjectClass)
	require.True(t, ok)
	assert.Equal(t, int64(105), md.LocalUSN)

	for _, unit := range res.Units {
		assert.Equal(t, "guid-foo", unit.Entry.First(ir.AttrObjectGUID))
		assert.True(t, unit.Entry.Has(ir.AttrUSNChanged))
	}
	assert.Equal(t, "105", second.Entry.First(ir.AttrUSNChanged))
	assert.Equal(t, "100", first.Entry.First(ir.AttrUSNChanged))

	// repaired values are a deliberate copy, not shared storage
	for i := range first.Entry.Attrs {
		if first.Entry.Attrs[i].Name == ir.AttrObjectClass {
			first.Entry.Attrs[i].Values[0] = "mutated"
		}
	}
	assert.Equal(t, "top", second.Entry.First(ir.AttrObjectClass))
}

func TestSplit_EndToEndTelephoneNumber(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateModify, "cn=foo,dc=x").
		Attr("cn", 100, "foo").
		USNChanged(100).
		Plain(ir.AttrObjectGUID, "guid-foo").
		Value("telephoneNumber", "555-1000", ir.ValueOpAdd, 105).
		Build()

	res, err := newTestSplitter().Split(u)
	require.NoError(t, err)
	require.Equal(t, []int64{100, 105}, usnsOf(res.Units))

	first, second := res.Units[0], res.Units[1]
	assert.Equal(t, "foo", first.Entry.First("cn"))
	assert.True(t, first.HasMetadata("cn"))
	assert.True(t, first.HasMetadata(ir.AttrUSNChanged))
	assert.False(t, first.Entry.Has("telephoneNumber"))

	assert.Equal(t, "555-1000", second.Entry.First("telephoneNumber"))
	require.Len(t, second.ValueMetadata, 1)
	assert.Equal(t, "guid-foo", second.Entry.First(ir.AttrObjectGUID))
	assert.Equal(t, "105", second.Entry.First(ir.AttrUSNChanged))
}

func TestSplit_ValueDeleteKeepsEarlierState(t *testing.T) {
	// member A (100), B added at 110, D deleted at 130
	u := testutil.NewUpdate(ir.SyncStateModify, "cn=grp,dc=x").
		Attr("member", 100, "A").
		USNChanged(130).
		Value("member", "B", ir.ValueOpAdd, 110).
		Value("member", "D", ir.ValueOpDelete, 130).
		Build()

	res, err := newTestSplitter().Split(u)
	require.NoError(t, err)
	require.Equal(t, []int64{100, 110, 130}, usnsOf(res.Units))

	member, _ := res.Units[0].Entry.Get("member")
	assert.ElementsMatch(t, []string{"A", "D"}, member.Values)

	member, _ = res.Units[1].Entry.Get("member")
	assert.Equal(t, []string{"B"}, member.Values)

	assert.False(t, res.Units[2].Entry.Has("member"))
	require.Len(t, res.Units[2].ValueMetadata, 1)
	assert.Equal(t, ir.ValueOpDelete, res.Units[2].ValueMetadata[0].Op)
}

func TestSplit_AddThenDeleteInOneBatch(t *testing.T) {
	tomb := "cn=foo#objectGUID:guid-foo,cn=Deleted Objects,dc=x"
	u := testutil.NewUpdate(ir.SyncStateAdd, tomb).
		GUID("guid-foo", 100).
		Attr("cn", 100, "foo").
		Attr(ir.AttrUSNCreated, 100, "100").
		Attr(ir.AttrObjectClass, 105, "top", "container").
		Attr(ir.AttrIsDeleted, 105, "TRUE").
		Attr(ir.AttrLastKnownDN, 105, "cn=foo,dc=x").
		USNChanged(105).
		Build()

	res, err := newTestSplitter().Split(u)
	require.NoError(t, err)
	require.Equal(t, []int64{100, 105}, usnsOf(res.Units))

	add, del := res.Units[0], res.Units[1]
	assert.Equal(t, ir.SyncStateAdd, add.SyncState)
	assert.Equal(t, "cn=foo,dc=x", add.Entry.DN, "live object is added at its last known dn")
	assert.Equal(t, "cn=foo,dc=x", add.Entry.First(ir.AttrEntryDN))
	assert.True(t, add.HasMetadata(ir.AttrEntryDN))
	assert.True(t, add.Entry.Has(ir.AttrObjectClass))
	assert.False(t, add.Entry.Has(ir.AttrIsDeleted))

	assert.Equal(t, ir.SyncStateDelete, del.SyncState)
	assert.Equal(t, "guid-foo", del.Entry.First(ir.AttrObjectGUID))
}

func TestSplit_TombstoneAddWithoutLastKnownDN(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateAdd, "cn=foo#objectGUID:g,cn=Deleted Objects,dc=x").
		Attr("cn", 100, "foo").
		Attr(ir.AttrObjectClass, 100, "container").
		Attr(ir.AttrIsDeleted, 105, "TRUE").
		USNChanged(105).
		Build()
	before := u.Clone()

	_, err := newTestSplitter().Split(u)
	require.Error(t, err)
	assert.Equal(t, ErrCodeMissingLastKnownDN, ErrorCodeOf(err))
	assert.Equal(t, before, u, "failed split leaves the combined update as received")
}

func TestSplit_AddMissingMandatoryAttribute(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateAdd, "cn=foo,dc=x").
		Attr(ir.AttrObjectClass, 100, "top", "person").
		Attr("cn", 100, "foo").
		USNChanged(100).
		Build()
	before := u.Clone()

	_, err := newTestSplitter().Split(u)
	require.Error(t, err)
	assert.True(t, IsMandatoryAttributeError(err))

	var se *SplitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "sn", se.Attr)
	assert.Equal(t, before, u)
}

func TestSplit_AddSchemaErrors(t *testing.T) {
	t.Run("no objectClass", func(t *testing.T) {
		u := testutil.NewUpdate(ir.SyncStateAdd, "cn=foo,dc=x").Attr("cn", 100, "foo").USNChanged(100).Build()
		_, err := newTestSplitter().Split(u)
		assert.Equal(t, ErrCodeMissingObjectClass, ErrorCodeOf(err))
	})
	t.Run("unknown objectClass", func(t *testing.T) {
		u := testutil.NewUpdate(ir.SyncStateAdd, "cn=foo,dc=x").
			Attr(ir.AttrObjectClass, 100, "nosuchclass").
			USNChanged(100).
			Build()
		_, err := newTestSplitter().Split(u)
		assert.Equal(t, ErrCodeSchema, ErrorCodeOf(err))
		assert.ErrorIs(t, err, schema.ErrUnknownObjectClass)
	})
}

func TestSplit_EveryUSNYieldsAUnit(t *testing.T) {
	// 107 stamps only objectGUID and 109 only uSNChanged
	u := testutil.NewUpdate(ir.SyncStateModify, "cn=foo,dc=x").
		Attr("cn", 100, "foo").
		GUID("guid-foo", 107).
		USNChanged(109).
		Build()

	res, err := newTestSplitter().Split(u)
	require.NoError(t, err)
	assert.Equal(t, []int64{109, 107, 100}, res.USNs)
	require.Equal(t, []int64{100, 107, 109}, usnsOf(res.Units))

	marker := res.Units[1]
	assert.Equal(t, ir.SyncStateModify, marker.SyncState)
	assert.Equal(t, "guid-foo", marker.Entry.First(ir.AttrObjectGUID))
	assert.Equal(t, "107", marker.Entry.First(ir.AttrUSNChanged))
	assert.False(t, marker.Entry.Has("cn"))

	last := res.Units[2]
	assert.Equal(t, "109", last.Entry.First(ir.AttrUSNChanged))
	md, ok := last.FindMetadata(ir.AttrUSNChanged)
	require.True(t, ok)
	assert.Equal(t, int64(109), md.LocalUSN)

	// the combined update keeps the identity record
	assert.True(t, res.Units[0].HasMetadata(ir.AttrObjectGUID))
}

func TestSplit_UnitsCarryIdentityStamp(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateModify, "cn=foo,dc=x").
		GUID("guid-foo", 100).
		Attr("cn", 100, "foo").
		Attr("title", 103, "engineer").
		USNChanged(105).
		Value("member", "m1", ir.ValueOpAdd, 105).
		Build()
	want, ok := u.FindMetadata(ir.AttrObjectGUID)
	require.True(t, ok)

	res, err := newTestSplitter().Split(u)
	require.NoError(t, err)
	require.Len(t, res.Units, 3)

	for _, unit := range res.Units {
		md, ok := unit.FindMetadata(ir.AttrObjectGUID)
		require.True(t, ok, "unit %d", unit.USN)
		assert.Equal(t, want, md, "unit %d keeps the creation stamp", unit.USN)
	}
}

func TestSplit_TombstoneAddSkipsMandatoryCheck(t *testing.T) {
	t.Run("isDeleted", func(t *testing.T) {
		u := testutil.NewUpdate(ir.SyncStateAdd, "cn=foo#objectGUID:guid-foo,cn=Deleted Objects,dc=x").
			GUID("guid-foo", 200).
			Attr(ir.AttrObjectClass, 200, "top", "person").
			Attr(ir.AttrIsDeleted, 200, "TRUE").
			Attr(ir.AttrLastKnownDN, 200, "cn=foo,dc=x").
			USNChanged(200).
			Build()

		res, err := newTestSplitter().Split(u)
		require.NoError(t, err)
		require.Len(t, res.Units, 1)
		assert.Equal(t, ir.SyncStateAdd, res.Units[0].SyncState)
		assert.False(t, res.Units[0].Entry.Has("sn"))
	})

	t.Run("container only", func(t *testing.T) {
		s := New(schema.Default(),
			WithDeletedObjectsDN("cn=Graveyard,dc=x"),
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		u := testutil.NewUpdate(ir.SyncStateAdd, "cn=foo#objectGUID:guid-foo,cn=Graveyard,dc=x").
			GUID("guid-foo", 200).
			Attr(ir.AttrObjectClass, 200, "top", "person").
			USNChanged(200).
			Build()

		_, err := s.Split(u)
		require.NoError(t, err)
	})

	t.Run("created earlier", func(t *testing.T) {
		u := testutil.NewUpdate(ir.SyncStateAdd, "cn=foo#objectGUID:guid-foo,cn=Deleted Objects,dc=x").
			GUID("guid-foo", 100).
			Attr(ir.AttrObjectClass, 100, "top", "person").
			Attr(ir.AttrIsDeleted, 200, "TRUE").
			Attr(ir.AttrLastKnownDN, 200, "cn=foo,dc=x").
			USNChanged(200).
			Build()

		res, err := newTestSplitter().Split(u)
		require.NoError(t, err)
		require.Equal(t, []int64{100, 200}, usnsOf(res.Units))
		assert.Equal(t, ir.SyncStateAdd, res.Units[0].SyncState)
		assert.Equal(t, "cn=foo,dc=x", res.Units[0].Entry.DN)
		assert.Equal(t, ir.SyncStateDelete, res.Units[1].SyncState)
	})

	t.Run("live add still checked", func(t *testing.T) {
		u := testutil.NewUpdate(ir.SyncStateAdd, "cn=foo,dc=x").
			GUID("guid-foo", 200).
			Attr(ir.AttrObjectClass, 200, "top", "person").
			USNChanged(200).
			Build()

		_, err := newTestSplitter().Split(u)
		assert.True(t, IsMandatoryAttributeError(err))
	})
}

func TestSplit_NoAttributeMetadataLeavesInputUntouched(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateModify, "cn=foo,dc=x").Plain("cn", "foo").Build()
	before := u.Clone()

	_, err := newTestSplitter().Split(u)
	require.Error(t, err)
	assert.Equal(t, before, u)
}

func TestExtractEvent_NoMatchingRecords(t *testing.T) {
	u := testutil.NewUpdate(ir.SyncStateModify, "cn=foo,dc=x").Attr("cn", 100, "foo").USNChanged(100).Build()

	_, err := ExtractEvent(u, 999, nil)
	require.Error(t, err)
	assert.Equal(t, ErrCodeNoMatchingRecords, ErrorCodeOf(err))
}

func TestCollector_InsertsAscending(t *testing.T) {
	var c Collector
	a := &ir.Update{USN: 105}
	b := &ir.Update{USN: 100}
	d := &ir.Update{USN: 103}
	e := &ir.Update{USN: 103}

	c.Insert(a)
	c.Insert(b)
	c.Insert(d)
	c.Insert(e)

	assert.Equal(t, []int64{100, 103, 103, 105}, usnsOf(c.Units()))
	assert.Same(t, e, c.Units()[1], "equal USN goes before the existing unit")
	assert.Equal(t, 4, c.Len())
}
