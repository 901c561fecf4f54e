package harness

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dirrepl/internal/ir"
	"github.com/roach88/dirrepl/internal/store"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Type: EventMessage, Partner: "p", DN: "cn=a", Seq: 1},
		{Type: EventUnit, DN: "cn=a", USN: 100, Received: "add", Op: "add", Seq: 2},
		{Type: EventUnit, DN: "cn=a", USN: 103, Received: "modify", Op: "modify", Seq: 3},
		{Type: EventUnit, DN: "cn=a", USN: 105, Received: "modify", Op: "modify", Seq: 4},
		{Type: EventMessage, Partner: "p", DN: "cn=a", Seq: 5},
		{Type: EventUnit, DN: "cn=a", USN: 100, Received: "add", Duplicate: true, Seq: 6},
		{Type: EventUnit, DN: "cn=T#objectGUID:g", USN: 200, Received: "add", Op: "delete", Reclassified: true, Seq: 7},
	}
}

func TestAssertUnitOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertUnitOrder(trace, Assertion{USNs: []int64{100, 103, 105}}))
	assert.NoError(t, assertUnitOrder(trace, Assertion{USNs: []int64{100, 200}}), "gaps allowed")

	err := assertUnitOrder(trace, Assertion{USNs: []int64{105, 103}})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertUnitOrder, ae.Type)
	assert.Contains(t, ae.Actual, "usn 105 (pos 4) should be before usn 103 (pos 3)")

	err = assertUnitOrder(trace, Assertion{USNs: []int64{100, 999}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no unit with usn 999")
}

func TestAssertUnitCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertUnitCount(trace, Assertion{Op: "modify", Count: 2}))
	assert.NoError(t, assertUnitCount(trace, Assertion{Op: "duplicate", Count: 1}))
	assert.NoError(t, assertUnitCount(trace, Assertion{Op: "add", Count: 1}), "duplicates are not adds")
	assert.NoError(t, assertUnitCount(trace, Assertion{Op: "failed", Count: 0}))

	err := assertUnitCount(trace, Assertion{Op: "delete", Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: 1 units")
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Op: "delete", DN: "CN=t#objectGUID:g"}))
	assert.Error(t, assertTraceContains(trace, Assertion{Op: "delete", DN: "cn=a"}))
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertUnitCount,
		Expected: "2 units applied as add",
		Actual:   "1 units",
		Trace:    sampleTrace(),
	}

	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "Assertion failed: unit_count\n"))
	assert.Contains(t, msg, "  Expected: 2 units applied as add\n")
	assert.Contains(t, msg, "  [1] usn=100 add cn=a\n")
	assert.Contains(t, msg, "  [4] usn=100 duplicate cn=a\n")
	assert.NotContains(t, msg, "[6]")
}

func newAssertStore(t *testing.T) (*store.Store, context.Context) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	e := ir.Entry{DN: "cn=foo,dc=x"}
	e.Put(ir.Attribute{Name: "cn", Values: []string{"foo"}})
	e.Put(ir.Attribute{Name: "member", Values: []string{"cn=a", "cn=b"}})
	require.NoError(t, st.SeedEntry(ctx, e, nil))
	require.NoError(t, st.AdvanceCursor(ctx, "ldap://peer-a", 42, 1))
	_, err = st.MarkUnitApplied(ctx, store.AppliedUnit{
		Partner: "ldap://peer-a", UnitID: "u1", DN: "cn=foo,dc=x", USN: 42, Op: "add", BatchID: "b1", Seq: 1,
	})
	require.NoError(t, err)
	return st, ctx
}

func TestAssertEntry(t *testing.T) {
	st, ctx := newAssertStore(t)

	assert.NoError(t, assertEntry(ctx, st, Assertion{DN: "CN=Foo,DC=x"}), "existence only")
	assert.NoError(t, assertEntry(ctx, st, Assertion{
		DN:         "cn=foo,dc=x",
		Attributes: map[string][]string{"CN": {"foo"}, "member": {"cn=a", "cn=b"}, "sn": {}},
	}))

	err := assertEntry(ctx, st, Assertion{DN: "cn=foo,dc=x", Attributes: map[string][]string{"member": {"cn=b", "cn=a"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "member = [cn=a cn=b]")

	err = assertEntry(ctx, st, Assertion{DN: "cn=foo,dc=x", Attributes: map[string][]string{"cn": {}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absent")

	err = assertEntry(ctx, st, Assertion{DN: "cn=foo,dc=x", Attributes: map[string][]string{"sn": {"x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sn not present")

	err = assertEntry(ctx, st, Assertion{DN: "cn=nope,dc=x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry not found")
}

func TestAssertEntryAbsent(t *testing.T) {
	st, ctx := newAssertStore(t)

	assert.NoError(t, assertEntryAbsent(ctx, st, Assertion{DN: "cn=nope,dc=x"}))
	err := assertEntryAbsent(ctx, st, Assertion{DN: "cn=foo,dc=x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry exists")
}

func TestAssertCursor(t *testing.T) {
	st, ctx := newAssertStore(t)

	assert.NoError(t, assertCursor(ctx, st, Assertion{Partner: "ldap://peer-a", Cursor: 42}))
	assert.NoError(t, assertCursor(ctx, st, Assertion{Partner: "ldap://peer-z"}), "no cursor equals zero")
	assert.Error(t, assertCursor(ctx, st, Assertion{Partner: "ldap://peer-a", Cursor: 41}))

	err := assertCursor(ctx, st, Assertion{Partner: "ldap://peer-z", Cursor: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cursor stored")
}

func TestAssertFinalState(t *testing.T) {
	st, ctx := newAssertStore(t)

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{
			name:      "row found",
			assertion: Assertion{Table: "applied_units", Where: map[string]interface{}{"unit_id": "u1"}, Expect: map[string]interface{}{"usn": 42, "op": "add"}},
		},
		{
			name:      "multiple where conditions",
			assertion: Assertion{Table: "applied_units", Where: map[string]interface{}{"partner": "ldap://peer-a", "usn": 42}, Expect: map[string]interface{}{"batch_id": "b1"}},
		},
		{
			name:      "cursor table",
			assertion: Assertion{Table: "partner_cursors", Where: map[string]interface{}{"partner": "ldap://peer-a"}, Expect: map[string]interface{}{"position": 42}},
		},
		{
			name:      "row not found",
			assertion: Assertion{Table: "applied_units", Where: map[string]interface{}{"unit_id": "nope"}, Expect: map[string]interface{}{"op": "add"}},
			wantErr:   "row not found",
		},
		{
			name:      "value mismatch",
			assertion: Assertion{Table: "applied_units", Where: map[string]interface{}{"unit_id": "u1"}, Expect: map[string]interface{}{"op": "delete"}},
			wantErr:   `field "op" = delete`,
		},
		{
			name:      "missing column",
			assertion: Assertion{Table: "applied_units", Expect: map[string]interface{}{"bogus": 1}},
			wantErr:   `field "bogus" to exist`,
		},
		{
			name:      "invalid table name",
			assertion: Assertion{Table: "entries; DROP TABLE entries", Expect: map[string]interface{}{"dn": "x"}},
			wantErr:   "invalid table name",
		},
		{
			name:      "invalid column name",
			assertion: Assertion{Table: "entries", Where: map[string]interface{}{"dn = dn OR 1": 1}, Expect: map[string]interface{}{"dn": "x"}},
			wantErr:   "invalid column name",
		},
		{
			name:      "table not found",
			assertion: Assertion{Table: "no_such_table", Expect: map[string]interface{}{"x": 1}},
			wantErr:   "query error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(ctx, st, tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertFinalState_AmbiguousRows(t *testing.T) {
	st, ctx := newAssertStore(t)
	require.NoError(t, st.AdvanceCursor(ctx, "ldap://peer-b", 7, 2))

	err := assertFinalState(ctx, st, Assertion{Table: "partner_cursors", Expect: map[string]interface{}{"position": 7}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple rows matched")
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)

	sql, args, err = buildWhereClause(map[string]interface{}{"usn": 1, "partner": "p"})
	require.NoError(t, err)
	assert.Equal(t, "partner = ? AND usn = ?", sql)
	assert.Equal(t, []interface{}{"p", 1}, args)

	sql, _, err = buildWhereClause(map[string]interface{}{"dn": "x' OR '1'='1"})
	require.NoError(t, err)
	assert.NotContains(t, sql, "OR", "values are never interpolated")
}

func TestStateValuesEqual(t *testing.T) {
	assert.True(t, stateValuesEqual("a", "a"))
	assert.True(t, stateValuesEqual("a", []byte("a")))
	assert.True(t, stateValuesEqual(42, int64(42)))
	assert.True(t, stateValuesEqual(int64(42), int64(42)))
	assert.True(t, stateValuesEqual(true, int64(1)))
	assert.True(t, stateValuesEqual(false, int64(0)))
	assert.True(t, stateValuesEqual(nil, nil))

	assert.False(t, stateValuesEqual("42", int64(42)))
	assert.False(t, stateValuesEqual(42, "42"))
	assert.False(t, stateValuesEqual(nil, "a"))
	assert.False(t, stateValuesEqual("a", nil))
}

func TestFormatWhereClause(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhereClause(nil))
	assert.Equal(t, "a=1 AND b=x", formatWhereClause(map[string]interface{}{"b": "x", "a": 1}))
}

func TestEvaluateAssertions(t *testing.T) {
	st, ctx := newAssertStore(t)
	result := &Result{Trace: sampleTrace()}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertUnitOrder, USNs: []int64{100, 105}},
		{Type: AssertUnitCount, Op: "modify", Count: 5},
		{Type: AssertEntry, DN: "cn=foo,dc=x"},
		{Type: "bogus"},
	}, &AssertionContext{Store: st, Ctx: ctx})

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "unit_count")
	assert.Contains(t, errs[1], `unknown assertion type "bogus"`)
}

func TestEvaluateAssertions_StateWithoutContext(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{
		{Type: AssertEntryAbsent, DN: "cn=x"},
	}, nil)

	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "entry_absent requires database context")
}
