package harness

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/dirrepl/internal/dispatch"
	"github.com/roach88/dirrepl/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nUnits applied:\n")
		n := 0
		for _, event := range e.Trace {
			if event.Type != EventUnit {
				continue
			}
			n++
			fmt.Fprintf(&buf, "  [%d] usn=%d %s %s\n", n, event.USN, traceOp(event), event.DN)
		}
	}

	return buf.String()
}

func traceOp(ev TraceEvent) string {
	switch {
	case ev.Duplicate:
		return "duplicate"
	case ev.Op == "":
		return "failed"
	}
	return ev.Op
}

// assertUnitOrder checks that units with the listed USNs appear in that
// order. Other units may appear in between.
func assertUnitOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[int64]int)
	for i, event := range trace {
		if event.Type == EventUnit && positions[event.USN] == 0 {
			positions[event.USN] = i + 1 // 1-indexed for readability
		}
	}

	for _, usn := range assertion.USNs {
		if positions[usn] == 0 {
			return &AssertionError{
				Type:     AssertUnitOrder,
				Expected: fmt.Sprintf("units present: %v", assertion.USNs),
				Actual:   fmt.Sprintf("no unit with usn %d", usn),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.USNs); i++ {
		prev := assertion.USNs[i-1]
		curr := assertion.USNs[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertUnitOrder,
				Expected: fmt.Sprintf("units in order: %v", assertion.USNs),
				Actual: fmt.Sprintf("usn %d (pos %d) should be before usn %d (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertUnitCount checks that exactly Count units were applied as Op.
// Op "duplicate" counts units the ledger skipped.
func assertUnitCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventUnit && traceOp(event) == assertion.Op {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertUnitCount,
			Expected: fmt.Sprintf("%d units applied as %s", assertion.Count, assertion.Op),
			Actual:   fmt.Sprintf("%d units", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceContains checks that a unit for DN was applied as Op.
// DNs compare caselessly.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Type == EventUnit && traceOp(event) == assertion.Op &&
			strings.EqualFold(event.DN, assertion.DN) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s of %s", assertion.Op, assertion.DN),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertEntry checks the stored entry at DN against the expected attribute
// values (subset match on attributes).
func assertEntry(ctx context.Context, st *store.Store, assertion Assertion) error {
	entry, err := st.GetEntry(ctx, assertion.DN)
	if err != nil {
		actual := fmt.Sprintf("lookup error: %v", err)
		if errors.Is(err, dispatch.ErrNoSuchEntry) {
			actual = "entry not found"
		}
		return &AssertionError{
			Type:     AssertEntry,
			Expected: fmt.Sprintf("entry %s", assertion.DN),
			Actual:   actual,
		}
	}

	names := make([]string, 0, len(assertion.Attributes))
	for name := range assertion.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		want := assertion.Attributes[name]
		got, ok := entry.Get(name)
		if len(want) == 0 {
			if ok {
				return &AssertionError{
					Type:     AssertEntry,
					Expected: fmt.Sprintf("%s of %s absent", name, assertion.DN),
					Actual:   fmt.Sprintf("%s = %v", name, got.Values),
				}
			}
			continue
		}
		if !ok {
			return &AssertionError{
				Type:     AssertEntry,
				Expected: fmt.Sprintf("%s of %s = %v", name, assertion.DN, want),
				Actual:   fmt.Sprintf("%s not present", name),
			}
		}
		if !slices.Equal(got.Values, want) {
			return &AssertionError{
				Type:     AssertEntry,
				Expected: fmt.Sprintf("%s of %s = %v", name, assertion.DN, want),
				Actual:   fmt.Sprintf("%s = %v", name, got.Values),
			}
		}
	}
	return nil
}

// assertEntryAbsent checks that no entry, live or tombstone, sits at DN.
func assertEntryAbsent(ctx context.Context, st *store.Store, assertion Assertion) error {
	_, err := st.GetEntry(ctx, assertion.DN)
	if errors.Is(err, dispatch.ErrNoSuchEntry) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("entry_absent %s: %w", assertion.DN, err)
	}
	return &AssertionError{
		Type:     AssertEntryAbsent,
		Expected: fmt.Sprintf("no entry at %s", assertion.DN),
		Actual:   "entry exists",
	}
}

// assertCursor checks the stored cursor of a partner.
func assertCursor(ctx context.Context, st *store.Store, assertion Assertion) error {
	cur, ok, err := st.Cursor(ctx, assertion.Partner)
	if err != nil {
		return fmt.Errorf("cursor %s: %w", assertion.Partner, err)
	}
	if !ok && assertion.Cursor != 0 {
		return &AssertionError{
			Type:     AssertCursor,
			Expected: fmt.Sprintf("cursor of %s = %d", assertion.Partner, assertion.Cursor),
			Actual:   "no cursor stored",
		}
	}
	if cur != assertion.Cursor {
		return &AssertionError{
			Type:     AssertCursor,
			Expected: fmt.Sprintf("cursor of %s = %d", assertion.Partner, assertion.Cursor),
			Actual:   fmt.Sprintf("cursor = %d", cur),
		}
	}
	return nil
}

// assertFinalState checks that a store table holds exactly one row matching
// Where, and that the row carries the expected values.
//
// Table and column names are validated against a whitelist pattern since
// identifiers cannot be parameterized.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}

	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]interface{})
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}

		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Keys are sorted for determinism.
func buildWhereClause(where map[string]interface{}) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML-decoded value to a SQL argument.
func toSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected YAML values with values scanned from
// SQLite, which returns int64 for integers and []byte or string for text.
func stateValuesEqual(expected, actual interface{}) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		if actualStr, ok := actual.(string); ok {
			return exp == actualStr
		}
		return false
	case int:
		if actualInt, ok := actual.(int64); ok {
			return int64(exp) == actualInt
		}
		if actualInt, ok := actual.(int); ok {
			return exp == actualInt
		}
		return false
	case int64:
		if actualInt, ok := actual.(int64); ok {
			return exp == actualInt
		}
		return false
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		// SQLite stores booleans as integers
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertUnitOrder:
			err = assertUnitOrder(result.Trace, assertion)
		case AssertUnitCount:
			err = assertUnitCount(result.Trace, assertion)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertEntry, AssertEntryAbsent, AssertCursor, AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertEntry:
				err = assertEntry(actx.Ctx, actx.Store, assertion)
			case AssertEntryAbsent:
				err = assertEntryAbsent(actx.Ctx, actx.Store, assertion)
			case AssertCursor:
				err = assertCursor(actx.Ctx, actx.Store, assertion)
			default:
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
