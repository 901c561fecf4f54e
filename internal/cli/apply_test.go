package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dirrepl/internal/engine"
	"github.com/roach88/dirrepl/internal/ir"
)

type applyResponse struct {
	Status string      `json:"status"`
	Data   ApplyResult `json:"data"`
	Error  *CLIError   `json:"error"`
}

func TestApply_Text(t *testing.T) {
	out, _, err := execute(t, "apply", "--db", tempDB(t), filepath.Join("testdata", "messages.yaml"))
	require.NoError(t, err)

	assert.Contains(t, out, "ldap://peer-a cn=foo,dc=vmware,dc=com: cursor 105")
	assert.Contains(t, out, "usn=100 add cn=foo,dc=vmware,dc=com")
	assert.Contains(t, out, "usn=103 modify cn=foo,dc=vmware,dc=com")
	assert.Contains(t, out, "usn=200 delete cn=foo#objectGUID:g-foo,cn=Deleted Objects,dc=vmware,dc=com (received as add)")
	assert.Contains(t, out, "Apply Summary: 4 unit(s) applied, 0 skipped, 0 stale message(s)")
}

func TestApply_ResendIsStale(t *testing.T) {
	db := tempDB(t)
	file := filepath.Join("testdata", "add.yaml")

	_, _, err := execute(t, "apply", "--db", db, file)
	require.NoError(t, err)

	out, _, err := execute(t, "apply", "--db", db, file)
	require.NoError(t, err)
	assert.Contains(t, out, "stale, cursor 105")
	assert.Contains(t, out, "Apply Summary: 0 unit(s) applied, 0 skipped, 1 stale message(s)")
}

func TestApply_JSONWithMetrics(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "apply", "--db", tempDB(t), "--metrics",
		filepath.Join("testdata", "add.yaml"))
	require.NoError(t, err)

	var resp applyResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, 3, resp.Data.Applied)

	require.Len(t, resp.Data.Messages, 1)
	outcome := resp.Data.Messages[0].Outcome
	require.NotNil(t, outcome)
	assert.Equal(t, int64(105), outcome.Cursor)
	require.Len(t, outcome.Units, 3)
	assert.Equal(t, ir.SyncStateAdd, outcome.Units[0].Applied)
	assert.Equal(t, ir.SyncStateModify, outcome.Units[2].Applied)

	counters := map[string]float64{}
	for _, s := range resp.Data.Metrics {
		counters[s.Name+formatLabels(s.Labels)] = s.Value
	}
	assert.Equal(t, 1.0, counters[`dirrepl_units_applied_total{op="add"}`])
	assert.Equal(t, 2.0, counters[`dirrepl_units_applied_total{op="modify"}`])
	assert.Equal(t, 1.0, counters[`dirrepl_messages_total{result="applied"}`])
}

func TestApply_SplitFailure(t *testing.T) {
	db := tempDB(t)
	out, _, err := execute(t, "apply", "--db", db, filepath.Join("testdata", "broken.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "MISSING_OBJECT_CLASS")

	out, _, err = execute(t, "cursor", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No partner cursors.")
}

func TestApply_StopsAtFirstFailure(t *testing.T) {
	db := tempDB(t)
	out, _, err := execute(t, "--format", "json", "apply", "--db", db,
		filepath.Join("testdata", "broken.yaml"), filepath.Join("testdata", "add.yaml"))
	require.Error(t, err)

	var resp applyResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "MISSING_OBJECT_CLASS", resp.Error.Code)
	require.Len(t, resp.Data.Messages, 1)
	assert.Zero(t, resp.Data.Applied)
}

func TestApply_MissingFile(t *testing.T) {
	_, _, err := execute(t, "apply", "--db", tempDB(t), filepath.Join("testdata", "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load messages")
}

func TestApply_UnknownField(t *testing.T) {
	_, _, err := execute(t, "apply", "--db", tempDB(t), filepath.Join("testdata", "unknown_field.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestApply_RequiresFiles(t *testing.T) {
	_, _, err := execute(t, "apply", "--db", tempDB(t))
	require.Error(t, err)
}

func TestApply_ZeroRetriesRejected(t *testing.T) {
	_, _, err := execute(t, "apply", "--db", tempDB(t), "--max-retries", "0", filepath.Join("testdata", "add.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--max-retries")
}

func TestDescribeUnit(t *testing.T) {
	tests := []struct {
		name string
		unit engine.UnitOutcome
		want string
	}{
		{"plain", engine.UnitOutcome{DN: "cn=x", Received: ir.SyncStateModify, Applied: ir.SyncStateModify}, "modify cn=x"},
		{"duplicate", engine.UnitOutcome{DN: "cn=x", Received: ir.SyncStateAdd, Duplicate: true}, "add cn=x (already applied)"},
		{"failed", engine.UnitOutcome{DN: "cn=x", Received: ir.SyncStateAdd}, "add cn=x (failed)"},
		{"reclassified", engine.UnitOutcome{DN: "cn=x", Received: ir.SyncStateAdd, Applied: ir.SyncStateDelete, Reclassified: true}, "delete cn=x (received as add)"},
		{"missing", engine.UnitOutcome{DN: "cn=x", Received: ir.SyncStateDelete, Applied: ir.SyncStateDelete, Missing: true}, "delete cn=x (entry already gone)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeUnit(tt.unit))
		})
	}
}
