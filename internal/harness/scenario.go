package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dirrepl/internal/engine"
	"github.com/roach88/dirrepl/internal/ir"
)

// Scenario defines a replication test scenario: entries present before
// replication starts, the messages partners send, and what the directory
// must look like afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is an optional object-class file (.yaml or .cue), relative to
	// the scenario file. The built-in classes are used when empty.
	Schema string `yaml:"schema,omitempty"`

	// DeletedObjectsDN overrides the tombstone container.
	DeletedObjectsDN string `yaml:"deleted_objects_dn,omitempty"`

	// Setup entries are written to the store before the first message.
	// They carry no replication metadata.
	Setup []ir.Entry `yaml:"setup,omitempty"`

	// Flow lists the messages in delivery order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and directory state.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one delivered message with an optional expectation.
type FlowStep struct {
	engine.Message `yaml:",inline"`

	// Expect checks the outcome of this message. If nil, the message must
	// be processed without error.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies how a message is expected to be processed.
type ExpectClause struct {
	// Error is the expected failure code: a message code such as
	// SPLIT_FAILED or the code of the underlying split or dispatch error.
	// Empty means the message must succeed.
	Error string `yaml:"error,omitempty"`

	// Stale expects the message to be skipped for its cursor.
	Stale bool `yaml:"stale,omitempty"`

	// USNs is the expected unit order of this message.
	USNs []int64 `yaml:"usns,omitempty"`

	// Ops is the expected applied operation per unit ("add", "modify",
	// "delete", or "duplicate" for a unit the ledger skipped).
	Ops []string `yaml:"ops,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "unit_order": units with these USNs appear in this order
	// - "unit_count": units applied as Op appear exactly Count times
	// - "trace_contains": a unit applied as Op on DN appears in the trace
	// - "entry": the entry at DN exists with the given attribute values
	// - "entry_absent": no entry exists at DN
	// - "cursor": the stored cursor of Partner equals Cursor
	// - "final_state": query a store table and verify expected values
	Type string `yaml:"type"`

	// USNs is the expected order (unit_order).
	USNs []int64 `yaml:"usns,omitempty"`

	// Op is the applied operation (unit_count, trace_contains).
	Op string `yaml:"op,omitempty"`

	// Count is the expected number of units (unit_count).
	Count int `yaml:"count,omitempty"`

	// DN names the entry (trace_contains, entry, entry_absent).
	DN string `yaml:"dn,omitempty"`

	// Attributes are the expected values per attribute (entry).
	// Subset match on attributes; values compare exactly and in order.
	// An empty list expects the attribute to be absent.
	Attributes map[string][]string `yaml:"attributes,omitempty"`

	// Partner and Cursor are used by the cursor assertion.
	Partner string `yaml:"partner,omitempty"`
	Cursor  int64  `yaml:"cursor,omitempty"`

	// Table is the store table name (final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state).
	// All fields must match exactly.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected column values (final_state).
	// Subset match - only specified columns are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertUnitOrder     = "unit_order"
	AssertUnitCount     = "unit_count"
	AssertTraceContains = "trace_contains"
	AssertEntry         = "entry"
	AssertEntryAbsent   = "entry_absent"
	AssertCursor        = "cursor"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative schema path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}
	if scenario.Schema != "" {
		if _, err := os.Stat(scenario.Schema); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: schema file not found: %s", scenario.Schema)
		}
	}

	return scenario, nil
}

// ParseScenario parses scenario YAML with strict field validation
// (catches typos like "assertion:" vs "assertions:").
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, e := range s.Setup {
		if e.DN == "" {
			return fmt.Errorf("setup[%d]: dn is required", i)
		}
	}

	for i, step := range s.Flow {
		if step.Update == nil {
			return fmt.Errorf("flow[%d]: update is required", i)
		}
		if step.Partner == "" && step.Update.Partner == "" {
			return fmt.Errorf("flow[%d]: partner is required", i)
		}
		if step.Expect != nil && len(step.Expect.Ops) > 0 && len(step.Expect.USNs) > 0 &&
			len(step.Expect.Ops) != len(step.Expect.USNs) {
			return fmt.Errorf("flow[%d].expect: usns and ops differ in length", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertUnitOrder:
		if len(a.USNs) == 0 {
			return fmt.Errorf("assertions[%d]: usns list is required for unit_order", index)
		}
	case AssertUnitCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for unit_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for unit_count", index)
		}
	case AssertTraceContains:
		if a.Op == "" || a.DN == "" {
			return fmt.Errorf("assertions[%d]: op and dn are required for trace_contains", index)
		}
	case AssertEntry:
		if a.DN == "" {
			return fmt.Errorf("assertions[%d]: dn is required for entry", index)
		}
	case AssertEntryAbsent:
		if a.DN == "" {
			return fmt.Errorf("assertions[%d]: dn is required for entry_absent", index)
		}
	case AssertCursor:
		if a.Partner == "" {
			return fmt.Errorf("assertions[%d]: partner is required for cursor", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
