// Package harness runs replication scenarios against the engine.
//
// A scenario seeds a fresh in-memory store, delivers a sequence of partner
// messages through engine.ProcessMessage, and checks the resulting unit
// trace and directory state. Traces are deterministic and can be compared
// against golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	schema: classes.yaml          # optional, relative to the scenario file
//	setup:
//	  - dn: cn=foo,dc=vmware,dc=com
//	    attributes:
//	      - { name: objectGUID, values: [g-1] }
//	flow:
//	  - partner: ldap://peer-a
//	    cursor: 105
//	    update:
//	      sync_state: modify
//	      usn: 105
//	      entry: { dn: cn=foo,dc=vmware,dc=com, attributes: [...] }
//	      metadata: [ { attr: cn, usn: 100 }, ... ]
//	    expect:
//	      usns: [100, 105]
//	      ops: [modify, modify]
//	assertions:
//	  - type: entry
//	    dn: cn=foo,dc=vmware,dc=com
//	    attributes: { telephoneNumber: ["555-1000"] }
//	  - type: cursor
//	    partner: ldap://peer-a
//	    cursor: 105
//
// A flow step without an expect clause must be processed without error.
// A failing step does not stop the flow, so a later step can be the
// partner's resend.
//
// # Assertion Types
//
//   - unit_order: units with the listed USNs appear in that order
//   - unit_count: exactly N units were applied as op ("duplicate" counts ledger skips)
//   - trace_contains: a unit for dn was applied as op
//   - entry: the entry at dn exists with the given values
//   - entry_absent: nothing is stored at dn
//   - cursor: the partner's stored cursor
//   - final_state: one row of a store table matches where and expect
//
// # Golden Files
//
// RunWithGolden compares the canonical JSON trace with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
