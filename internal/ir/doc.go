// Package ir provides the replication data model shared by every other package.
//
// A sync message from a partner carries one combined Update: an entry snapshot
// plus attribute-level and value-level metadata stamped with the writer's
// sequence numbers (USNs). The split package partitions that combined Update
// into individual Updates, each owning exactly one USN, and the dispatch package
// applies them to a backend.
//
// This package contains types and pure helpers only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Attribute names and DNs compare caselessly (Unicode case folding)
//   - Attribute values compare byte-for-byte
//   - Clone always deep-copies so two Updates never share a slice
//   - All JSON/YAML tags use snake_case
package ir
