// Package dispatch applies individual replication units to a storage backend.
//
// The Applier maps a unit's sync state onto one backend call. Before dispatch
// it reinterprets two shapes the replication stream uses for deletion:
//
//   - an Add of a tombstone placeholder under the deleted-objects container,
//     when the live object is still held locally, becomes a Delete
//   - a Modify that sets isDeleted=TRUE becomes a Delete
//
// Backend calls are made once per unit. Retrying a backend deadlock is the
// backend's concern; NewRetryBackend provides a bounded-retry decorator.
package dispatch

import (
	"context"
	"fmt"

	"github.com/roach88/dirrepl/internal/ir"
)

// Backend is the transactional storage layer. Each call runs in its own write
// transaction. Implementations report lock contention as a RetryableError and
// use ErrNoSuchEntry / ErrEntryExists for the corresponding conditions.
type Backend interface {
	// AddEntry creates entry with its attribute and value metadata. An Add
	// for an objectGUID the backend already holds is merged, not duplicated.
	AddEntry(ctx context.Context, entry ir.Entry, meta []ir.AttributeMetadata, valueMeta []ir.ValueMetadata) error

	// ModifyEntry applies mods to the entry identified by target.
	ModifyEntry(ctx context.Context, target Identity, mods []Modification) error

	// DeleteEntry removes the live entry identified by target.
	DeleteEntry(ctx context.Context, target Identity) error

	// FindByIdentityMarker returns every live entry whose objectGUID is guid.
	FindByIdentityMarker(ctx context.Context, guid string) ([]ir.Entry, error)
}

// Identity locates an existing entry. GUID wins when both are set.
type Identity struct {
	GUID string `json:"guid,omitempty"`
	DN   string `json:"dn,omitempty"`
}

func (id Identity) String() string {
	if id.GUID != "" {
		return fmt.Sprintf("guid=%s dn=%s", id.GUID, id.DN)
	}
	return "dn=" + id.DN
}

// ModOp is an attribute-level modification kind.
type ModOp int

const (
	// ModReplace sets an attribute to exactly Values.
	ModReplace ModOp = iota + 1
	// ModDelete removes an attribute.
	ModDelete
	// ModAddValue adds Values to an attribute.
	ModAddValue
	// ModDeleteValue removes Values from an attribute.
	ModDeleteValue
)

func (op ModOp) String() string {
	switch op {
	case ModReplace:
		return "replace"
	case ModDelete:
		return "delete"
	case ModAddValue:
		return "add_value"
	case ModDeleteValue:
		return "delete_value"
	default:
		return fmt.Sprintf("mod_op(%d)", int(op))
	}
}

// Modification is one attribute change with the stamp that originated it.
type Modification struct {
	Op     ModOp    `json:"op"`
	Attr   string   `json:"attr"`
	Values []string `json:"values,omitempty"`
	Stamp  ir.Stamp `json:"stamp"`
}
