package ir

import (
	"fmt"
	"strings"
)

// SyncState is the operation kind of an Update.
type SyncState int

const (
	// SyncStateAdd creates an entry.
	SyncStateAdd SyncState = iota + 1
	// SyncStateModify changes attributes of an existing entry.
	SyncStateModify
	// SyncStateDelete removes an entry (moves it to the deleted-objects container).
	SyncStateDelete
)

func (s SyncState) String() string {
	switch s {
	case SyncStateAdd:
		return "add"
	case SyncStateModify:
		return "modify"
	case SyncStateDelete:
		return "delete"
	default:
		return fmt.Sprintf("sync_state(%d)", int(s))
	}
}

// Valid reports whether s is one of the three known operation kinds.
func (s SyncState) Valid() bool {
	return s >= SyncStateAdd && s <= SyncStateDelete
}

// ParseSyncState parses "add", "modify" or "delete" (case-insensitive).
func ParseSyncState(s string) (SyncState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "add":
		return SyncStateAdd, nil
	case "modify":
		return SyncStateModify, nil
	case "delete":
		return SyncStateDelete, nil
	default:
		return 0, fmt.Errorf("unknown sync state %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SyncState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown sync state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SyncState) UnmarshalText(text []byte) error {
	parsed, err := ParseSyncState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ValueOp is the operation recorded by a value-level metadata record.
// The numeric values match the opcode used in the metadata wire format.
type ValueOp int

const (
	ValueOpAdd    ValueOp = 0
	ValueOpDelete ValueOp = 1
)

func (o ValueOp) String() string {
	if o == ValueOpDelete {
		return "delete"
	}
	return "add"
}

// MarshalText implements encoding.TextMarshaler.
func (o ValueOp) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *ValueOp) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "add", "0":
		*o = ValueOpAdd
	case "delete", "1":
		*o = ValueOpDelete
	default:
		return fmt.Errorf("unknown value op %q", string(text))
	}
	return nil
}

// Stamp is the origination bookkeeping carried by every metadata record.
// Only LocalUSN takes part in splitting; the rest travels with the record
// untouched and is persisted by the backend for conflict resolution.
type Stamp struct {
	LocalUSN     int64  `json:"usn" yaml:"usn"`
	Version      int64  `json:"version,omitempty" yaml:"version,omitempty"`
	InvocationID string `json:"invocation_id,omitempty" yaml:"invocation_id,omitempty"`
	OrigTime     string `json:"orig_time,omitempty" yaml:"orig_time,omitempty"`
	OrigUSN      int64  `json:"orig_usn,omitempty" yaml:"orig_usn,omitempty"`
}

// AttributeMetadata stamps a whole attribute.
type AttributeMetadata struct {
	Attr  string `json:"attr" yaml:"attr"`
	Stamp `yaml:",inline"`
}

// ValueMetadata stamps one value of a multi-valued attribute.
type ValueMetadata struct {
	Attr  string  `json:"attr" yaml:"attr"`
	Value string  `json:"value" yaml:"value"`
	Op    ValueOp `json:"op" yaml:"op"`
	Stamp `yaml:",inline"`
}

// Attribute is a named attribute with its values.
type Attribute struct {
	Name   string   `json:"name" yaml:"name"`
	Values []string `json:"values" yaml:"values"`
}

// Clone returns a deep copy of a.
func (a Attribute) Clone() Attribute {
	return Attribute{Name: a.Name, Values: append([]string(nil), a.Values...)}
}

// Entry is a directory entry snapshot: a DN and its attributes in wire order.
type Entry struct {
	DN    string      `json:"dn" yaml:"dn"`
	Attrs []Attribute `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Update is a replication update, either the combined update received from a
// partner or an individual unit produced by splitting it.
type Update struct {
	SyncState SyncState `json:"sync_state" yaml:"sync_state"`

	// USN is the originating sequence number this update represents. For a
	// combined update it starts as the partner's reported cursor and is
	// rebased to the smallest USN remaining after the split.
	USN int64 `json:"usn" yaml:"usn"`

	Partner       string              `json:"partner,omitempty" yaml:"partner,omitempty"`
	Entry         Entry               `json:"entry" yaml:"entry"`
	Metadata      []AttributeMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	ValueMetadata []ValueMetadata     `json:"value_metadata,omitempty" yaml:"value_metadata,omitempty"`
}

// Clone returns a deep copy of u.
func (u *Update) Clone() *Update {
	c := &Update{
		SyncState: u.SyncState,
		USN:       u.USN,
		Partner:   u.Partner,
		Entry:     u.Entry.Clone(),
	}
	if u.Metadata != nil {
		c.Metadata = append([]AttributeMetadata(nil), u.Metadata...)
	}
	if u.ValueMetadata != nil {
		c.ValueMetadata = append([]ValueMetadata(nil), u.ValueMetadata...)
	}
	return c
}

// FindMetadata returns the attribute-level metadata for attr.
func (u *Update) FindMetadata(attr string) (AttributeMetadata, bool) {
	for _, md := range u.Metadata {
		if SameAttr(md.Attr, attr) {
			return md, true
		}
	}
	return AttributeMetadata{}, false
}

// HasMetadata reports whether u carries attribute-level metadata for attr.
func (u *Update) HasMetadata(attr string) bool {
	_, ok := u.FindMetadata(attr)
	return ok
}

// PutMetadata replaces the metadata for md.Attr or appends it.
func (u *Update) PutMetadata(md AttributeMetadata) {
	for i := range u.Metadata {
		if SameAttr(u.Metadata[i].Attr, md.Attr) {
			u.Metadata[i] = md
			return
		}
	}
	u.Metadata = append(u.Metadata, md)
}
