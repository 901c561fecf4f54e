package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// String formats the stamp in wire form:
//
//	<localUSN>:<version>:<invocationID>:<origTime>:<origUSN>
func (s Stamp) String() string {
	return fmt.Sprintf("%d:%d:%s:%s:%d", s.LocalUSN, s.Version, s.InvocationID, s.OrigTime, s.OrigUSN)
}

// ParseStamp parses the wire form produced by Stamp.String.
func ParseStamp(s string) (Stamp, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 5 {
		return Stamp{}, fmt.Errorf("parse stamp %q: want 5 fields, got %d", s, len(parts))
	}
	return stampFromFields(parts)
}

func stampFromFields(parts []string) (Stamp, error) {
	localUSN, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Stamp{}, fmt.Errorf("parse local usn: %w", err)
	}
	version, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Stamp{}, fmt.Errorf("parse version: %w", err)
	}
	origUSN, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return Stamp{}, fmt.Errorf("parse originating usn: %w", err)
	}
	return Stamp{
		LocalUSN:     localUSN,
		Version:      version,
		InvocationID: parts[2],
		OrigTime:     parts[3],
		OrigUSN:      origUSN,
	}, nil
}

// Compare orders two stamps by origination: version, then originating time,
// then invocation ID, then originating USN. The local USN is ignored since it
// differs per replica for the same change. Returns -1, 0 or +1.
func (s Stamp) Compare(o Stamp) int {
	switch {
	case s.Version != o.Version:
		return cmpInt(s.Version, o.Version)
	case s.OrigTime != o.OrigTime:
		return strings.Compare(s.OrigTime, o.OrigTime)
	case s.InvocationID != o.InvocationID:
		return strings.Compare(s.InvocationID, o.InvocationID)
	default:
		return cmpInt(s.OrigUSN, o.OrigUSN)
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// String formats attribute metadata as <attr>:<stamp>.
func (m AttributeMetadata) String() string {
	return m.Attr + ":" + m.Stamp.String()
}

// ParseAttributeMetadata parses <attr>:<stamp>.
func ParseAttributeMetadata(s string) (AttributeMetadata, error) {
	attr, rest, ok := strings.Cut(s, ":")
	if !ok || attr == "" {
		return AttributeMetadata{}, fmt.Errorf("parse attribute metadata %q: missing attribute name", s)
	}
	stamp, err := ParseStamp(rest)
	if err != nil {
		return AttributeMetadata{}, fmt.Errorf("parse attribute metadata %q: %w", s, err)
	}
	return AttributeMetadata{Attr: attr, Stamp: stamp}, nil
}

// String formats value metadata in wire form:
//
//	<attr>:<localUSN>:<version>:<invocationID>:<origTime>:<origUSN>:<op>:<valueLen>:<value>
//
// The value is last and length-prefixed so it may itself contain colons.
func (m ValueMetadata) String() string {
	return fmt.Sprintf("%s:%s:%d:%d:%s", m.Attr, m.Stamp.String(), int(m.Op), len(m.Value), m.Value)
}

// ParseValueMetadata parses the wire form produced by ValueMetadata.String.
func ParseValueMetadata(s string) (ValueMetadata, error) {
	parts := strings.SplitN(s, ":", 9)
	if len(parts) != 9 {
		return ValueMetadata{}, fmt.Errorf("parse value metadata %q: want 9 fields, got %d", s, len(parts))
	}
	stamp, err := stampFromFields(parts[1:6])
	if err != nil {
		return ValueMetadata{}, fmt.Errorf("parse value metadata %q: %w", s, err)
	}
	var op ValueOp
	if err := op.UnmarshalText([]byte(parts[6])); err != nil {
		return ValueMetadata{}, fmt.Errorf("parse value metadata %q: %w", s, err)
	}
	size, err := strconv.Atoi(parts[7])
	if err != nil {
		return ValueMetadata{}, fmt.Errorf("parse value metadata %q: value length: %w", s, err)
	}
	if size != len(parts[8]) {
		return ValueMetadata{}, fmt.Errorf("parse value metadata %q: value length %d, got %d bytes", s, size, len(parts[8]))
	}
	return ValueMetadata{Attr: parts[0], Value: parts[8], Op: op, Stamp: stamp}, nil
}
