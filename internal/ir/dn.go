package ir

import "strings"

// identityMarker separates a tombstone's original RDN from its object GUID:
//
//	cn=alice#objectGUID:5c1f...,cn=Deleted Objects,dc=example,dc=com
const identityMarker = "#" + AttrObjectGUID + ":"

// SplitRDN splits dn at its first unescaped comma into the leading RDN and the
// parent DN. A single-RDN dn has an empty parent.
func SplitRDN(dn string) (rdn, parent string) {
	escaped := false
	for i := 0; i < len(dn); i++ {
		switch {
		case escaped:
			escaped = false
		case dn[i] == '\\':
			escaped = true
		case dn[i] == ',':
			return strings.TrimSpace(dn[:i]), strings.TrimSpace(dn[i+1:])
		}
	}
	return strings.TrimSpace(dn), ""
}

// ParentDN returns the DN of dn's parent, or "" for a single-RDN dn.
func ParentDN(dn string) string {
	_, parent := SplitRDN(dn)
	return parent
}

// NormalizeDN returns the caseless form of dn with whitespace around RDN
// separators and type/value separators removed.
func NormalizeDN(dn string) string {
	var parts []string
	rest := strings.TrimSpace(dn)
	for rest != "" {
		var rdn string
		rdn, rest = SplitRDN(rest)
		if typ, val, ok := strings.Cut(rdn, "="); ok {
			rdn = strings.TrimSpace(typ) + "=" + strings.TrimSpace(val)
		}
		parts = append(parts, rdn)
	}
	return Fold(strings.Join(parts, ","))
}

// IsTombstoneDN reports whether dn sits directly under the deleted-objects
// container. When container is empty, any parent whose RDN is the default
// deleted-objects RDN qualifies.
func IsTombstoneDN(dn, container string) bool {
	parent := ParentDN(dn)
	if parent == "" {
		return false
	}
	if container != "" {
		return NormalizeDN(parent) == NormalizeDN(container)
	}
	parentRDN, _ := SplitRDN(parent)
	return NormalizeDN(parentRDN) == NormalizeDN(DefaultDeletedObjectsRDN)
}

// TombstoneIdentity extracts the original RDN and object GUID encoded in a
// tombstone DN. ok is false when dn's RDN carries no identity marker.
func TombstoneIdentity(dn string) (rdn, guid string, ok bool) {
	first, _ := SplitRDN(dn)
	idx := indexMarker(first)
	if idx < 0 {
		return "", "", false
	}
	guid = first[idx+len(identityMarker):]
	if guid == "" {
		return "", "", false
	}
	return first[:idx], guid, true
}

// TombstoneDN builds the DN a deleted entry is renamed to.
func TombstoneDN(dn, guid, container string) string {
	rdn, _ := SplitRDN(dn)
	return rdn + identityMarker + guid + "," + container
}

// indexMarker finds the identity marker in rdn ignoring ASCII case. The marker
// is ASCII so byte offsets stay valid for the original string.
func indexMarker(rdn string) int {
	for i := 0; i+len(identityMarker) <= len(rdn); i++ {
		if strings.EqualFold(rdn[i:i+len(identityMarker)], identityMarker) {
			return i
		}
	}
	return -1
}
