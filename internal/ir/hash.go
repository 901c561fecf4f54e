package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for a future algorithm migration.
const (
	DomainUnit = "dirrepl/unit/v1"
)

// hashWithDomain computes SHA-256 with domain separation:
// SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// UnitID computes the content-addressed ID of an individual update. Redelivery
// of the same write from the same partner yields the same ID, which the ledger
// uses to skip units that were already applied.
//
// The partner is part of the identity; the entry snapshot is not, since
// repaired copies may differ between deliveries while the write is the same.
func UnitID(u *Update) (string, error) {
	meta := make([]any, len(u.Metadata))
	for i, md := range u.Metadata {
		meta[i] = md.String()
	}
	vmeta := make([]any, len(u.ValueMetadata))
	for i, vm := range u.ValueMetadata {
		vmeta[i] = vm.String()
	}
	obj := map[string]any{
		"partner":        u.Partner,
		"dn":             NormalizeDN(u.Entry.DN),
		"usn":            u.USN,
		"sync_state":     u.SyncState.String(),
		"metadata":       meta,
		"value_metadata": vmeta,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("UnitID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainUnit, canonical), nil
}

// MustUnitID is like UnitID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustUnitID(u *Update) string {
	id, err := UnitID(u)
	if err != nil {
		panic(err)
	}
	return id
}
