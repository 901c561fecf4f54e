package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/roach88/dirrepl/internal/ir"
	"github.com/roach88/dirrepl/internal/testutil"
)

const testDeletedObjects = "cn=Deleted Objects,dc=vmware,dc=com"

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path,
		WithDeletedObjectsDN(testDeletedObjects),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// personAdd is a person Add with objectGUID guid, every attribute stamped usn.
func personAdd(dn, guid string, usn int64) *ir.Update {
	return testutil.NewUpdate(ir.SyncStateAdd, dn).
		GUID(guid, usn).
		Attr("objectClass", usn, "top", "person").
		Attr("cn", usn, "foo").
		Attr("sn", usn, "bar").
		USNChanged(usn).
		Build()
}

// seedEntry adds a person entry with objectGUID guid, every attribute stamped usn.
func seedEntry(t *testing.T, s *Store, dn, guid string, usn int64) {
	t.Helper()
	u := personAdd(dn, guid, usn)
	if err := s.AddEntry(context.Background(), u.Entry, u.Metadata, u.ValueMetadata); err != nil {
		t.Fatalf("AddEntry(%s) failed: %v", dn, err)
	}
}
