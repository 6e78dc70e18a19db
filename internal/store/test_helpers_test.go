package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/classwatch/internal/ir"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a record with minimal fields.
func createTestRecord(id, flow, provider, operation string, seq int64) ir.ActionRecord {
	return ir.ActionRecord{
		ID:        id,
		Flow:      flow,
		Provider:  provider,
		Operation: operation,
		Input:     ir.IRObject{},
		Output:    ir.IRObject{},
		Seq:       seq,
		At:        time.Unix(1700000000, seq).UTC(),
	}
}
