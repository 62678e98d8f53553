package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTransaction creates a pending source transaction.
func createTestTransaction(id string, seq int64) ir.Transaction {
	return ir.Transaction{
		ID:          id,
		MigrationID: "mig-1",
		Role:        ir.RoleSource,
		State:       ir.TxPending,
		Items: []ir.ComponentItem{
			{ComponentID: "map", InstanceID: "m1"},
			{ComponentID: "list", InstanceID: "l1"},
		},
		Seq: seq,
	}
}

func saveTransaction(t *testing.T, s *Store, tx ir.Transaction) {
	t.Helper()
	require.NoError(t, s.SaveTransaction(context.Background(), tx))
}
