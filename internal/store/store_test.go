package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	for i := range 3 {
		s, err := Open(path)
		require.NoError(t, err, "open %d", i)
		require.NoError(t, s.Close())
	}
	_, err := os.Stat(path)
	require.NoError(t, err)

	s := createTestStore(t)
	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&count))
	assert.Zero(t, count)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/journal.db")
	assert.Error(t, err)
}

func TestClose_ZeroStore(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1", // NORMAL
		"busy_timeout": "5000",
		"foreign_keys": "1",
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			var got string
			require.NoError(t, s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&got))
			assert.Equal(t, want, got)
		})
	}
}

func TestSchema_Tables(t *testing.T) {
	s := createTestStore(t)

	tests := map[string][]string{
		"transactions":            {"id", "migration_id", "role", "state", "code", "error", "items", "seq"},
		"transaction_transitions": {"id", "transaction_id", "from_state", "to_state", "detail", "seq"},
		"checkpoints":             {"transaction_id", "instance_id", "component_id", "digest", "state"},
	}
	for table, want := range tests {
		assert.Subset(t, tableColumns(t, s.db, table), want, table)
	}
	assert.Subset(t, tableIndexes(t, s.db, "transactions"),
		[]string{"idx_transactions_migration", "idx_transactions_seq"})
}

func TestSchema_Constraints(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO transaction_transitions (transaction_id, from_state, to_state, seq)
		VALUES ('ghost', 'PENDING', 'PREPARING', 1)`)
	assert.Error(t, err, "transition without transaction")

	_, err = s.db.Exec(`INSERT INTO transactions (id, migration_id, role, state, items, seq)
		VALUES ('tx', 'mig', 'sideways', 'PENDING', '[]', 1)`)
	assert.Error(t, err, "unknown role")
}

func TestMigrate_FromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	// A v0 journal: schema without the transitions index.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE transactions (id TEXT PRIMARY KEY, migration_id TEXT NOT NULL,
		role TEXT NOT NULL, state TEXT NOT NULL, code INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '', items TEXT NOT NULL, seq INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE transaction_transitions (id INTEGER PRIMARY KEY AUTOINCREMENT,
		transaction_id TEXT NOT NULL REFERENCES transactions(id), from_state TEXT NOT NULL,
		to_state TEXT NOT NULL, detail TEXT NOT NULL DEFAULT '', seq INTEGER NOT NULL,
		UNIQUE (transaction_id, seq))`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	for range 2 {
		s, err := Open(path)
		require.NoError(t, err)

		var version int
		require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
		assert.Equal(t, len(migrations), version)
		assert.Contains(t, tableIndexes(t, s.db, "transaction_transitions"), "idx_transitions_transaction")
		require.NoError(t, s.Close())
	}
}

func tableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	require.NoError(t, err)
	return scanNames(t, rows)
}

func tableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ?", table)
	require.NoError(t, err)
	return scanNames(t, rows)
}

func scanNames(t *testing.T, rows *sql.Rows) []string {
	t.Helper()
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	slices.Sort(names)
	return names
}
