package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"github.com/stretchr/testify/require"
)

// OpenSQLite opens a file-backed SQLite database under t.TempDir().
//
// A single open connection serializes writers, which avoids SQLITE_BUSY
// under concurrent test goroutines.
//
// Parameters:
//   - t: The testing context
//
// Returns:
//   - *sql.DB: An open database, closed when the test completes
func OpenSQLite(t *testing.T) *sql.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "rewind.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err, "failed to open sqlite database")

	db.SetMaxOpenConns(1)
	require.NoError(t, db.Ping(), "failed to ping sqlite database")

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}
