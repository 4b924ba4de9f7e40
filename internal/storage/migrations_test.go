package storage

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrationRunner_FreshDB(t *testing.T) {
	db := openTestDB(t)
	runner := NewMigrationRunner(db)

	err := runner.Run()
	require.NoError(t, err)

	for _, table := range []string{"kv", "audit_log", "schema_migrations"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}

	version, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestMigrationRunner_Idempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationRunner(db).Run())

	var installID string
	require.NoError(t, db.QueryRow("SELECT value FROM kv WHERE key = ?", KeyInstallID).Scan(&installID))
	assert.Len(t, installID, 36)

	require.NoError(t, NewMigrationRunner(db).Run())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)

	var again string
	require.NoError(t, db.QueryRow("SELECT value FROM kv WHERE key = ?", KeyInstallID).Scan(&again))
	assert.Equal(t, installID, again)
}

func TestMigrationRunner_RejectsUnknownJournalMode(t *testing.T) {
	db := openTestDB(t)
	err := NewMigrationRunner(db).WithJournalMode("bogus; DROP TABLE kv").Run()
	assert.Error(t, err)
}
