package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Ordered(t *testing.T) {
	all, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, all)

	assert.Equal(t, "000", all[0].Version)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Filename, all[i].Filename)
	}
}

func TestOpenWithMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"schema_migrations", "version_cleaners", "cleaner_executions"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	all, err := Migrations()
	require.NoError(t, err)
	applied, err := AppliedVersions(db)
	require.NoError(t, err)
	assert.Len(t, applied, len(all))
}

func TestMigrate_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	// Running again applies nothing and does not fail
	require.NoError(t, Migrate(db, nil))

	applied, err := AppliedVersions(db)
	require.NoError(t, err)
	all, err := Migrations()
	require.NoError(t, err)
	assert.Len(t, applied, len(all))
}

func TestMigrate_StatusConstraint(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO version_cleaners (record_type, status, created_at, updated_at)
		VALUES ('Page', 'Paused', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	assert.Error(t, err, "unknown status should violate the CHECK constraint")
}
