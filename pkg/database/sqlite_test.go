package database

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var testMigrations = fstest.MapFS{
	"002_add_column.sql":    {Data: []byte(`ALTER TABLE things ADD COLUMN size INTEGER;`)},
	"001_create_things.sql": {Data: []byte(`CREATE TABLE things (name TEXT PRIMARY KEY);`)},
	"README.md":             {Data: []byte(`ignored`)},
}

func TestMigrator_Run(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, zap.NewNop())

	n, err := m.Run(testMigrations)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// second run is a no-op
	n, err = m.Run(testMigrations)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	applied, err := m.AppliedVersions()
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{1: true, 2: true}, applied)

	_, err = db.Exec(`INSERT INTO things (name, size) VALUES ('a', 1)`)
	assert.NoError(t, err)
}

func mustMigrate(t *testing.T, db *DB) {
	t.Helper()
	_, err := NewMigrator(db, nil).Run(testMigrations)
	require.NoError(t, err)
}

func TestMigrator_Status(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, nil)

	partial := fstest.MapFS{"001_create_things.sql": testMigrations["001_create_things.sql"]}
	_, err := m.Run(partial)
	require.NoError(t, err)

	statuses, err := m.Status(testMigrations)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.Equal(t, "create_things", statuses[0].Name)
	assert.False(t, statuses[0].AppliedAt.IsZero())
	assert.False(t, statuses[1].Applied)
	assert.Len(t, statuses[1].Checksum, 64)
}

func TestMigrator_DetectsEditedMigration(t *testing.T) {
	db := openTestDB(t)
	mustMigrate(t, db)

	edited := fstest.MapFS{
		"001_create_things.sql": {Data: []byte(`CREATE TABLE things (name TEXT);`)},
		"002_add_column.sql":    testMigrations["002_add_column.sql"],
	}
	_, err := NewMigrator(db, nil).Run(edited)
	assert.ErrorIs(t, err, ErrMigrationChanged)
}

func TestMigrator_FailedMigrationNotRecorded(t *testing.T) {
	db := openTestDB(t)
	m := NewMigrator(db, nil)

	broken := fstest.MapFS{
		"001_create_things.sql": testMigrations["001_create_things.sql"],
		"002_broken.sql":        {Data: []byte(`ALTER TABLE missing ADD COLUMN x INTEGER;`)},
	}
	n, err := m.Run(broken)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, err.Error(), "002_broken")

	applied, err := m.AppliedVersions()
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{1: true}, applied)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(fstest.MapFS{"x_bad.sql": {Data: []byte(`SELECT 1;`)}})
	assert.Error(t, err)

	_, err = Load(fstest.MapFS{"000_zero.sql": {Data: []byte(`SELECT 1;`)}})
	assert.Error(t, err)

	_, err = Load(fstest.MapFS{
		"001_a.sql": {Data: []byte(`SELECT 1;`)},
		"1_b.sql":   {Data: []byte(`SELECT 1;`)},
	})
	assert.Error(t, err)
}

func TestWithTransaction(t *testing.T) {
	db := openTestDB(t)
	mustMigrate(t, db)

	boom := errors.New("boom")
	err := db.WithTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO things (name) VALUES ('rolled-back')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM things`).Scan(&count))
	assert.Equal(t, 0, count)

	assert.Panics(t, func() {
		_ = db.WithTransaction(func(tx *sql.Tx) error {
			_, _ = tx.Exec(`INSERT INTO things (name) VALUES ('panicked')`)
			panic("unexpected")
		})
	})
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM things`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestIsUniqueViolation(t *testing.T) {
	db := openTestDB(t)
	mustMigrate(t, db)

	_, err := db.Exec(`INSERT INTO things (name) VALUES ('dup')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO things (name) VALUES ('dup')`)
	require.Error(t, err)

	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(errors.New("other")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestNew_InMemory(t *testing.T) {
	db, err := New(Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	defer db.Close()

	mustMigrate(t, db)
}
