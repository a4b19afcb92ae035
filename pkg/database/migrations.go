package database

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrMigrationChanged is returned when an applied migration file no longer
// matches the checksum recorded when it ran
var ErrMigrationChanged = errors.New("applied migration was modified")

// Migration is one numbered schema change read from NNN_name.sql
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// MigrationStatus describes one known migration against the database
type MigrationStatus struct {
	Migration
	Applied   bool
	AppliedAt time.Time
}

type appliedMigration struct {
	checksum  string
	appliedAt time.Time
}

// Migrator applies pending migrations
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{db: db, logger: logger}
}

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

func (m *Migrator) applied() (map[int]appliedMigration, error) {
	if _, err := m.db.Exec(schemaMigrationsDDL); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := m.db.Query(`SELECT version, checksum, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]appliedMigration)
	for rows.Next() {
		var (
			version int
			rec     appliedMigration
		)
		if err := rows.Scan(&version, &rec.checksum, &rec.appliedAt); err != nil {
			return nil, err
		}
		out[version] = rec
	}
	return out, rows.Err()
}

// AppliedVersions returns the versions recorded in schema_migrations
func (m *Migrator) AppliedVersions() (map[int]bool, error) {
	applied, err := m.applied()
	if err != nil {
		return nil, err
	}
	versions := make(map[int]bool, len(applied))
	for v := range applied {
		versions[v] = true
	}
	return versions, nil
}

// Status lists every migration in fsys with its applied state. A migration
// whose content changed after it ran yields ErrMigrationChanged.
func (m *Migrator) Status(fsys fs.FS) ([]MigrationStatus, error) {
	migrations, err := Load(fsys)
	if err != nil {
		return nil, err
	}
	applied, err := m.applied()
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Migration: mig}
		if rec, ok := applied[mig.Version]; ok {
			if rec.checksum != mig.Checksum {
				return nil, fmt.Errorf("%w: %03d_%s", ErrMigrationChanged, mig.Version, mig.Name)
			}
			st.Applied = true
			st.AppliedAt = rec.appliedAt
		}
		out = append(out, st)
	}
	return out, nil
}

// Run applies every pending migration found in fsys, lowest version first,
// each in its own transaction. It returns the number applied.
func (m *Migrator) Run(fsys fs.FS) (int, error) {
	statuses, err := m.Status(fsys)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, st := range statuses {
		if st.Applied {
			continue
		}
		m.logger.Info("Applying migration",
			zap.Int("version", st.Version),
			zap.String("name", st.Name))

		if err := m.apply(st.Migration); err != nil {
			return count, fmt.Errorf("migration %03d_%s: %w", st.Version, st.Name, err)
		}
		count++
	}

	m.logger.Info("Database migrations completed", zap.Int("applied", count))
	return count, nil
}

func (m *Migrator) apply(mig Migration) error {
	return m.db.WithTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(mig.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(
			`INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)`,
			mig.Version, mig.Name, mig.Checksum)
		return err
	})
}

// Load reads the NNN_name.sql files at the top of fsys. Other files are
// ignored; a bad prefix or a reused version number is an error.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	byVersion := make(map[int]Migration)
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}

		prefix, name, _ := strings.Cut(strings.TrimSuffix(e.Name(), ".sql"), "_")
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("invalid migration filename: %s", e.Name())
		}
		if prev, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("migration version %d used by %s and %s", version, prev.Name, name)
		}

		content, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		byVersion[version] = Migration{
			Version:  version,
			Name:     name,
			SQL:      string(content),
			Checksum: hex.EncodeToString(sum[:]),
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		out = append(out, mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
