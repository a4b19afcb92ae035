package repository

import (
	"embed"
	"io/fs"

	"github.com/garyjia/nfe-danfe/pkg/database"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema for invoices, volumes, documents and batch reports
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate applies every pending schema migration
func Migrate(db *database.DB, logger *zap.Logger) error {
	_, err := database.NewMigrator(db, logger).Run(Migrations())
	return err
}

// MigrationStatus reports the schema state of db
func MigrationStatus(db *database.DB) ([]database.MigrationStatus, error) {
	return database.NewMigrator(db, nil).Status(Migrations())
}
