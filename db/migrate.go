package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/sym"
)

// Migrations are plain SQL files named NNN_description.sql, applied in
// lexical order. 000 bootstraps the schema_migrations ledger and is the only
// file allowed to run while the ledger is missing.
//
//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// Migrate applies every embedded migration not yet recorded in
// schema_migrations. Each file runs in one transaction together with its
// ledger insert, so a failed migration leaves nothing half-applied. A nil
// logger is accepted.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	files, err := migrationFiles()
	if err != nil {
		return err
	}

	for _, name := range files {
		version, _, _ := strings.Cut(name, "_")

		applied, err := versionApplied(db, version)
		if err != nil && version != "000" {
			// The ledger itself is missing; only the bootstrap file may
			// run against a pre-ledger database.
			return errors.Newf("schema_migrations table missing, but migration is not 000: %s", name)
		}
		if applied {
			logger.Debugw("Skipping migration (already applied)", "migration", name, "version", version)
			continue
		}

		logger.Infow("Applying migration", "migration", name, "version", version)
		if err := applyMigration(db, name, version); err != nil {
			return err
		}
	}

	logger.Infow("Migrations complete", "symbol", sym.DB, "total_migrations", len(files))
	return nil
}

// migrationFiles lists the embedded *.sql files in apply order.
func migrationFiles() ([]string, error) {
	entries, err := migrationFS.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// versionApplied reports whether the ledger already records the version.
// A query error means the ledger table does not exist yet.
func versionApplied(db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// applyMigration executes one migration file and records its version, both
// in the same transaction. The bootstrap file creates the ledger and then
// records itself in it.
func applyMigration(db *sql.DB, name, version string) error {
	sqlBytes, err := migrationFS.ReadFile(path.Join(migrationDir, name))
	if err != nil {
		return errors.Wrapf(err, "read %s", name)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", name)
	}

	if _, err := tx.Exec(string(sqlBytes)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "execute %s", name)
	}

	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "record %s", name)
	}

	return errors.Wrapf(tx.Commit(), "commit %s", name)
}
