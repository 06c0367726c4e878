package commands

import (
	"database/sql"

	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/db"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/logger"
)

// openDatabase opens and migrates a database at the given path. If dbPath is
// empty the configured path is used (ROOST_DB_PATH overrides config).
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := am.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		if path == "" {
			dbPath = "roost.db"
		} else {
			dbPath = path
		}
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// resolvedDatabasePath returns the path openDatabase would use, for display.
func resolvedDatabasePath() string {
	path, err := am.GetDatabasePath()
	if err != nil || path == "" {
		return "roost.db"
	}
	return path
}
