package db

import (
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/logger"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one embedded SQL file. Its version is the file name prefix
// before the first underscore.
type migration struct {
	version string
	file    string
}

// Migrate applies every embedded migration not yet listed in
// schema_migrations, each in its own transaction. Migration 000 creates
// that table. If log is provided, progress is logged; otherwise Migrate
// operates silently.
func Migrate(db *sql.DB, log *zap.SugaredLogger) error {
	all, err := embeddedMigrations()
	if err != nil {
		return err
	}
	done, err := appliedVersions(db)
	if err != nil {
		return err
	}

	var applied int
	for _, mig := range all {
		if done[mig.version] {
			if log != nil {
				log.Debugw("Migration already applied", logger.FieldFile, mig.file)
			}
			continue
		}
		if len(done) == 0 && mig.version != "000" {
			return errors.Newf("schema_migrations table missing, but migration is not 000: %s", mig.file)
		}
		if log != nil {
			log.Infow("Applying migration", logger.FieldFile, mig.file, logger.FieldComponent, "db")
		}
		if err := apply(db, mig); err != nil {
			return err
		}
		done[mig.version] = true
		applied++
	}

	if log != nil {
		log.Infow("Database schema up to date",
			logger.FieldCount, applied,
			logger.FieldSize, len(all),
		)
	}
	return nil
}

func embeddedMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrations, migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, _, _ := strings.Cut(name, "_")
		out = append(out, migration{version: version, file: name})
	}
	slices.SortFunc(out, func(a, b migration) int { return strings.Compare(a.file, b.file) })
	return out, nil
}

// appliedVersions returns the recorded versions, or an empty set when the
// bookkeeping table does not exist yet.
func appliedVersions(db *sql.DB) (map[string]bool, error) {
	var tables int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'").Scan(&tables)
	if err != nil {
		return nil, errors.Wrap(err, "check schema_migrations")
	}
	done := make(map[string]bool)
	if tables == 0 {
		return done, nil
	}

	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, errors.Wrap(err, "list applied migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan applied migration")
		}
		done[v] = true
	}
	return done, errors.Wrap(rows.Err(), "iterate applied migrations")
}

func apply(db *sql.DB, mig migration) error {
	body, err := migrations.ReadFile(path.Join(migrationsDir, mig.file))
	if err != nil {
		return errors.Wrapf(err, "read %s", mig.file)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", mig.file)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return errors.Wrapf(err, "execute %s", mig.file)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", mig.version); err != nil {
		return errors.Wrapf(err, "record %s", mig.file)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", mig.file)
}
