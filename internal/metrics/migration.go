package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/logger"
)

// ValidateAndUpdateSchema makes db carry schema version SchemaVersion. There
// are no incremental migrations: a database at any other version is copied
// into backupDir, its frame and fault history is dropped and the schema is
// created afresh.
func ValidateAndUpdateSchema(db *sql.DB, backupDir string, log logger.Logger) error {
	errFactory := errors.New()

	version, err := GetSchemaVersion(db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	switch version {
	case SchemaVersion:
		log.Debug().Int("version", version).Msg("Metrics schema is current")
		return nil
	case 0:
		log.Debug().Msg("No metrics schema recorded")
	default:
		log.Warn().
			Int("found", version).
			Int("want", SchemaVersion).
			Msg("Metrics schema version mismatch, recreating")

		if _, err := backupHistory(db, backupDir, version, log); err != nil {
			return errFactory.Wrap(ErrSchemaMigrationFailed, err)
		}
	}

	if err := dropSchema(db); err != nil {
		return err
	}

	return InitSchema(db, log)
}

// backupName is the file a database at version is copied to.
func backupName(version int, at time.Time) string {
	return fmt.Sprintf("gaugectl_history_v%d_%s.db", version, at.UTC().Format("20060102T150405Z"))
}

func backupHistory(db *sql.DB, backupDir string, version int, log logger.Logger) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(backupDir, defaultDirPerm); err != nil {
		return "", errFactory.WithData(ErrSchemaInitFailed, fmt.Sprintf("backup dir %s: %v", backupDir, err))
	}

	path := filepath.Join(backupDir, backupName(version, time.Now()))
	if _, err := db.Exec("VACUUM INTO ?", path); err != nil {
		return "", errFactory.WithData(ErrSchemaInitFailed, fmt.Sprintf("backup %s: %v", path, err))
	}

	log.Info().
		Str("path", path).
		Int("version", version).
		Msg("Metrics history backed up")

	return path, nil
}

// dropSchema removes every table createTablesSQL creates. Indexes go with
// their tables.
func dropSchema(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	for _, table := range schemaTables {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			_ = tx.Rollback()
			return errFactory.WithData(ErrSchemaMigrationFailed, fmt.Sprintf("drop %s: %v", table, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	return nil
}
