package metrics

import (
	"database/sql"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/logger"
)

// schemaTables lists the tables createTablesSQL creates.
var schemaTables = []string{"frames", "faults", "schema_versions"}

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS frames (
	       id             INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp_ms   INTEGER NOT NULL,
	       value          REAL NOT NULL,
	       fill_level     INTEGER NOT NULL CHECK (fill_level >= 0),
	       stepper_target REAL NOT NULL,
	       backlight_on   INTEGER NOT NULL CHECK (backlight_on IN (0, 1))
	   );
	   CREATE INDEX IF NOT EXISTS frames_timestamp ON frames (timestamp_ms);
	   CREATE TABLE IF NOT EXISTS faults (
	       id           INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp_ms INTEGER NOT NULL,
	       subsystem    TEXT NOT NULL,
	       cause        TEXT NOT NULL,
	       severity     TEXT NOT NULL,
	       message      TEXT NOT NULL
	   );`

	insertFrameSQL = `
    INSERT INTO frames (
        timestamp_ms, value, fill_level, stepper_target, backlight_on
    ) VALUES (?, ?, ?, ?, ?)`

	insertFaultSQL = `
    INSERT INTO faults (
        timestamp_ms, subsystem, cause, severity, message
    ) VALUES (?, ?, ?, ?, ?)`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				// Only log if it's not the "already committed" error
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	// Execute schema creation
	log.Debug().Str("sql", createTablesSQL).Msg("Executing SQL statement")
	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	log.Debug().Msg("Recording schema version...")
	// Record schema version
	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	log.Debug().Msg("Committing transaction...")
	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}

// GetInsertFrameSQL returns the SQL to insert a rendered frame
func GetInsertFrameSQL() string {
	return insertFrameSQL
}

// GetInsertFaultSQL returns the SQL to insert a fault
func GetInsertFaultSQL() string {
	return insertFaultSQL
}
