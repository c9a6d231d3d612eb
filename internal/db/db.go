package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/modrelay/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the ledger database file created inside the data directory.
const FileName = "modrelay.db"

// Init initializes the SQLite ledger at baseDir/modrelay.db.
// The baseDir parameter allows tests to use t.TempDir() instead of the configured data dir.
func Init(baseDir string) (*sql.DB, error) {
	return Open(filepath.Join(baseDir, FileName))
}

// Open initializes the SQLite ledger at dbPath, creating its directory
// (and an exports directory next to it) when missing.
func Open(dbPath string) (*sql.DB, error) {
	baseDir := filepath.Dir(dbPath)

	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Pragmas in the connection string apply to every pooled connection
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.Storage.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Storage.DBMaxOpenConns)
	}
	if cfg.Storage.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Storage.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: submissions ledger
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS submissions (
		  id                  TEXT PRIMARY KEY,
		  submitter_id        INTEGER NOT NULL,
		  submitter_chat_id   INTEGER NOT NULL,
		  submitter_role      TEXT NOT NULL,
		  subject             TEXT NOT NULL,
		  kind                TEXT NOT NULL,
		  items_json          TEXT NOT NULL,
		  review_chat_id      INTEGER,
		  control_message_id  INTEGER,
		  header_message_id   INTEGER,
		  review_ids_json     TEXT,
		  status              TEXT NOT NULL,
		  decided_by          INTEGER,
		  decided_by_alias    TEXT,
		  error               TEXT,
		  created_at          INTEGER NOT NULL,
		  updated_at          INTEGER NOT NULL,
		  decided_at          INTEGER
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_control
		ON submissions(review_chat_id, control_message_id)
		WHERE control_message_id IS NOT NULL;

		CREATE INDEX IF NOT EXISTS idx_submissions_status_created
		ON submissions(status, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_submissions_submitter
		ON submissions(submitter_id, created_at DESC);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
