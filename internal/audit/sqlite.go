// ABOUTME: SQLite-backed audit store using modernc.org/sqlite
// ABOUTME: Opens the database in WAL mode and creates the schema on first use

package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore records sign events in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens or creates the database at path. Parent directories
// are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "audit")

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("audit store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sign_log (
			sign_id     TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			label       TEXT NOT NULL,
			store       TEXT NOT NULL,
			client      TEXT NOT NULL,
			client_pid  INTEGER,
			client_exe  TEXT,
			serialized  INTEGER NOT NULL,
			outcome     TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			ts          TEXT NOT NULL,

			CHECK (outcome IN ('signed', 'user_denied', 'hardware_error', 'timeout', 'vetoed'))
		);

		CREATE INDEX IF NOT EXISTS idx_sign_log_ts ON sign_log(ts);
		CREATE INDEX IF NOT EXISTS idx_sign_log_fingerprint ON sign_log(fingerprint, ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
