package storage

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists quota state, encrypted secrets and the attempt log.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey []byte
	mu            sync.RWMutex
}

// NewSQLiteStore opens (or creates) the database at dbPath.
// The encryptionKey is used to encrypt/decrypt values in the secret store.
func NewSQLiteStore(dbPath string, encryptionKey []byte) (*SQLiteStore, error) {
	// Configure SQLite with WAL mode and busy timeout for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		db:            db,
		encryptionKey: encryptionKey,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	// The file only exists after the first statement has run
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		db.Close()
		return nil, fmt.Errorf("failed to restrict database permissions: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	quotaQuery := `
	CREATE TABLE IF NOT EXISTS quota_state (
		user_id INTEGER PRIMARY KEY,
		remaining_free INTEGER NOT NULL CHECK (remaining_free >= 0),
		extra_credits INTEGER NOT NULL CHECK (extra_credits >= 0),
		last_reset_date TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(quotaQuery); err != nil {
		return fmt.Errorf("failed to create quota_state table: %w", err)
	}

	secretsQuery := `
	CREATE TABLE IF NOT EXISTS secrets (
		key TEXT PRIMARY KEY,
		encrypted_value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(secretsQuery); err != nil {
		return fmt.Errorf("failed to create secrets table: %w", err)
	}

	attemptsQuery := `
	CREATE TABLE IF NOT EXISTS analysis_attempts (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		image_count INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(attemptsQuery); err != nil {
		return fmt.Errorf("failed to create analysis_attempts table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_attempts_user ON analysis_attempts(user_id, created_at)"); err != nil {
		return fmt.Errorf("failed to create attempts index: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
