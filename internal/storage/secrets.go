package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrSecretMissing is returned by EnsureSecret when neither the environment
// nor the store holds a usable value.
var ErrSecretMissing = errors.New("secret is missing or still a placeholder")

// SaveSecret encrypts and stores a value under key.
func (s *SQLiteStore) SaveSecret(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encrypted, err := Encrypt([]byte(value), s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO secrets (key, encrypted_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			encrypted_value = excluded.encrypted_value,
			updated_at = excluded.updated_at
	`, key, encrypted, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save secret: %w", err)
	}
	return nil
}

// ReadSecret returns the decrypted value for key and whether it was found.
func (s *SQLiteStore) ReadSecret(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var encrypted string
	err := s.db.QueryRow("SELECT encrypted_value FROM secrets WHERE key = ?", key).Scan(&encrypted)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query secret: %w", err)
	}

	plaintext, err := Decrypt(encrypted, s.encryptionKey)
	if err != nil {
		return "", false, fmt.Errorf("failed to decrypt secret %q: %w", key, err)
	}
	return string(plaintext), true, nil
}

// EnsureSecret stores fromEnv under key when it is a real value, otherwise
// falls back to the previously stored value.
func (s *SQLiteStore) EnsureSecret(key, fromEnv string) (string, error) {
	if !IsPlaceholder(fromEnv) {
		if err := s.SaveSecret(key, fromEnv); err != nil {
			return "", err
		}
		return fromEnv, nil
	}

	stored, ok, err := s.ReadSecret(key)
	if err != nil {
		return "", err
	}
	if !ok || IsPlaceholder(stored) {
		return "", fmt.Errorf("%w: %s", ErrSecretMissing, key)
	}

	log.Info().Str("key", key).Msg("using stored secret")
	return stored, nil
}

// IsPlaceholder reports whether v is empty or looks like an unfilled template
// value such as "_TOKEN_" or "YOUR_API_KEY".
func IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.HasPrefix(v, "_") || strings.HasPrefix(strings.ToUpper(v), "YOUR_")
}
