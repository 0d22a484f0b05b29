package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/raine/myakuari-bot/internal/quota"
)

const dateLayout = "2006-01-02"

// GetQuota returns the stored quota state for a user.
// Returns nil, nil if the user has no state yet.
func (s *SQLiteStore) GetQuota(userID int64) (*quota.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st quota.State
	var lastReset string
	err := s.db.QueryRow(
		"SELECT remaining_free, extra_credits, last_reset_date FROM quota_state WHERE user_id = ?",
		userID,
	).Scan(&st.RemainingFree, &st.ExtraCredits, &lastReset)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query quota state: %w", err)
	}

	st.LastResetDate, err = time.ParseInLocation(dateLayout, lastReset, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid last_reset_date %q: %w", lastReset, err)
	}

	return &st, nil
}

// SaveQuota writes the whole quota state for a user in a single statement.
func (s *SQLiteStore) SaveQuota(userID int64, st quota.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO quota_state (user_id, remaining_free, extra_credits, last_reset_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			remaining_free = excluded.remaining_free,
			extra_credits = excluded.extra_credits,
			last_reset_date = excluded.last_reset_date
	`, userID, st.RemainingFree, st.ExtraCredits, st.LastResetDate.Format(dateLayout))

	if err != nil {
		return fmt.Errorf("failed to save quota state: %w", err)
	}
	return nil
}
