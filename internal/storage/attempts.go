package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Attempt is one analysis attempt. Inputs and results are never stored.
type Attempt struct {
	ID         string
	UserID     int64
	Outcome    string
	ImageCount int
	CreatedAt  time.Time
}

// RecordAttempt appends an attempt to the log.
func (s *SQLiteStore) RecordAttempt(userID int64, outcome string, imageCount int) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := &Attempt{
		ID:         uuid.New().String(),
		UserID:     userID,
		Outcome:    outcome,
		ImageCount: imageCount,
		CreatedAt:  time.Now(),
	}

	_, err := s.db.Exec(
		`INSERT INTO analysis_attempts (id, user_id, outcome, image_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		attempt.ID, attempt.UserID, attempt.Outcome, attempt.ImageCount, attempt.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}

	return attempt, nil
}

// RecentAttempts returns up to limit attempts for a user, newest first.
func (s *SQLiteStore) RecentAttempts(userID int64, limit int) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, user_id, outcome, image_count, created_at FROM analysis_attempts
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.UserID, &a.Outcome, &a.ImageCount, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}
