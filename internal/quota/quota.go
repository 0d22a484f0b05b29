// Package quota gates how often a user may run an analysis: one free run per
// calendar day plus extra credits earned from rewarded ads.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const dailyFree = 1

var (
	// ErrQuotaExhausted means the user has no free run and no credits left.
	ErrQuotaExhausted = errors.New("no analyses left; earn a credit first")
	// ErrAdNotReady means the rewarded ad is still loading.
	ErrAdNotReady = errors.New("rewarded ad is not ready yet")
)

// State is a user's persisted quota.
type State struct {
	RemainingFree int
	ExtraCredits  int
	// LastResetDate is a calendar date at local midnight.
	LastResetDate time.Time
}

// Total returns the number of analyses the user can run right now.
func (s State) Total() int {
	return s.RemainingFree + s.ExtraCredits
}

// Store persists quota state per user.
type Store interface {
	// GetQuota returns nil, nil for a user without state.
	GetQuota(userID int64) (*State, error)
	SaveQuota(userID int64, st State) error
}

// Rewarder is the rewarded-ad collaborator.
type Rewarder interface {
	IsReady() bool
	// Show presents the ad and calls onReward if the user earned the reward.
	Show(ctx context.Context, userID int64, onReward func()) error
	// LastLoadError is non-empty when the most recent load failed.
	LastLoadError() string
}

// Source tells which pool a consumed run came from.
type Source string

const (
	SourceFree   Source = "free"
	SourceCredit Source = "credit"
)

// EarnOutcome describes how EarnCredit granted a credit.
type EarnOutcome string

const (
	// EarnRewarded means the ad was shown and the reward callback fired.
	EarnRewarded EarnOutcome = "rewarded"
	// EarnNoFill means no ad was available and the credit was granted anyway.
	EarnNoFill EarnOutcome = "no_fill"
	// EarnSkipped means the ad was shown but the user did not earn the reward.
	EarnSkipped EarnOutcome = "skipped"
)

// Manager applies quota transitions. All mutations are serialized.
type Manager struct {
	store    Store
	rewarder Rewarder
	now      func() time.Time
	mu       sync.Mutex
}

// NewManager creates a quota manager.
func NewManager(store Store, rewarder Rewarder) *Manager {
	return &Manager{
		store:    store,
		rewarder: rewarder,
		now:      time.Now,
	}
}

func (m *Manager) today() time.Time {
	now := m.now()
	y, mo, d := now.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, now.Location())
}

// load returns the stored state, or the initial state for a new user.
func (m *Manager) load(userID int64) (State, error) {
	st, err := m.store.GetQuota(userID)
	if err != nil {
		return State{}, fmt.Errorf("failed to load quota: %w", err)
	}
	if st == nil {
		return State{RemainingFree: dailyFree, ExtraCredits: 0, LastResetDate: m.today()}, nil
	}
	return *st, nil
}

func (m *Manager) save(userID int64, st State) error {
	if err := m.store.SaveQuota(userID, st); err != nil {
		return fmt.Errorf("failed to save quota: %w", err)
	}
	return nil
}

func (m *Manager) rollover(st State) (State, bool) {
	today := m.today()
	last := st.LastResetDate
	lastDay := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, today.Location())
	if today.After(lastDay) {
		st.RemainingFree = dailyFree
		st.LastResetDate = today
		return st, true
	}
	return st, false
}

// OnForeground refreshes the daily free run when a new calendar day has started
// and returns the resulting state.
func (m *Manager) OnForeground(userID int64) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load(userID)
	if err != nil {
		return State{}, err
	}
	st, changed := m.rollover(st)
	if changed {
		log.Info().Int64("userId", userID).Int("extraCredits", st.ExtraCredits).Msg("daily quota reset")
	}
	// New users are persisted on first sight as well.
	if err := m.save(userID, st); err != nil {
		return State{}, err
	}
	return st, nil
}

// Status returns the current state after applying the day rollover.
func (m *Manager) Status(userID int64) (State, error) {
	return m.OnForeground(userID)
}

// TryConsume spends one run, free first and then an extra credit.
func (m *Manager) TryConsume(userID int64) (Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load(userID)
	if err != nil {
		return "", err
	}

	var source Source
	switch {
	case st.RemainingFree > 0:
		st.RemainingFree--
		source = SourceFree
	case st.ExtraCredits > 0:
		st.ExtraCredits--
		source = SourceCredit
	default:
		return "", ErrQuotaExhausted
	}

	if err := m.save(userID, st); err != nil {
		return "", err
	}

	log.Debug().Int64("userId", userID).Str("source", string(source)).
		Int("remainingFree", st.RemainingFree).Int("extraCredits", st.ExtraCredits).
		Msg("quota consumed")
	return source, nil
}

func (m *Manager) addCredit(userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.load(userID)
	if err != nil {
		return err
	}
	st.ExtraCredits++
	return m.save(userID, st)
}

// EarnCredit asks the rewarder for an ad. When no ad can be loaded at all the
// credit is granted anyway; when one is still loading nothing changes and
// ErrAdNotReady is returned.
func (m *Manager) EarnCredit(ctx context.Context, userID int64) (EarnOutcome, error) {
	if !m.rewarder.IsReady() {
		loadErr := m.rewarder.LastLoadError()
		if loadErr == "" {
			return "", ErrAdNotReady
		}
		if err := m.addCredit(userID); err != nil {
			return "", err
		}
		log.Info().Int64("userId", userID).Str("loadError", loadErr).Msg("no ad available, credit granted")
		return EarnNoFill, nil
	}

	// The mutex is not held here because onReward may run before Show returns.
	var rewardErr error
	rewarded := false
	err := m.rewarder.Show(ctx, userID, func() {
		rewarded = true
		rewardErr = m.addCredit(userID)
	})
	if err != nil {
		return "", fmt.Errorf("failed to show ad: %w", err)
	}
	if rewardErr != nil {
		return "", rewardErr
	}
	if !rewarded {
		return EarnSkipped, nil
	}

	log.Info().Int64("userId", userID).Msg("ad reward granted")
	return EarnRewarded, nil
}
