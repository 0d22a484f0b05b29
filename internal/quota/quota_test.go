package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	states map[int64]State
	saves  int
}

func newMemStore() *memStore {
	return &memStore{states: make(map[int64]State)}
}

func (s *memStore) GetQuota(userID int64) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *memStore) SaveQuota(userID int64, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[userID] = st
	s.saves++
	return nil
}

type rewarderMock struct {
	mock.Mock
}

func (m *rewarderMock) IsReady() bool {
	return m.Called().Bool(0)
}

func (m *rewarderMock) Show(ctx context.Context, userID int64, onReward func()) error {
	args := m.Called(ctx, userID, onReward)
	if args.Bool(1) {
		onReward()
	}
	return args.Error(0)
}

func (m *rewarderMock) LastLoadError() string {
	return m.Called().String(0)
}

func date(y int, mo time.Month, d int) time.Time {
	return time.Date(y, mo, d, 0, 0, 0, 0, time.Local)
}

func newTestManager(store Store, rewarder Rewarder, now time.Time) *Manager {
	m := NewManager(store, rewarder)
	m.now = func() time.Time { return now }
	return m
}

func TestOnForeground_NewUserGetsInitialState(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store, new(rewarderMock), time.Date(2025, 3, 10, 15, 4, 5, 0, time.Local))

	st, err := m.OnForeground(1)
	require.NoError(t, err)
	assert.Equal(t, State{RemainingFree: 1, ExtraCredits: 0, LastResetDate: date(2025, 3, 10)}, st)
	assert.Contains(t, store.states, int64(1))
}

func TestOnForeground_RolloverResetsFreeKeepsCredits(t *testing.T) {
	store := newMemStore()
	store.states[1] = State{RemainingFree: 0, ExtraCredits: 2, LastResetDate: date(2025, 3, 9)}
	m := newTestManager(store, new(rewarderMock), time.Date(2025, 3, 10, 0, 0, 1, 0, time.Local))

	st, err := m.OnForeground(1)
	require.NoError(t, err)
	assert.Equal(t, 1, st.RemainingFree)
	assert.Equal(t, 2, st.ExtraCredits)
	assert.Equal(t, date(2025, 3, 10), st.LastResetDate)
}

func TestOnForeground_SameDayNoChange(t *testing.T) {
	store := newMemStore()
	store.states[1] = State{RemainingFree: 0, ExtraCredits: 0, LastResetDate: date(2025, 3, 10)}
	m := newTestManager(store, new(rewarderMock), time.Date(2025, 3, 10, 23, 59, 59, 0, time.Local))

	st, err := m.OnForeground(1)
	require.NoError(t, err)
	assert.Equal(t, 0, st.RemainingFree)
}

func TestTryConsume_FreeThenCreditThenExhausted(t *testing.T) {
	store := newMemStore()
	store.states[1] = State{RemainingFree: 1, ExtraCredits: 1, LastResetDate: date(2025, 3, 10)}
	m := newTestManager(store, new(rewarderMock), time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local))

	source, err := m.TryConsume(1)
	require.NoError(t, err)
	assert.Equal(t, SourceFree, source)
	assert.Equal(t, State{0, 1, date(2025, 3, 10)}, store.states[1])

	source, err = m.TryConsume(1)
	require.NoError(t, err)
	assert.Equal(t, SourceCredit, source)
	assert.Equal(t, State{0, 0, date(2025, 3, 10)}, store.states[1])

	_, err = m.TryConsume(1)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Equal(t, State{0, 0, date(2025, 3, 10)}, store.states[1])
}

func TestTryConsume_NeverNegative(t *testing.T) {
	store := newMemStore()
	store.states[1] = State{RemainingFree: 0, ExtraCredits: 0, LastResetDate: date(2025, 3, 10)}
	m := newTestManager(store, new(rewarderMock), time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.TryConsume(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, store.states[1].RemainingFree)
	assert.Equal(t, 0, store.states[1].ExtraCredits)
}

func TestTryConsume_ConcurrentSpendsExactlyAvailable(t *testing.T) {
	store := newMemStore()
	store.states[1] = State{RemainingFree: 1, ExtraCredits: 4, LastResetDate: date(2025, 3, 10)}
	m := newTestManager(store, new(rewarderMock), time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local))

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.TryConsume(1); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, granted)
	assert.Equal(t, 0, store.states[1].Total())
}

func TestEarnCredit_RewardedAd(t *testing.T) {
	store := newMemStore()
	store.states[1] = State{RemainingFree: 0, ExtraCredits: 0, LastResetDate: date(2025, 3, 10)}
	rewarder := new(rewarderMock)
	rewarder.On("IsReady").Return(true)
	rewarder.On("Show", mock.Anything, int64(1), mock.Anything).Return(nil, true).Once()
	m := newTestManager(store, rewarder, time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local))

	outcome, err := m.EarnCredit(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, EarnRewarded, outcome)
	assert.Equal(t, 1, store.states[1].ExtraCredits)

	source, err := m.TryConsume(1)
	require.NoError(t, err)
	assert.Equal(t, SourceCredit, source)
	rewarder.AssertExpectations(t)
}

func TestEarnCredit_ShownWithoutReward(t *testing.T) {
	store := newMemStore()
	rewarder := new(rewarderMock)
	rewarder.On("IsReady").Return(true)
	rewarder.On("Show", mock.Anything, int64(1), mock.Anything).Return(nil, false).Once()
	m := newTestManager(store, rewarder, time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local))

	outcome, err := m.EarnCredit(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, EarnSkipped, outcome)
	assert.NotContains(t, store.states, int64(1))
}

func TestEarnCredit_ShowFails(t *testing.T) {
	rewarder := new(rewarderMock)
	rewarder.On("IsReady").Return(true)
	rewarder.On("Show", mock.Anything, int64(1), mock.Anything).Return(errors.New("chat blocked"), false).Once()
	m := newTestManager(newMemStore(), rewarder, time.Now())

	_, err := m.EarnCredit(context.Background(), 1)
	assert.ErrorContains(t, err, "chat blocked")
}

func TestEarnCredit_NoFillGrantsCredit(t *testing.T) {
	store := newMemStore()
	store.states[1] = State{RemainingFree: 0, ExtraCredits: 0, LastResetDate: date(2025, 3, 10)}
	rewarder := new(rewarderMock)
	rewarder.On("IsReady").Return(false)
	rewarder.On("LastLoadError").Return("no sponsor slots")
	m := newTestManager(store, rewarder, time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local))

	outcome, err := m.EarnCredit(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, EarnNoFill, outcome)
	assert.Equal(t, 1, store.states[1].ExtraCredits)
	rewarder.AssertNotCalled(t, "Show", mock.Anything, mock.Anything, mock.Anything)
}

func TestEarnCredit_StillLoadingChangesNothing(t *testing.T) {
	store := newMemStore()
	store.states[1] = State{RemainingFree: 0, ExtraCredits: 0, LastResetDate: date(2025, 3, 10)}
	rewarder := new(rewarderMock)
	rewarder.On("IsReady").Return(false)
	rewarder.On("LastLoadError").Return("")
	m := newTestManager(store, rewarder, time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local))

	_, err := m.EarnCredit(context.Background(), 1)
	assert.ErrorIs(t, err, ErrAdNotReady)
	assert.Equal(t, 0, store.states[1].ExtraCredits)
	assert.Equal(t, 0, store.saves)
}
