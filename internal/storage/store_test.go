package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raine/myakuari-bot/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	key, err := DeriveKey("test-passphrase")
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath, key)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dbPath
}

func TestNewSQLiteStore_RestrictsPermissions(t *testing.T) {
	_, dbPath := newTestStore(t)
	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestQuota_RoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	st, err := store.GetQuota(42)
	require.NoError(t, err)
	assert.Nil(t, st)

	want := quota.State{RemainingFree: 1, ExtraCredits: 3, LastResetDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local)}
	require.NoError(t, store.SaveQuota(42, want))

	got, err := store.GetQuota(42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.RemainingFree, got.RemainingFree)
	assert.Equal(t, want.ExtraCredits, got.ExtraCredits)
	assert.True(t, want.LastResetDate.Equal(got.LastResetDate))

	want.ExtraCredits = 0
	require.NoError(t, store.SaveQuota(42, want))
	got, err = store.GetQuota(42)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ExtraCredits)
}

func TestQuota_RejectsNegativeCounts(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.SaveQuota(1, quota.State{RemainingFree: -1, LastResetDate: time.Now()})
	assert.Error(t, err)
}

func TestQuota_WorksWithManager(t *testing.T) {
	store, _ := newTestStore(t)
	m := quota.NewManager(store, nil)

	st, err := m.OnForeground(7)
	require.NoError(t, err)
	assert.Equal(t, 1, st.RemainingFree)

	_, err = m.TryConsume(7)
	require.NoError(t, err)
	_, err = m.TryConsume(7)
	assert.ErrorIs(t, err, quota.ErrQuotaExhausted)
}

func TestSecrets_EncryptedAtRest(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.SaveSecret("proxy_token", "super-secret"))

	var raw string
	require.NoError(t, store.db.QueryRow("SELECT encrypted_value FROM secrets WHERE key = ?", "proxy_token").Scan(&raw))
	assert.NotContains(t, raw, "super-secret")

	value, ok, err := store.ReadSecret("proxy_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "super-secret", value)

	_, ok, err = store.ReadSecret("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSecrets_WrongKeyFails(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	key, _ := DeriveKey("first")
	store, err := NewSQLiteStore(dbPath, key)
	require.NoError(t, err)
	require.NoError(t, store.SaveSecret("k", "v"))
	store.Close()

	other, _ := DeriveKey("second")
	store, err = NewSQLiteStore(dbPath, other)
	require.NoError(t, err)
	defer store.Close()

	_, _, err = store.ReadSecret("k")
	assert.Error(t, err)
}

func TestEnsureSecret(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.EnsureSecret("proxy_token", "")
	assert.True(t, errors.Is(err, ErrSecretMissing))

	value, err := store.EnsureSecret("proxy_token", "real-token")
	require.NoError(t, err)
	assert.Equal(t, "real-token", value)

	// A placeholder in the environment falls back to the stored value.
	value, err = store.EnsureSecret("proxy_token", "YOUR_PROXY_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "real-token", value)
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder(""))
	assert.True(t, IsPlaceholder("  "))
	assert.True(t, IsPlaceholder("_TOKEN_"))
	assert.True(t, IsPlaceholder("YOUR_API_KEY"))
	assert.True(t, IsPlaceholder("your_api_key"))
	assert.False(t, IsPlaceholder("abc123"))
}

func TestAttempts(t *testing.T) {
	store, _ := newTestStore(t)

	first, err := store.RecordAttempt(5, "success", 2)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	time.Sleep(5 * time.Millisecond)
	_, err = store.RecordAttempt(5, "transport_error", 0)
	require.NoError(t, err)
	_, err = store.RecordAttempt(6, "success", 1)
	require.NoError(t, err)

	attempts, err := store.RecentAttempts(5, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "transport_error", attempts[0].Outcome)
	assert.Equal(t, "success", attempts[1].Outcome)
	assert.Equal(t, 2, attempts[1].ImageCount)

	attempts, err = store.RecentAttempts(5, 1)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestEncryptDecrypt(t *testing.T) {
	key, err := DeriveKey("passphrase")
	require.NoError(t, err)
	assert.Len(t, key, 32)

	again, err := DeriveKey("passphrase")
	require.NoError(t, err)
	assert.Equal(t, key, again)

	enc, err := Encrypt([]byte("hello"), key)
	require.NoError(t, err)
	dec, err := Decrypt(enc, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), dec)

	_, err = Decrypt("AAAA", key)
	assert.Error(t, err)

	_, err = DeriveKey("")
	assert.Error(t, err)
}
