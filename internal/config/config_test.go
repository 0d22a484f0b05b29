package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"BOT_TOKEN", "ANALYSIS_BACKEND", "ANALYSIS_ENDPOINT", "ANALYSIS_PROXY_TOKEN", "GEMINI_API_KEY",
	"ANALYSIS_MODEL", "ANALYSIS_SCHEMA_VARIANT", "ANALYSIS_TIMEOUT", "ANALYSIS_TEMPERATURE",
	"ANALYSIS_TOP_P", "ANALYSIS_TOP_K", "ANALYSIS_MAX_OUTPUT_TOKENS", "IMAGE_MAX_WIDTH",
	"IMAGE_MAX_HEIGHT", "IMAGE_MAX_BYTES", "IMAGE_MAX_SOURCE_PIXELS", "IMAGE_STRICT_LIMIT",
	"MYAKUARI_DB_PATH", "MYAKUARI_SECRET_KEY", "SPONSOR_FEED_URL", "SPONSOR_REFRESH",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("MYAKUARI_SECRET_KEY", "passphrase")
	t.Setenv("ANALYSIS_ENDPOINT", "https://proxy.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendProxy, cfg.Backend)
	assert.Equal(t, "gemini-2.0-flash", cfg.Model)
	assert.Equal(t, "couple", cfg.SchemaVariant)
	assert.Equal(t, 120*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 1280, cfg.ImageMaxWidth)
	assert.Equal(t, 720, cfg.ImageMaxHeight)
	assert.Equal(t, 1_000_000, cfg.ImageMaxBytes)
	assert.Equal(t, 50_000_000, cfg.ImageMaxSourcePixels)
	assert.True(t, cfg.ImageStrict)
	assert.Equal(t, "myakuari.db", cfg.DBPath)
	assert.Nil(t, cfg.Temperature)
	assert.Nil(t, cfg.TopK)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("MYAKUARI_SECRET_KEY", "passphrase")
	t.Setenv("ANALYSIS_BACKEND", "GEMINI")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("ANALYSIS_TEMPERATURE", "0.1")
	t.Setenv("ANALYSIS_TOP_K", "5")
	t.Setenv("ANALYSIS_TIMEOUT", "0s")
	t.Setenv("IMAGE_STRICT_LIMIT", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendGemini, cfg.Backend)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.1, *cfg.Temperature, 1e-9)
	require.NotNil(t, cfg.TopK)
	assert.Equal(t, 5, *cfg.TopK)
	assert.Equal(t, time.Duration(0), cfg.RequestTimeout)
	assert.False(t, cfg.ImageStrict)
}

func TestLoad_MissingRequired(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOT_TOKEN")
	assert.Contains(t, err.Error(), "MYAKUARI_SECRET_KEY")
	assert.Contains(t, err.Error(), "ANALYSIS_ENDPOINT")
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("MYAKUARI_SECRET_KEY", "passphrase")
	t.Setenv("ANALYSIS_ENDPOINT", "https://proxy.example.com")
	t.Setenv("IMAGE_MAX_BYTES", "lots")
	t.Setenv("ANALYSIS_BACKEND", "carrier-pigeon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMAGE_MAX_BYTES must be an integer")
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestLoad_OutOfRange(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("MYAKUARI_SECRET_KEY", "passphrase")
	t.Setenv("ANALYSIS_ENDPOINT", "https://proxy.example.com")
	t.Setenv("IMAGE_MAX_WIDTH", "0")
	t.Setenv("IMAGE_MAX_SOURCE_PIXELS", "-1")
	t.Setenv("ANALYSIS_TOP_P", "1.5")
	t.Setenv("SPONSOR_REFRESH", "0s")
	t.Setenv("SPONSOR_FEED_URL", "not a url")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMAGE_MAX_WIDTH must satisfy gt=0")
	assert.Contains(t, err.Error(), "IMAGE_MAX_SOURCE_PIXELS must satisfy gt=0")
	assert.Contains(t, err.Error(), "ANALYSIS_TOP_P must satisfy lte=1")
	assert.Contains(t, err.Error(), "SPONSOR_REFRESH must satisfy gt=0s")
	assert.Contains(t, err.Error(), "SPONSOR_FEED_URL must be a valid url")
}

func TestLoad_UnsetOverridesSkipRangeChecks(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("MYAKUARI_SECRET_KEY", "passphrase")
	t.Setenv("ANALYSIS_ENDPOINT", "https://proxy.example.com")
	t.Setenv("ANALYSIS_TOP_K", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Nil(t, cfg.TopP)
	assert.Equal(t, 3, *cfg.TopK)
}
