package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "America/Los_Angeles", cfg.DefaultTimezone)
	require.Equal(t, 6, cfg.PostingConcurrency)
	require.Equal(t, 15*time.Second, cfg.PostingTimeout)
	require.Equal(t, "0 3 * * *", cfg.IntegrityCron)
	require.False(t, cfg.MigrateOnStart)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DEFAULT_TIMEZONE=Europe/Berlin\nPOSTING_CONCURRENCY=2\n"), 0o600))
	t.Setenv("POSTING_CONCURRENCY", "9")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", cfg.DefaultTimezone)
	require.Equal(t, 9, cfg.PostingConcurrency)
	// godotenv.Load sets variables that were unset; drop it so other tests see defaults.
	require.NoError(t, os.Unsetenv("DEFAULT_TIMEZONE"))
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("DEFAULT_TIMEZONE", "Mars/Olympus")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "default timezone")

	t.Setenv("DEFAULT_TIMEZONE", "UTC")
	t.Setenv("POSTING_CONCURRENCY", "0")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "concurrency")

	t.Setenv("POSTING_CONCURRENCY", "4")
	t.Setenv("POSTING_TIMEOUT", "soon")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, &Config{LogFormat: "json"}).Info("posted")
	require.True(t, strings.HasPrefix(buf.String(), "{"))

	buf.Reset()
	NewLoggerTo(&buf, nil).Info("posted")
	require.Contains(t, buf.String(), "msg=posted")
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
