package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.AuthSecret)
}

func TestLoadParsesDurationsAndTrimsSecret(t *testing.T) {
	t.Setenv("AUTH_SECRET", "  0123456789abcdef0123456789abcdef  ")
	t.Setenv("ACCESS_TOKEN_TTL", "90m")
	t.Setenv("ALERT_SNAPSHOT_TTL", "5m")
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "0123456789abcdef0123456789abcdef", cfg.AuthSecret)
	require.Equal(t, 90*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 5*time.Minute, cfg.AlertSnapshotTTL)
	require.Equal(t, ":9090", cfg.Address())
	require.True(t, cfg.IsProduction())
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL", "forever")

	_, err := Load()
	require.Error(t, err)
}

func TestLocationResolvesTimezone(t *testing.T) {
	loc, err := Config{Timezone: "UTC"}.Location()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)

	loc, err = Config{}.Location()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)

	_, err = Config{Timezone: "Mars/Olympus"}.Location()
	require.Error(t, err)
}
