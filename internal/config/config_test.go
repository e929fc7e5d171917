package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	cfg := Load()
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "embedded", cfg.Database.VectorIndex)
	require.Equal(t, 1536, cfg.Embedding.Dimensions)
	require.Equal(t, 12, cfg.Webhook.MaxRetries)
	require.Equal(t, "disabled", cfg.Auth.Mode)
	require.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_ReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("BREADCRUMB_PORT", "9090")
	t.Setenv("EMBED_DIM", "384")
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("BREADCRUMB_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 384, cfg.Embedding.Dimensions)
	require.Equal(t, "jwt", cfg.Auth.Mode)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestEnvDuration_AcceptsBareSecondsAndGoDuration(t *testing.T) {
	t.Setenv("HYGIENE_INTERVAL_SECONDS", "30")
	cfg := Load()
	require.Equal(t, 30*time.Second, cfg.Hygiene.Interval)

	t.Setenv("IDLE_TTL", "2h")
	cfg = Load()
	require.Equal(t, 2*time.Hour, cfg.Hygiene.IdleTTL)
}

func TestEnvInt_FallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("BREADCRUMB_PORT", "not-a-number")
	cfg := Load()
	require.Equal(t, 8080, cfg.Port)
}

func TestEnvList_FallsBackWhenAllEntriesBlank(t *testing.T) {
	t.Setenv("BREADCRUMB_CORS_ORIGINS", " , ,")
	cfg := Load()
	require.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
}
