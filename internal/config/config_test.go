package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/procomp")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("TOKEN_SECRET", "a-long-enough-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 200, cfg.MaxClientsPerChannel)
	assert.Equal(t, 25*time.Second, cfg.PingInterval)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("MAX_CLIENTS_PER_CHANNEL", "10")
	t.Setenv("WS_PING_INTERVAL", "5s")
	t.Setenv("WS_IDLE_TIMEOUT", "20s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 10, cfg.MaxClientsPerChannel)
	assert.Equal(t, 5*time.Second, cfg.PingInterval)
	assert.Equal(t, 20*time.Second, cfg.IdleTimeout)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []string{"DATABASE_URL", "REDIS_URL", "TOKEN_SECRET"}
	for _, missing := range tests {
		t.Run(missing, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(missing, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), missing)
		})
	}
}

func TestLoad_ShortTokenSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TOKEN_SECRET", "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_SECRET")
}

func TestLoad_IdleTimeoutMustExceedPingInterval(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WS_PING_INTERVAL", "30s")
	t.Setenv("WS_IDLE_TIMEOUT", "30s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WS_IDLE_TIMEOUT")
}
