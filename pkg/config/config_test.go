package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
	assert.Equal(t, 90*24*time.Hour, cfg.AuditRetention())
	assert.Equal(t, 3, cfg.Saga.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.SagaBaseDelay())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("FLOWCORE_SERVER_LISTEN_ADDR", ":9999")
	t.Setenv("DATABASE_URL", "postgres://localhost/flowcore_test")
	t.Setenv("FLOWCORE_SAGA_MAX_ATTEMPTS", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, "postgres://localhost/flowcore_test", cfg.DB.URL)
	assert.Equal(t, 5, cfg.Saga.MaxAttempts)
}
