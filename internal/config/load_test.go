package config_test

import (
	"testing"

	"github.com/mapruns/distance-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("loads from environment with defaults", func(t *testing.T) {
		t.Setenv("DISTANCE_DATABASE_URL", "postgres://localhost:5432/distance_test")
		t.Setenv("DISTANCE_MAPS_API_KEY", "test-api-key")

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "info", cfg.Server.LogLevel)
		assert.Equal(t, "postgres://localhost:5432/distance_test", cfg.Database.URL)
		assert.Equal(t, "test-api-key", cfg.Maps.APIKey)
		assert.Equal(t, 100, cfg.Maps.CallLimit)
		assert.Equal(t, 3, cfg.Maps.MaxRetries)
		assert.Equal(t, 100, cfg.Task.QueueSize)
		assert.Equal(t, int64(10<<20), cfg.Task.MaxUploadBytes)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("DISTANCE_DATABASE_URL", "postgres://localhost:5432/distance_test")
		t.Setenv("DISTANCE_MAPS_API_KEY", "test-api-key")
		t.Setenv("DISTANCE_SERVER_PORT", "9090")
		t.Setenv("DISTANCE_SERVER_LOG_LEVEL", "debug")
		t.Setenv("DISTANCE_MAPS_CALL_LIMIT", "50")

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Server.LogLevel)
		assert.Equal(t, 50, cfg.Maps.CallLimit)
	})

	t.Run("missing required values fail validation", func(t *testing.T) {
		t.Setenv("DISTANCE_DATABASE_URL", "")
		t.Setenv("DISTANCE_MAPS_API_KEY", "")

		_, err := config.Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
	})

	t.Run("invalid log level fails validation", func(t *testing.T) {
		t.Setenv("DISTANCE_DATABASE_URL", "postgres://localhost:5432/distance_test")
		t.Setenv("DISTANCE_MAPS_API_KEY", "test-api-key")
		t.Setenv("DISTANCE_SERVER_LOG_LEVEL", "verbose")

		_, err := config.Load()
		require.Error(t, err)
	})
}
