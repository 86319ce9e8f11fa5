package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_Shell(t *testing.T) {
	t.Run("GRIP_SHELL overrides binary", func(t *testing.T) {
		t.Setenv("GRIP_SHELL", "/bin/bash")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/bin/bash", cfg.Shell.Binary)
	})

	t.Run("GRIP_DEFAULT_TIMEOUT overrides timeout", func(t *testing.T) {
		t.Setenv("GRIP_DEFAULT_TIMEOUT", "45s")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "45s", cfg.Shell.DefaultTimeout)
	})

	t.Run("GRIP_MAX_TIMEOUT overrides ceiling", func(t *testing.T) {
		t.Setenv("GRIP_MAX_TIMEOUT", "20m")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "20m", cfg.Shell.MaxTimeout)
	})

	t.Run("unset variables leave defaults alone", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, DefaultConfig().Shell.Binary, cfg.Shell.Binary)
	})
}

func TestEnvOverrides_Permissions(t *testing.T) {
	t.Run("GRIP_TEMP_GRANT_TTL overrides window", func(t *testing.T) {
		t.Setenv("GRIP_TEMP_GRANT_TTL", "30s")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "30s", cfg.Permissions.TemporaryGrantTTL)
	})
}

func TestEnvOverrides_Logging(t *testing.T) {
	t.Run("GRIP_LOG_LEVEL overrides level", func(t *testing.T) {
		t.Setenv("GRIP_LOG_LEVEL", "warn")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "warn", cfg.Logging.Level)
	})

	t.Run("GRIP_DEBUG enables debug mode and debug level", func(t *testing.T) {
		t.Setenv("GRIP_DEBUG", "1")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Logging.DebugMode)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("GRIP_DEBUG wins over GRIP_LOG_LEVEL", func(t *testing.T) {
		t.Setenv("GRIP_LOG_LEVEL", "error")
		t.Setenv("GRIP_DEBUG", "true")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("GRIP_DEBUG=0 is ignored", func(t *testing.T) {
		t.Setenv("GRIP_DEBUG", "0")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.False(t, cfg.Logging.DebugMode)
	})
}
