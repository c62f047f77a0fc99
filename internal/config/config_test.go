package config_test

import (
	"testing"
	"time"

	"github.com/nOOne-is-hier/AgentFlow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	assert.Equal(t, config.DefaultAPIHost, cfg.APIHost)
	assert.Equal(t, config.DefaultAPIPort, cfg.APIPort)
	assert.Equal(t, config.DefaultRedisAddr, cfg.RedisAddr)
	assert.Equal(t, config.DefaultRedisPrefix, cfg.RedisPrefix)
	assert.Equal(t, config.DefaultHITLPollInterval, cfg.HITLPollInterval)
	assert.Equal(t, config.DefaultEventBuffer, cfg.EventBuffer)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_HOST", "127.0.0.1")
	t.Setenv("API_PORT", "9090")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_PREFIX", "af-test")
	t.Setenv("BLOB_BUCKET_URL", "mem://")
	t.Setenv("ASSISTANT_ENDPOINT", "http://assistant:9000/v1")
	t.Setenv("HITL_POLL_INTERVAL", "100ms")
	t.Setenv("EVENT_BUFFER", "128")

	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "127.0.0.1", cfg.APIHost)
	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, "redis:6380", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "af-test", cfg.RedisPrefix)
	assert.Equal(t, "mem://", cfg.BlobBucketURL)
	assert.Equal(t, "http://assistant:9000/v1", cfg.AssistantEndpoint)
	assert.Equal(t, 100*time.Millisecond, cfg.HITLPollInterval)
	assert.Equal(t, 128, cfg.EventBuffer)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvErrors(t *testing.T) {
	t.Run("bad port", func(t *testing.T) {
		t.Setenv("API_PORT", "not-a-port")
		cfg := config.NewDefaultConfig()
		assert.Error(t, cfg.LoadFromEnv())
	})

	t.Run("port out of range", func(t *testing.T) {
		t.Setenv("API_PORT", "70000")
		cfg := config.NewDefaultConfig()
		assert.Error(t, cfg.LoadFromEnv())
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("HITL_POLL_INTERVAL", "soon")
		cfg := config.NewDefaultConfig()
		assert.Error(t, cfg.LoadFromEnv())
	})

	t.Run("negative duration", func(t *testing.T) {
		t.Setenv("SHUTDOWN_TIMEOUT", "-5s")
		cfg := config.NewDefaultConfig()
		assert.Error(t, cfg.LoadFromEnv())
	})
}

func TestValidate(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.APIPort = -1
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidAPIPort)

	cfg = config.NewDefaultConfig()
	cfg.HITLPollInterval = 0
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidPollInterval)

	cfg = config.NewDefaultConfig()
	cfg.EventBuffer = 0
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidEventBuffer)
}
