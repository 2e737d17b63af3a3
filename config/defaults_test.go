package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, OrchestratorConfig{}, cfg.Orchestrator)
	assert.NotEqual(t, RouterConfig{}, cfg.Router)
	assert.NotEqual(t, CheckpointConfig{}, cfg.Checkpoint)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, MongoConfig{}, cfg.Mongo)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

func TestDefaultOrchestratorConfig(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.BackoffMax)
	assert.True(t, cfg.BackoffJitter)
	assert.Equal(t, 5*time.Second, cfg.HandlerGracePeriod)
	assert.Equal(t, 64, cfg.EventBufferSize)
	assert.True(t, cfg.RecoverOnStart)
}

func TestDefaultRouterConfig(t *testing.T) {
	cfg := DefaultRouterConfig()
	assert.InDelta(t, 1.0, cfg.CostCeiling, 0.0001)
	assert.InDelta(t, 0.1, cfg.SuccessRateAlpha, 0.0001)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 2*time.Minute, cfg.AdapterTimeout)
}

func TestDefaultCheckpointConfig(t *testing.T) {
	cfg := DefaultCheckpointConfig()
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, "campaignflow:checkpoint:", cfg.KeyPrefix)
	assert.Zero(t, cfg.TTL)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}
