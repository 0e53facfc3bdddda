package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_DefaultsPerService(t *testing.T) {
	t.Setenv("SERVICE_NAME", "live-gateway")

	cfg := Load()

	assert.Equal(t, "live-gateway", cfg.ServiceName)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "9095", cfg.MetricsPort)
	assert.Equal(t, 250*time.Millisecond, cfg.Gateway.BatchWindow)
	assert.Equal(t, "entity_changes", cfg.TopicEntityChanges)
	assert.Equal(t, 5, cfg.Viewer.MaxReconnectAttempts)
}

func TestLoad_ProcessorPorts(t *testing.T) {
	t.Setenv("SERVICE_NAME", "entity-processor-worker")
	t.Setenv("HTTP_PORT_PROCESSOR", "9999")

	cfg := Load()

	assert.Equal(t, "9999", cfg.HTTPPort)
	assert.Equal(t, "9097", cfg.MetricsPort)
}

func TestLoad_TypedOverrides(t *testing.T) {
	t.Setenv("FEED_REGIONS", "eu, uk ,us")
	t.Setenv("FEED_MAX_CONCURRENT", "8")
	t.Setenv("FEED_MAX_BACKOFF", "45s")
	t.Setenv("GATEWAY_BATCH_WINDOW", "100")
	t.Setenv("VIEWER_MAX_RECONNECT_ATTEMPTS", "not-a-number")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg := Load()

	assert.Equal(t, []string{"eu", "uk", "us"}, cfg.Feed.Regions)
	assert.Equal(t, 8, cfg.Feed.MaxConcurrent)
	assert.Equal(t, 45*time.Second, cfg.Feed.MaxBackoff)
	assert.Equal(t, 100*time.Millisecond, cfg.Gateway.BatchWindow)
	assert.Equal(t, 5, cfg.Viewer.MaxReconnectAttempts)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers())
}

func TestLoad_SimulatorAndEdge(t *testing.T) {
	t.Setenv("SERVICE_NAME", "api-gateway")
	t.Setenv("SIM_RATE_LIMIT_EVERY", "7")
	t.Setenv("SIM_STEP_INTERVAL", "500ms")
	t.Setenv("EDGE_ALLOWED_ORIGINS", "http://localhost:3000")

	cfg := Load()

	assert.Equal(t, "8088", cfg.HTTPPort)
	assert.Equal(t, 7, cfg.Sim.RateLimitEvery)
	assert.Equal(t, 500*time.Millisecond, cfg.Sim.StepInterval)
	assert.Equal(t, cfg.Feed.APIKey, cfg.Sim.APIKey, "simulator accepts the ingest key by default")
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Edge.AllowedOrigins)
}
