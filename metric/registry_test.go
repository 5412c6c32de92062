package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()

	require.NotNil(t, registry)
	require.NotNil(t, registry.CoreMetrics())
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.Handler())
}

func TestRegisterCounter(t *testing.T) {
	registry := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter_total",
		Help: "test counter",
	})

	require.NoError(t, registry.RegisterCounter("cache", "hits", counter))

	// Duplicate key is rejected.
	err := registry.RegisterCounter("cache", "hits", counter)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestUnregister(t *testing.T) {
	registry := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "test gauge",
	})

	require.NoError(t, registry.RegisterGauge("db", "connections", gauge))
	assert.True(t, registry.Unregister("db", "connections"))
	assert.False(t, registry.Unregister("db", "connections"))

	// Re-registration after unregister succeeds.
	require.NoError(t, registry.RegisterGauge("db", "connections", gauge))
}

func TestCoreMetricsRecording(t *testing.T) {
	registry := NewRegistry()
	core := registry.CoreMetrics()

	// These must not panic and must accept every label combination the
	// orchestrator produces.
	core.RecordServiceState("db", 4)
	core.RecordHealthStatus("db", 3)
	core.RecordHealthCheck("db", true)
	core.RecordHealthCheck("db", false)
	core.RecordOperation("db", 15*time.Millisecond, nil)
	core.RecordOperation("db", 20*time.Millisecond, assert.AnError)
	core.RecordError("db", "operation")
	core.RecordRecoveryAttempt("db")
	core.RecordRecoveryOutcome("db", true)
	core.RecordRecoveryOutcome("db", false)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["servicekit_service_state"])
	assert.True(t, names["servicekit_health_status"])
	assert.True(t, names["servicekit_operations_total"])
	assert.True(t, names["servicekit_recovery_attempts_total"])
}
