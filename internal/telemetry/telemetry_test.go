package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "stdout"
	cfg.LogDir = t.TempDir()
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "chatlens", cfg.ServiceName)
	assert.Equal(t, "stdout", cfg.TraceExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
}

func TestDefaultConfigEnvOverrides(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "otlp")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg := DefaultConfig()
	assert.Equal(t, "otlp", cfg.TraceExporter)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
}

func TestInitStdoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitNoneSkipsProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitRejectsUnknownTraceExporter(t *testing.T) {
	cfg := testConfig(t)
	cfg.TraceExporter = "jaeger"

	_, err := Init(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInitRejectsUnknownMetricExporter(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricExporter = "statsd"

	_, err := Init(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInitLogger(t *testing.T) {
	logger, err := InitLogger(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("hello")
}
