package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAndShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SamplingRate = 1.0

	shutdown, err := Init(cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx, span := StartSpan(context.Background(), "worker", "process")
	assert.NotNil(t, ctx)
	EndSpan(span, nil)

	assert.NoError(t, shutdown(context.Background()))
}

func TestEndSpanRecordsError(t *testing.T) {
	shutdown, err := Init(DefaultConfig())
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, span := StartSpan(context.Background(), "indexer", "flushBatch")
	EndSpan(span, errors.New("backend unavailable"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "lucilliform", cfg.ServiceName)
	assert.Greater(t, cfg.SamplingRate, 0.0)
}
