package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/trip-tracker/internal/config"
)

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		ServiceName:  "trip-tracker",
		Environment:  "staging",
		OTELEndpoint: "collector:4317",
		OTELEnabled:  true,
	}

	got := FromConfig(cfg, "1.2.3")

	assert.Equal(t, "trip-tracker", got.ServiceName)
	assert.Equal(t, "staging", got.Environment)
	assert.Equal(t, "collector:4317", got.OTLPEndpoint)
	assert.Equal(t, "1.2.3", got.ServiceVersion)
	assert.True(t, got.Enabled)
}

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracerRequiresEndpoint(t *testing.T) {
	_, err := InitTracer(Config{Enabled: true, ServiceName: "trip-tracker"})
	assert.Error(t, err)
}
