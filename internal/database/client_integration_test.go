//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/trip-tracker/internal/calculator"
	"github.com/stuartshay/trip-tracker/internal/config"
)

// setupTestClient creates a test database client
func setupTestClient(t *testing.T) (*Client, func()) {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	loc, err := cfg.Location()
	require.NoError(t, err, "Failed to load history timezone")

	client, err := NewClient(cfg.DatabaseDSN(), loc)
	require.NoError(t, err, "Failed to create database client")

	cleanup := func() {
		if client != nil {
			client.Close()
		}
	}

	return client, cleanup
}

func TestClient_HealthCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	client, cleanup := setupTestClient(t)
	defer cleanup()

	assert.NoError(t, client.HealthCheck(context.Background()), "Should perform health check successfully")
}

func TestClient_HealthCheckWithTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	client, cleanup := setupTestClient(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()

	time.Sleep(10 * time.Millisecond) // Ensure timeout expires

	err := client.HealthCheck(ctx)
	assert.Error(t, err, "HealthCheck should fail with expired context")
}

func TestGetLocationsByDate_NoData(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	client, cleanup := setupTestClient(t)
	defer cleanup()

	locations, err := client.GetLocationsByDate(context.Background(), "2099-12-31", "pixel8")
	require.NoError(t, err)
	assert.Empty(t, locations)
}

func TestDatesAndDay(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	client, cleanup := setupTestClient(t)
	defer cleanup()

	ctx := context.Background()
	dates, err := client.Dates(ctx, "pixel8")
	require.NoError(t, err)
	if len(dates) == 0 {
		t.Skip("No recorded days for pixel8")
	}

	for i := 1; i < len(dates); i++ {
		assert.Less(t, dates[i-1], dates[i], "dates should be ascending")
	}

	last := dates[len(dates)-1]
	samples, err := client.Day(ctx, "pixel8", last)
	require.NoError(t, err)
	require.NotEmpty(t, samples)

	trip := calculator.Aggregate(samples)
	assert.Len(t, trip.Path, len(samples))
	assert.GreaterOrEqual(t, trip.Metrics.TotalDistanceMeters, 0.0)
}

func TestClient_ContextCancellationDuringQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	client, cleanup := setupTestClient(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetLocationsByDate(ctx, "2025-01-22", "pixel8")
	assert.Error(t, err, "Query should fail with cancelled context")
}
