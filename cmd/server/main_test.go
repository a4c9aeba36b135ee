package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/stuartshay/trip-tracker/internal/config"
	grpcserver "github.com/stuartshay/trip-tracker/internal/grpc"
	"github.com/stuartshay/trip-tracker/internal/store"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.level))
		})
	}
}

func TestHistorySourceDefaultsToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st := store.NewFromClient(rdb, time.UTC)

	history, closeFn, err := historySource(&config.Config{HistoryBackend: "redis"}, st, time.UTC)
	require.NoError(t, err)
	assert.Same(t, st, history)
	closeFn()
}

func TestHistorySourcePostgresUnreachable(t *testing.T) {
	cfg := &config.Config{
		HistoryBackend:   "postgres",
		PostgresHost:     "127.0.0.1",
		PostgresPort:     "1",
		PostgresDB:       "none",
		PostgresUser:     "none",
		PostgresPassword: "none",
	}

	_, _, err := historySource(cfg, nil, time.UTC)
	assert.Error(t, err)
}

func TestGRPCHealth(t *testing.T) {
	cfg := &config.Config{VehicleID: "vehicle1", QueueWorkers: 1, CSVOutputPath: t.TempDir()}
	tripServer := grpcserver.NewServer(cfg, nil, nil)
	t.Cleanup(func() { _ = tripServer.Shutdown(time.Second) })

	grpcServer, _ := newGRPCServer(tripServer)
	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client := grpc_health_v1.NewHealthClient(conn)
	for _, service := range []string{"", grpcserver.ServiceName} {
		resp, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status, service)
	}
}
