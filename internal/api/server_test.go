package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"rentalcore/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func grpcConfig() *config.APIConfig {
	return &config.APIConfig{
		Enabled: true,
		GRPC:    config.APIGRPCConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{{Key: "ops", Extra: "ops-extra", Permissions: []string{permReadHooks}}},
		},
	}
}

func startGRPC(t *testing.T, cfg *config.APIConfig) (*GRPCServer, healthpb.HealthClient) {
	t.Helper()

	srv, err := NewGRPCServer(cfg, nil)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func TestGRPCServer_Health(t *testing.T) {
	srv, client := startGRPC(t, grpcConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	authed := metadata.AppendToOutgoingContext(ctx, "x-api-key", "ops", "x-api-extra", "ops-extra")
	resp, err := client.Check(authed, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	srv.SetServing(false)
	resp, err = client.Check(authed, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	resp, err = client.Check(authed, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestAuthInterceptor(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	ok := func(context.Context, any) (any, error) { return "ok", nil }

	t.Run("Disabled", func(t *testing.T) {
		cfg := grpcConfig()
		cfg.Enabled = false
		resp, err := NewAuthInterceptor(cfg).Unary()(context.Background(), nil, info, ok)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
	})

	t.Run("MissingMetadata", func(t *testing.T) {
		_, err := NewAuthInterceptor(grpcConfig()).Unary()(context.Background(), nil, info, ok)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("WrongExtra", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "ops", "x-api-extra", "nope"))
		_, err := NewAuthInterceptor(grpcConfig()).Unary()(ctx, nil, info, ok)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("RateLimited", func(t *testing.T) {
		cfg := grpcConfig()
		cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
		interceptor := NewAuthInterceptor(cfg).Unary()
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "ops", "x-api-extra", "ops-extra"))

		_, err := interceptor(ctx, nil, info, ok)
		require.NoError(t, err)
		_, err = interceptor(ctx, nil, info, ok)
		assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	})
}

func TestChainUnaryInterceptors_Order(t *testing.T) {
	var calls []string
	mark := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			calls = append(calls, name)
			return handler(ctx, req)
		}
	}

	chain := ChainUnaryInterceptors(mark("first"), mark("second"))
	_, err := chain(context.Background(), nil, &grpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
		calls = append(calls, "handler")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "handler"}, calls)
}

func TestRequestIDFromMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "req-1"))
	assert.Equal(t, "req-1", requestIDFromMetadata(ctx))
	assert.NotEmpty(t, requestIDFromMetadata(context.Background()))
}

func TestKeyring_Check(t *testing.T) {
	keys := newKeyring(config.APIAuthConfig{
		HeaderAPIKey: "X-Key",
		APIKeys: []config.APIClientKey{
			{Key: "a", Extra: "ea", Permissions: []string{permWriteRefunds}},
			{Key: "b", Extra: "eb"},
		},
	})

	assert.Equal(t, "x-key", keys.apiKeyHeader)
	assert.ErrorIs(t, keys.check("", "ea", ""), errMissingKey)
	assert.ErrorIs(t, keys.check("z", "ea", ""), errInvalidKey)
	assert.ErrorIs(t, keys.check("a", "eb", ""), errInvalidExtra)
	assert.ErrorIs(t, keys.check("a", "ea", permWriteSettlements), errPermissionDenied)
	assert.NoError(t, keys.check("a", "ea", permWriteRefunds))
	assert.NoError(t, keys.check("b", "eb", permWriteSettlements))
}

func TestRateLimiter_ZeroRPSAllows(t *testing.T) {
	l := newRateLimiter(config.APIRateLimitConfig{})
	for i := 0; i < 100; i++ {
		require.True(t, l.allow("client"))
	}
}

func TestGRPCServer_WatchStore(t *testing.T) {
	srv, client := startGRPC(t, &config.APIConfig{Enabled: true, GRPC: config.APIGRPCConfig{Enabled: true}})

	var healthy atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.WatchStore(ctx, func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("store down")
	}, 20*time.Millisecond)

	statusOf := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	assert.Eventually(t, func() bool {
		return statusOf() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	healthy.Store(true)
	assert.Eventually(t, func() bool {
		return statusOf() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}
