package app

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"rentalcore/internal/config"
	"rentalcore/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore_SQLite(t *testing.T) {
	logger := zerolog.New(io.Discard)

	st, err := OpenStore(context.Background(), config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "app.db"),
	}, &logger)
	require.NoError(t, err)
	defer st.Store.Close()

	assert.NotNil(t, st.SQLite)
	assert.NoError(t, st.Ping(context.Background()))

	_, err = OpenStore(context.Background(), config.DatabaseConfig{Driver: "mysql"}, &logger)
	assert.Error(t, err)
}

func TestOpenRedis(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	assert.Nil(t, OpenRedis(ctx, config.RedisConfig{}, &logger))

	mr := miniredis.RunT(t)
	client := OpenRedis(ctx, config.RedisConfig{Address: mr.Addr()}, &logger)
	require.NotNil(t, client)
	defer client.Close()

	leases := Leases(client, &logger)
	_, isFailover := leases.(*repository.FailoverLeaseRepository)
	assert.True(t, isFailover)

	ok, err := leases.Acquire(ctx, "k", "a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("rentalcore:lease:k"))

	addr := mr.Addr()
	mr.Close()
	assert.Nil(t, OpenRedis(ctx, config.RedisConfig{Address: addr}, &logger))
}

func TestLeases_MemoryWithoutRedis(t *testing.T) {
	logger := zerolog.New(io.Discard)
	_, isMemory := Leases(nil, &logger).(*repository.MemoryLeaseRepository)
	assert.True(t, isMemory)
}

func TestServeMetrics_Disabled(t *testing.T) {
	logger := zerolog.New(io.Discard)
	assert.NoError(t, ServeMetrics(context.Background(), config.MonitoringConfig{}, &logger))
}
