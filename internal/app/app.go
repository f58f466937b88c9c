// Package app holds the startup wiring shared by the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"rentalcore/internal/config"
	"rentalcore/internal/database"
	"rentalcore/internal/database/postgres"
	"rentalcore/internal/domain"
	"rentalcore/internal/logging"
	"rentalcore/internal/metrics"
	"rentalcore/internal/repository"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultConfigPath = "configs/config.yaml"

// LoadConfigAndLogger reads CONFIG_PATH (or the default) and builds the
// process logger tagged with component.
func LoadConfigAndLogger(component string) (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	base, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(base, component), closer, nil
}

// Storage is the opened backend. SQLite is non-nil only for the sqlite
// driver, which is the one the backup service can copy.
type Storage struct {
	Store  domain.Store
	SQLite *database.DB
}

// Ping checks the backend connection.
func (s *Storage) Ping(ctx context.Context) error {
	if s.SQLite != nil {
		return s.SQLite.PingContext(ctx)
	}
	if p, ok := s.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *zerolog.Logger) (*Storage, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := postgres.NewStore(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &Storage{Store: store}, nil
	case config.DriverSQLite, "":
		db, err := database.NewDB(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
		}
		return &Storage{Store: db, SQLite: db}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// OpenRedis returns nil when no address is configured or the server does
// not answer; callers then run on local fallbacks.
func OpenRedis(ctx context.Context, cfg config.RedisConfig, logger *zerolog.Logger) *redis.Client {
	if cfg.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Address).Msg("redis unavailable, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Address).Msg("redis connected")
	return client
}

// Leases prefers redis and falls back to process memory while it is down.
func Leases(client *redis.Client, logger *zerolog.Logger) domain.LeaseRepository {
	memory := repository.NewMemoryLeaseRepository()
	if client == nil {
		return memory
	}
	return repository.NewFailoverLeaseRepository(repository.NewRedisLeaseRepository(client), memory, logger)
}

// ServeMetrics exposes /metrics until ctx is done. It returns nil when
// monitoring is disabled.
func ServeMetrics(ctx context.Context, cfg config.MonitoringConfig, logger *zerolog.Logger) error {
	if !cfg.PrometheusEnabled {
		return nil
	}
	metrics.Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Int("port", cfg.PrometheusPort).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
