package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rentalcore/internal/api"
	"rentalcore/internal/app"
	"rentalcore/internal/config"
	"rentalcore/internal/events"
	"rentalcore/internal/service"
	"rentalcore/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := app.LoadConfigAndLogger("api-main")
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer storage.Store.Close()

	redisClient := app.OpenRedis(ctx, cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	svc := buildServices(cfg, storage, redisClient, logger)

	httpServer := api.NewHTTPServer(cfg.API, svc, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	return serve(ctx, cfg, storage, httpServer, grpcServer, logger)
}

// buildServices wires the rental services. Post-commit effects are only
// enqueued here; the worker binary executes them.
func buildServices(cfg *config.Config, storage *app.Storage, redisClient *redis.Client, logger *zerolog.Logger) api.Services {
	store := storage.Store

	hooksCfg := cfg.Hooks
	hooksCfg.LocalBufferSize = -1
	producer := worker.NewHookWorker(store, store, worker.Executors{}, redisClient, hooksCfg, logger)

	bus := events.NewEventBus()
	worker.SubscribeHooks(bus, producer, logger)

	reservations := service.NewReservationService(store, cfg.Reservation.MaxAttempts, cfg.Reservation.UsageHistoryLimit, logger)
	return api.Services{
		Bookings:     service.NewBookingService(store, reservations, bus, logger),
		Stages:       service.NewStageService(store, bus, logger),
		Settlements:  service.NewSettlementService(store, bus, cfg.Settlement.PaymentMethods, logger),
		Refunds:      service.NewRefundService(store, app.Leases(redisClient, logger), bus, cfg.Refund.LeaseTTL, logger),
		Reservations: reservations,
		Hooks:        store,
		Health:       storage.Ping,
	}
}

func serve(ctx context.Context, cfg *config.Config, storage *app.Storage, httpServer *api.HTTPServer, grpcServer *api.GRPCServer, logger *zerolog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.ServeMetrics(gctx, cfg.Monitoring, logger)
	})

	if cfg.API.HTTP.Enabled {
		g.Go(httpServer.Start)
	}

	if grpcServer != nil {
		g.Go(func() error {
			return grpcServer.Serve()
		})
		g.Go(func() error {
			grpcServer.WatchStore(gctx, storage.Ping, 15*time.Second)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if grpcServer != nil {
			grpcServer.Shutdown(shutdownCtx)
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("API server started")

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("API server stopped with error")
		return err
	}
	logger.Info().Msg("API server stopped")
	return nil
}
