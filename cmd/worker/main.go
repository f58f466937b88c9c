package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rentalcore/internal/app"
	"rentalcore/internal/config"
	"rentalcore/internal/database"
	"rentalcore/internal/documents"
	"rentalcore/internal/domain"
	"rentalcore/internal/events"
	"rentalcore/internal/fleet"
	"rentalcore/internal/google"
	"rentalcore/internal/logging"
	"rentalcore/internal/models"
	"rentalcore/internal/notify"
	"rentalcore/internal/service"
	"rentalcore/internal/worker"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := app.LoadConfigAndLogger("worker-main")
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
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

	store := storage.Store
	hooks := worker.NewHookWorker(store, store, buildExecutors(ctx, cfg, store, logger), redisClient, cfg.Hooks, logging.Component(logger, "hooks"))

	bus := events.NewEventBus()
	bus.Subscribe(events.EventStageChanged, logStageChange(logger))
	sweeper := worker.NewStageSweeper(service.NewStageService(store, bus, logger), cfg.Lifecycle, logging.Component(logger, "sweeper"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.ServeMetrics(gctx, cfg.Monitoring, logger)
	})
	g.Go(func() error {
		hooks.Start(gctx, cfg.Hooks.Workers)
		return nil
	})
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})
	if storage.SQLite != nil {
		backups := database.NewBackupService(storage.SQLite, cfg.Backup, logging.Component(logger, "backup"))
		g.Go(func() error {
			backups.Start(gctx)
			return nil
		})
	}

	logger.Info().Int("hook_workers", cfg.Hooks.Workers).Dur("sweep_interval", cfg.Lifecycle.SweepInterval).Msg("worker started")

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		return err
	}
	logger.Info().Msg("worker stopped")
	return nil
}

func logStageChange(logger *zerolog.Logger) events.EventHandler {
	return func(e *events.Event) error {
		var p events.StageChangedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		if p.To == string(models.StageOverdue) {
			logger.Warn().Int64("booking_id", p.BookingID).Int64("late_hours", p.LateHours).Float64("late_fee", p.LateFee).Msg("booking overdue")
		}
		return nil
	}
}

// buildExecutors connects whichever integrations are configured. Tasks for
// a missing integration fail without retries and land in the dead-letter list.
func buildExecutors(ctx context.Context, cfg *config.Config, store domain.Store, logger *zerolog.Logger) worker.Executors {
	exec := worker.Executors{
		Documents: documents.NewGenerator(cfg.Documents, logging.Component(logger, "documents")),
	}

	if cfg.Fleet.BaseURL != "" {
		client := fleet.NewClient(cfg.Fleet)
		exec.Fleet = client
		exec.Drivers = client
	} else {
		logger.Warn().Msg("fleet base_url not set, release tasks will fail")
	}

	if cfg.Telegram.BotToken != "" {
		bot, err := notify.NewBotAPI(cfg.Telegram, nil, "")
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, notifications disabled")
		} else {
			exec.Notifier = notify.NewTelegramNotifier(bot, store, logging.Component(logger, "notify"))
		}
	}

	if cfg.Google.CredentialsFile != "" && cfg.Google.LedgerSpreadsheetID != "" {
		if ledger := initLedger(ctx, cfg.Google, logger); ledger != nil {
			exec.Ledger = ledger
		}
	}

	return exec
}

func initLedger(ctx context.Context, cfg config.GoogleConfig, logger *zerolog.Logger) *google.LedgerService {
	ledger, err := google.NewLedgerService(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, ledger disabled")
		return nil
	}

	if email, err := google.ServiceAccountEmail(cfg.CredentialsFile); err == nil {
		logger.Info().Str("service_account", email).Msg("ledger spreadsheet must be shared with this account")
	}

	if err := ledger.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("ledger spreadsheet unreachable, ledger disabled")
		return nil
	}
	if err := ledger.EnsureHeader(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to write ledger header")
	}
	if err := ledger.WarmUpCache(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to warm up ledger row cache")
	}

	logger.Info().Msg("google sheets ledger connected")
	return ledger
}
