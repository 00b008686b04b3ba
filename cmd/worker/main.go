// Package main is the Card Forge background worker entrypoint.
//
// The worker owns periodic maintenance:
//   - sweeping stale in-flight cards (resume polling, or time out and refund)
//   - granting the weekly token allowance on the course-timezone Monday
//
// It shares the persistence layer with the API server and recovers the
// pipeline from storage alone, so the two processes can restart
// independently without losing token accounting.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cardforge/cardforge/config"
	"github.com/cardforge/cardforge/internal/application/generation"
	"github.com/cardforge/cardforge/internal/application/scoring"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/internal/infrastructure/external/studio"
	"github.com/cardforge/cardforge/internal/infrastructure/messaging"
	"github.com/cardforge/cardforge/internal/infrastructure/persistence/postgres"
	"github.com/cardforge/cardforge/internal/infrastructure/scheduler"
	"github.com/cardforge/cardforge/internal/infrastructure/scheduler/jobs"
	"github.com/cardforge/cardforge/pkg/logger"
	"github.com/cardforge/cardforge/pkg/timeutil"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	appLog := logger.New(logger.Options{
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
	})
	infraLog := setupSlog(cfg)

	appLog.Info("starting Card Forge worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. PostgreSQL
	// ─────────────────────────────────────────────────────────────────────────
	dbConn, err := connectPostgres(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	// The worker migrates too: whichever process starts first brings the
	// schema up to date.
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	studentRepo := postgres.NewStudentRepository(dbConn)
	cardRepo := postgres.NewCardRepository(dbConn)
	ledgerRepo := postgres.NewLedgerRepository(dbConn)
	unitRepo := postgres.NewUnitRepository(dbConn)
	recordRepo := postgres.NewRecordRepository(dbConn)
	tableRepo := postgres.NewScoreTableRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Event bus and studio client
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultConfig()
	busCfg.AsyncMode = cfg.Features.IsEnabled(config.FeatureEventBusAsync)
	busCfg.Logger = infraLog
	eventBus := messaging.NewInMemoryEventBus(busCfg)
	defer func() { _ = eventBus.Close() }()

	var studioClient generation.Client
	if cfg.Features.IsEnabled(config.FeatureStudioStub) {
		appLog.Warn("using in-process studio stub, no real images will be generated")
		studioClient = studio.NewStub()
	} else {
		studioCfg := studio.DefaultConfig(cfg.Studio.BaseURL)
		studioCfg.APIKey = cfg.Studio.APIKey
		studioCfg.Timeout = cfg.Studio.RequestTimeout
		studioCfg.Logger = infraLog
		studioClient = studio.NewClient(studioCfg)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Orchestrator (sweep mode)
	// ─────────────────────────────────────────────────────────────────────────
	engine := scoring.NewEngine(unitRepo, recordRepo, tableRepo, studentRepo, appLog)

	// Background false: the sweep drives resumed cards inline so one pass
	// finishes before the next is scheduled.
	orchestrator := generation.New(
		cardRepo, ledgerRepo, engine, studioClient, eventBus, appLog,
		generation.Config{
			TokenCost:    shared.Tokens(cfg.Pipeline.TokenCost),
			PollInterval: cfg.Pipeline.PollInterval,
			MaxWait:      cfg.Pipeline.MaxWait,
			StaleAfter:   cfg.Pipeline.StaleAfter,
			Background:   false,
		},
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Scheduler and jobs
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Scheduler.Enabled {
		appLog.Warn("scheduler disabled, worker will idle")
	}

	sched := scheduler.New(scheduler.Config{
		Logger:   infraLog,
		Timezone: timeutil.TaipeiTZ,
	})

	if cfg.Scheduler.Enabled {
		if cfg.Features.IsEnabled(config.FeatureStaleSweep) {
			job := jobs.NewSweepStaleCardsJob(orchestrator, infraLog)
			if err := sched.Register(job, scheduler.NewIntervalSchedule(cfg.Scheduler.SweepInterval)); err != nil {
				return fmt.Errorf("failed to register sweep job: %w", err)
			}
		}
		if cfg.Features.IsEnabled(config.FeatureWeeklyGrant) {
			cron, err := scheduler.ParseCronExpression(cfg.Scheduler.WeeklyGrantCron)
			if err != nil {
				return fmt.Errorf("invalid SCHEDULER_WEEKLY_GRANT_CRON: %w", err)
			}
			job := jobs.NewGrantWeeklyTokensJob(
				studentRepo, ledgerRepo, shared.Tokens(cfg.Pipeline.WeeklyGrant), infraLog)
			if err := sched.Register(job, cron); err != nil {
				return fmt.Errorf("failed to register weekly grant job: %w", err)
			}
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	appLog.Info("Card Forge worker is running",
		logger.String("sweep_interval", cfg.Scheduler.SweepInterval.String()),
		logger.String("weekly_grant_cron", cfg.Scheduler.WeeklyGrantCron),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		appLog.Info("received shutdown signal", logger.String("signal", sig.String()))
	case <-ctx.Done():
	}

	if sched.IsRunning() {
		if err := sched.Stop(); err != nil {
			appLog.Error("scheduler stop error", logger.Err(err))
		}
	}
	orchestrator.Wait()

	appLog.Info("shutdown completed")
	return nil
}

// setupSlog builds the slog logger used by the infrastructure layer.
func setupSlog(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" && !cfg.IsProduction() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func connectPostgres(ctx context.Context, cfg *config.Config) (*postgres.Connection, error) {
	if cfg.Database.URL != "" {
		return postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	}
	pgCfg := postgres.DefaultConfig()
	pgCfg.Host = cfg.Database.Host
	pgCfg.Port = cfg.Database.Port
	pgCfg.Database = cfg.Database.Name
	pgCfg.User = cfg.Database.User
	pgCfg.Password = cfg.Database.Password
	pgCfg.SSLMode = cfg.Database.SSLMode
	pgCfg.MaxConns = int32(cfg.Database.MaxConns)
	pgCfg.MinConns = int32(cfg.Database.MinConns)
	pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	return postgres.NewConnection(ctx, pgCfg)
}
