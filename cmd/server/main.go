// Package main is the Card Forge API server entrypoint.
//
// The server owns the student-facing surface: card generation requests,
// card and hall-of-heroes reads, token balance and history, plus the
// teacher/admin surface for grants, score tables, record imports and
// enrollment. Background maintenance (stale-card sweeps, weekly token
// grants) lives in cmd/worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cardforge/cardforge/config"
	"github.com/cardforge/cardforge/internal/application/command"
	"github.com/cardforge/cardforge/internal/application/eventhandler"
	"github.com/cardforge/cardforge/internal/application/generation"
	"github.com/cardforge/cardforge/internal/application/query"
	"github.com/cardforge/cardforge/internal/application/scoring"
	"github.com/cardforge/cardforge/internal/domain/scoretable"
	"github.com/cardforge/cardforge/internal/domain/shared"
	"github.com/cardforge/cardforge/internal/domain/student"
	"github.com/cardforge/cardforge/internal/infrastructure/external/studio"
	"github.com/cardforge/cardforge/internal/infrastructure/messaging"
	"github.com/cardforge/cardforge/internal/infrastructure/persistence/postgres"
	"github.com/cardforge/cardforge/internal/infrastructure/persistence/redis"
	httpserver "github.com/cardforge/cardforge/internal/interface/http"
	"github.com/cardforge/cardforge/pkg/logger"
)

func main() {
	// Load .env if present; real deployments set environment directly.
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
	// 1. Configuration
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Logging
	// ─────────────────────────────────────────────────────────────────────────
	appLog := logger.New(logger.Options{
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller: cfg.App.Debug,
	})
	infraLog := setupSlog(cfg)

	appLog.Info("starting Card Forge API server",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. PostgreSQL
	// ─────────────────────────────────────────────────────────────────────────
	dbConn, err := connectPostgres(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	appLog.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Repositories and reference data
	// ─────────────────────────────────────────────────────────────────────────
	studentRepo := postgres.NewStudentRepository(dbConn)
	cardRepo := postgres.NewCardRepository(dbConn)
	ledgerRepo := postgres.NewLedgerRepository(dbConn)
	unitRepo := postgres.NewUnitRepository(dbConn)
	recordRepo := postgres.NewRecordRepository(dbConn)
	tableRepo := postgres.NewScoreTableRepository(dbConn)

	if err := unitRepo.SeedDefaults(ctx); err != nil {
		return fmt.Errorf("failed to seed learning units: %w", err)
	}
	if err := ensureActiveTable(ctx, tableRepo); err != nil {
		return fmt.Errorf("failed to ensure active score table: %w", err)
	}
	if err := seedInitialAdmin(ctx, studentRepo, appLog); err != nil {
		return fmt.Errorf("failed to seed initial admin: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Redis (optional read caches)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache   *redis.Cache
		balanceCache *redis.BalanceCache
		hallCache    *redis.HallCache
	)
	if !cfg.Redis.Disabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			// Caches are an optimization; the ledger and cards stay correct
			// without them, so a dead Redis only costs read latency.
			appLog.Warn("redis unavailable, running without read caches", logger.Err(err))
			redisCache = nil
		} else {
			defer redisCache.Close()
			balanceCache = redis.NewBalanceCache(redisCache)
			hallCache = redis.NewHallCache(redisCache)
			appLog.Info("redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. Event bus and read-side invalidation
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultConfig()
	busCfg.AsyncMode = cfg.Features.IsEnabled(config.FeatureEventBusAsync)
	busCfg.Logger = infraLog
	eventBus := messaging.NewInMemoryEventBus(busCfg)
	defer func() { _ = eventBus.Close() }()

	if balanceCache != nil || hallCache != nil {
		invalidation := newCacheInvalidation(balanceCache, hallCache, appLog)
		for _, et := range invalidation.EventTypes() {
			if err := eventBus.Subscribe(et, invalidation); err != nil {
				return fmt.Errorf("failed to subscribe cache invalidation: %w", err)
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. Studio client
	// ─────────────────────────────────────────────────────────────────────────
	studioClient := buildStudioClient(cfg, infraLog, appLog)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. Application services
	// ─────────────────────────────────────────────────────────────────────────
	engine := scoring.NewEngine(unitRepo, recordRepo, tableRepo, studentRepo, appLog)

	orchestrator := generation.New(
		cardRepo, ledgerRepo, engine, studioClient, eventBus, appLog,
		generation.Config{
			TokenCost:    shared.Tokens(cfg.Pipeline.TokenCost),
			PollInterval: cfg.Pipeline.PollInterval,
			MaxWait:      cfg.Pipeline.MaxWait,
			StaleAfter:   cfg.Pipeline.StaleAfter,
			Background:   cfg.Features.IsEnabled(config.FeatureBackgroundDrive),
		},
	)

	var balanceReader query.BalanceReader
	if balanceCache != nil {
		balanceReader = balanceCache
	}
	var hallReader query.HallReader
	if hallCache != nil {
		hallReader = hallCache
	}

	deps := httpserver.Dependencies{
		Orchestrator:  orchestrator,
		Cards:         query.NewCards(cardRepo),
		Tokens:        query.NewTokens(ledgerRepo, balanceReader, appLog),
		Hall:          query.NewHall(cardRepo, studentRepo, hallReader, appLog),
		Students:      query.NewStudents(studentRepo),
		GrantTokens:   command.NewGrantTokens(studentRepo, ledgerRepo, eventBus, appLog),
		ScoreTables:   command.NewScoreTables(studentRepo, tableRepo, eventBus, appLog),
		ImportRecords: command.NewImportRecords(studentRepo, unitRepo, recordRepo, eventBus, appLog),
		EnrollStudent: command.NewEnrollStudent(studentRepo, ledgerRepo, shared.Tokens(cfg.Pipeline.EnrollmentGrant), appLog),
		Logger:        appLog,
		HealthChecker: buildHealthChecker(dbConn, redisCache),
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP server
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpserver.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	serverCfg.EnableCORS = cfg.HTTP.EnableCORS
	serverCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	serverCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute

	server := httpserver.NewServer(serverCfg, deps)
	errCh := server.StartAsync()
	appLog.Info("HTTP server listening", logger.String("addr", server.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 10. Graceful shutdown
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		appLog.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http shutdown error", logger.Err(err))
	}

	// In-flight generations finish their durable transitions before exit;
	// anything interrupted anyway is picked up by the worker's sweep.
	appLog.Info("waiting for in-flight generations...")
	orchestrator.Wait()

	appLog.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING HELPERS
// ══════════════════════════════════════════════════════════════════════════════

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

// ensureActiveTable publishes and activates the built-in ruleset when the
// deployment has no active score table yet, so a fresh database can resolve
// cards immediately.
func ensureActiveTable(ctx context.Context, tables scoretable.Repository) error {
	_, err := tables.GetActive(ctx)
	if err == nil {
		return nil
	}
	if !shared.IsNotFound(err) {
		return err
	}

	t := scoretable.DefaultTable()
	if err := tables.Publish(ctx, t); err != nil && !shared.IsAlreadyExists(err) {
		return err
	}
	return tables.Activate(ctx, t.Version)
}

// seedInitialAdmin creates the first admin account on an empty roster.
// Every later enrollment goes through the admin API, which needs an acting
// admin to exist; this breaks the bootstrap circle.
func seedInitialAdmin(ctx context.Context, students student.Repository, log *logger.Logger) error {
	email := os.Getenv("ADMIN_EMAIL")
	if email == "" {
		return nil
	}

	existing, err := students.List(ctx, 1, 0)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	id, err := shared.NewStudentID(uuid.NewString())
	if err != nil {
		return err
	}
	name := os.Getenv("ADMIN_NAME")
	if name == "" {
		name = "Administrator"
	}
	admin, err := student.New(id, email, name, student.RoleAdmin)
	if err != nil {
		return err
	}
	if err := students.Create(ctx, admin); err != nil {
		return err
	}
	log.Info("seeded initial admin account",
		logger.StudentID(id.String()), logger.String("email", email))
	return nil
}

func buildStudioClient(cfg *config.Config, infraLog *slog.Logger, appLog *logger.Logger) generation.Client {
	if cfg.Features.IsEnabled(config.FeatureStudioStub) {
		appLog.Warn("using in-process studio stub, no real images will be generated")
		return studio.NewStub()
	}
	studioCfg := studio.DefaultConfig(cfg.Studio.BaseURL)
	studioCfg.APIKey = cfg.Studio.APIKey
	studioCfg.Timeout = cfg.Studio.RequestTimeout
	studioCfg.Logger = infraLog
	studioCfg.Debug = cfg.App.Debug
	return studio.NewClient(studioCfg)
}

func newCacheInvalidation(balances *redis.BalanceCache, hall *redis.HallCache, log *logger.Logger) *eventhandler.CacheInvalidation {
	var b eventhandler.BalanceInvalidator
	if balances != nil {
		b = balances
	}
	var h eventhandler.HallInvalidator
	if hall != nil {
		h = hall
	}
	return eventhandler.NewCacheInvalidation(b, h, log)
}

// buildHealthChecker reports per-component health for /healthz.
func buildHealthChecker(db *postgres.Connection, cache *redis.Cache) httpserver.HealthChecker {
	return func(ctx context.Context) map[string]string {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		health := map[string]string{"postgres": "ok"}
		if err := db.Ping(ctx); err != nil {
			health["postgres"] = err.Error()
		}
		if cache != nil {
			health["redis"] = "ok"
			if err := cache.Ping(ctx); err != nil {
				health["redis"] = err.Error()
			}
		} else {
			health["redis"] = "disabled"
		}
		return health
	}
}
