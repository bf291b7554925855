package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitetrack/backend/internal/cache"
	"bitetrack/backend/internal/config"
	"bitetrack/backend/internal/domain"
	"bitetrack/backend/internal/httpapi"
	"bitetrack/backend/internal/importer"
	"bitetrack/backend/internal/logging"
	"bitetrack/backend/internal/metrics"
	"bitetrack/backend/internal/service"
	"bitetrack/backend/internal/store"
	"bitetrack/backend/internal/store/memory"
	mongostore "bitetrack/backend/internal/store/mongodb"
	pgstore "bitetrack/backend/internal/store/postgres"
)

func main() {
	envFile, envErr := config.LoadEnvFile()
	cfg := config.Load()
	logger := logging.New(logging.Config{Level: cfg.LogLevel, ServiceName: "bitetrack"})
	slog.SetDefault(logger)

	if envErr != nil {
		logger.Warn("env file ignored", "error", envErr)
	} else if envFile != "" {
		logger.Info("env file loaded", "path", envFile)
	}

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close error", "error", err)
			}
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	policy := cache.Policy{TTL: cfg.ImportReportTTL()}
	reports := cache.ImportReportCache(cache.NewMemoryImportReportCache(policy))
	if cfg.RedisAddr != "" {
		client, err := cache.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("redis unavailable, keeping import reports in memory", "error", err)
		} else {
			redisCache := cache.NewRedisImportReportCache(client, policy)
			reports = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("import report cache ready", "backend", "redis", "ttl", policy.TTL)
		}
	} else {
		logger.Info("import report cache ready", "backend", "memory", "ttl", policy.TTL)
	}

	m := metrics.New()
	svc := service.New(repo, service.WithLogger(logger), service.WithMetrics(m))
	if err := bootstrapAdmin(ctx, cfg, svc, logger); err != nil {
		return err
	}

	imp := importer.New(svc,
		importer.WithReportCache(reports),
		importer.WithLogger(logger),
		importer.WithMetrics(m),
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, imp, auth, cfg.AllowedOrigin, httpapi.WithLogger(logger), httpapi.WithMetrics(m))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("bitetrack backend listening", "addr", cfg.Address(), "store", cfg.StoreKind())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("listen: %w", err)
	case s := <-sig:
		logger.Info("shutdown requested", "signal", s.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

// openRepository picks postgres, then mongodb, then the seeded in-memory
// store. A configured database that cannot be reached is fatal.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, func() error, error) {
	switch cfg.StoreKind() {
	case "postgres":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("repository ready", "backend", "postgres")
		return pg, pg.Close, nil
	case "mongodb":
		mongoCfg := mongostore.DefaultConfig()
		mongoCfg.URI = cfg.MongoURI
		mongoCfg.Database = cfg.MongoDatabase
		mg, err := mongostore.New(ctx, mongoCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("mongodb unavailable and MONGO_URI is set: %w", err)
		}
		if err := mg.EnsureIndexes(ctx); err != nil {
			_ = mg.Close()
			return nil, nil, fmt.Errorf("ensure mongodb indexes: %w", err)
		}
		logger.Info("repository ready", "backend", "mongodb", "database", cfg.MongoDatabase)
		return mg, mg.Close, nil
	default:
		logger.Info("repository ready", "backend", "memory")
		return memory.NewSeeded(), nil, nil
	}
}

// bootstrapAdmin creates the first superadmin on an empty persistent store.
// The in-memory store seeds its own admin.
func bootstrapAdmin(ctx context.Context, cfg config.Config, svc *service.Service, logger *slog.Logger) error {
	if cfg.StoreKind() == "memory" {
		return nil
	}
	sellers, err := svc.ListSellers(ctx)
	if err != nil {
		return fmt.Errorf("list sellers: %w", err)
	}
	if len(sellers) > 0 {
		return nil
	}
	if !cfg.SeedAdminPasswordIsSet {
		logger.Warn("no sellers exist and SEED_ADMIN_PASSWORD is unset; nobody can log in")
		return nil
	}

	admin, err := svc.CreateSeller(ctx, domain.SellerCreateRequest{
		Name:     "Store Admin",
		Email:    cfg.SeedAdminEmail,
		Password: os.Getenv("SEED_ADMIN_PASSWORD"),
		Role:     domain.RoleSuperAdmin,
	})
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	logger.Info("bootstrap admin created", "email", admin.Email)
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.DatabaseURL != "" && cfg.MongoURI != "" {
		return fmt.Errorf("set only one of DATABASE_URL and MONGO_URI")
	}
	return nil
}
