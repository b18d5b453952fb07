package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"minimarket/backend/internal/cache"
	"minimarket/backend/internal/config"
	"minimarket/backend/internal/httpapi"
	"minimarket/backend/internal/logger"
	"minimarket/backend/internal/observability"
	"minimarket/backend/internal/service"
	"minimarket/backend/internal/store"
	"minimarket/backend/internal/store/memory"
	pgstore "minimarket/backend/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding, cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	location, err := cfg.Location()
	if err != nil {
		log.Fatal("invalid timezone", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	repo, bootstrap, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	var sharedCache interface {
		cache.SessionCache
		cache.AlertCache
	} = cache.Noop{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			sharedCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cache: noop")
	}

	metrics := observability.NewMetrics()
	svc := service.New(repo, service.Options{
		Sessions: sharedCache,
		Alerts:   sharedCache,
		AlertTTL: cfg.AlertSnapshotTTL,
		Location: location,
		Logger:   log,
		Metrics:  metrics,
	})

	if bootstrap {
		created, err := svc.EnsureAdmin(ctx, os.Getenv("SEED_ADMIN_PASSWORD"))
		if err != nil {
			log.Fatal("bootstrap admin account", zap.Error(err))
		}
		if created {
			log.Info("bootstrap admin account created", zap.String("username", "admin"))
		}
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, svc)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Production:    cfg.IsProduction(),
		Logger:        log,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("minimarket backend listening", zap.String("addr", cfg.Address()), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

// openRepository picks postgres when DATABASE_URL is set and the seeded memory store
// otherwise. bootstrap reports whether the admin account may need creating.
func openRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (repo store.Repository, bootstrap bool, closeFn func() error, err error) {
	if cfg.DatabaseURL == "" {
		log.Info("repository: in-memory")
		return memory.NewSeeded(log), false, nil, nil
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, false, nil, err
	}
	if cfg.DatabaseAutoMigrate {
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, false, nil, err
		}
	}
	log.Info("repository: postgres", zap.Bool("auto_migrate", cfg.DatabaseAutoMigrate))
	return pg, true, pg.Close, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.IsProduction() && (cfg.AllowedOrigin == "" || cfg.AllowedOrigin == "*") {
		return fmt.Errorf("ALLOWED_ORIGIN must name the POS frontend in production")
	}
	if cfg.AccessTokenTTL > 24*time.Hour {
		return fmt.Errorf("ACCESS_TOKEN_TTL must not exceed 24h")
	}
	return nil
}
