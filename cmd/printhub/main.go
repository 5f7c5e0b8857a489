package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/orrn/printhub/internal/api"
	"github.com/orrn/printhub/internal/api/handlers"
	"github.com/orrn/printhub/internal/api/middleware"
	"github.com/orrn/printhub/internal/archive"
	"github.com/orrn/printhub/internal/config"
	"github.com/orrn/printhub/internal/core"
	"github.com/orrn/printhub/internal/db"
	"github.com/orrn/printhub/internal/gateway"
	"github.com/orrn/printhub/internal/ingest"
	"github.com/orrn/printhub/internal/logging"
	"github.com/orrn/printhub/internal/notify"
	"github.com/orrn/printhub/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("printhub exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	fanout := notify.NewFanout(notify.NewRedisPublisher(rdb, cfg.Redis.ChannelPrefix), logger)

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = newArchiver(ctx, cfg.Archive, logger)
		if err != nil {
			return err
		}
	}

	registry := core.NewClientRegistry(db.NewClientOperations(database), fanout, core.RegistryConfig{
		HeartbeatTimeout: cfg.Clients.HeartbeatTimeout,
		Logger:           logger,
	})
	engineCfg := core.EngineConfig{
		StuckThreshold: cfg.Tasks.StuckThreshold,
		RetentionDays:  cfg.Tasks.RetentionDays,
		Logger:         logger,
	}
	if archiver != nil {
		engineCfg.Archiver = archiver
	}
	engine := core.NewTaskEngine(db.NewTaskOperations(database), db.NewHistoryOperations(database), registry, fanout, engineCfg)

	checks := map[string]handlers.Check{
		"sqlite": func(ctx context.Context) error { return db.Ping(ctx, database) },
		"redis":  func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	var syncer *ingest.Syncer
	var checkpoint *db.Checkpoint
	if cfg.Ingest.Enabled {
		source, err := ingest.NewPGSource(ctx, cfg.Ingest.SourceDSN)
		if err != nil {
			return fmt.Errorf("open order source: %w", err)
		}
		defer source.Close()
		checks["orders"] = source.Ping

		checkpoint = db.NewCheckpoint(database, cfg.Ingest.InitialLastSyncID)
		syncer = ingest.NewSyncer(source, ingest.NewJSONFormatter(source), engine, checkpoint,
			ingest.Config{
				BatchSize: cfg.Ingest.BatchSize,
				TimeLimit: time.Duration(cfg.Ingest.TimeLimitHours) * time.Hour,
				Logger:    logger,
			})
	}

	sched := scheduler.New(ctx, logger)
	if err := sched.RegisterLifecycle(cfg, scheduler.Deps{Engine: engine, Registry: registry, Syncer: syncer}); err != nil {
		return err
	}

	listener := gateway.NewListener(rdb, cfg.Redis.ChannelPrefix, gateway.NewHandler(engine, registry, fanout, logger), logger)

	auth, err := authConfig(ctx, cfg.Auth, database, logger)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.Server.Mode)
	deps := api.Deps{
		Engine:   engine,
		Registry: registry,
		Auth:     auth,
		Checks:  checks,
		Metrics: cfg.Metrics.Enabled,
		Logger:  logger,
	}
	if syncer != nil {
		deps.Syncer = syncer
		deps.Cursor = checkpoint
	}
	if archiver != nil {
		deps.Archives = archiver
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := listener.Run(ctx); err != nil {
			errCh <- fmt.Errorf("agent listener: %w", err)
		}
	}()
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	sched.Start()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown failed", "error", err)
	}
	return runErr
}

func newArchiver(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*archive.Archiver, error) {
	archiveCfg := archive.Config{Path: cfg.Path, Logger: logger}
	if cfg.S3Bucket != "" {
		uploader, err := archive.NewS3Uploader(ctx, archive.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 uploader: %w", err)
		}
		archiveCfg.Uploader = uploader
	}

	archiver, err := archive.NewArchiver(archiveCfg)
	if err != nil {
		return nil, fmt.Errorf("create archiver: %w", err)
	}
	return archiver, nil
}

// authConfig resolves the signing secret. Without a configured one the
// secret is generated once and kept in the settings table.
func authConfig(ctx context.Context, cfg config.AuthConfig, database *sql.DB, logger *slog.Logger) (middleware.AuthConfig, error) {
	if cfg.Disabled {
		logger.Warn("admin API authentication is disabled; every /api route is open")
		return middleware.AuthConfig{Disabled: true}, nil
	}

	secret := cfg.JWTSecret
	if secret == "" {
		var err error
		secret, err = db.NewSettingsOperations(database).GetOrCreateJWTSecret(ctx)
		if err != nil {
			return middleware.AuthConfig{}, fmt.Errorf("load jwt secret: %w", err)
		}
	}
	if cfg.AdminPasswordHash == "" {
		logger.Warn("no admin password hash configured; admin API logins will be refused")
	}

	return middleware.AuthConfig{
		JWTSecret:         secret,
		AdminPasswordHash: cfg.AdminPasswordHash,
		TokenTTL:          cfg.TokenTTL,
	}, nil
}
