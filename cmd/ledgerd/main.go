package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/davidleathers/transaction-audit-ledger/internal/api/rest"
	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/cache"
	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/config"
	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/crypto"
	"github.com/davidleathers/transaction-audit-ledger/internal/infrastructure/database"
	ledgersvc "github.com/davidleathers/transaction-audit-ledger/internal/service/ledger"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		opts.DB = cfg.Redis.DB
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, caching disabled", zap.Error(err))
			redisClient = nil
		}
	}
	ledgerCache := cache.NewLedgerCache(redisClient, logger)

	var key []byte
	if cfg.Crypto.Enabled {
		key, err = crypto.ParseKey(cfg.Crypto.Key)
		if err != nil {
			return fmt.Errorf("parse encryption key: %w", err)
		}
	}
	cipher, err := crypto.NewFieldCipher(key, cfg.Crypto.Enabled)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	service := ledgersvc.NewService(
		database.NewLedgerRepository(pool),
		database.NewDecisionRepository(pool),
		database.NewComplianceRepository(pool),
		cipher,
		ledgerCache,
		registry,
		logger.Named("ledger"),
		ledgersvc.ServiceConfig{
			Integrity: ledgersvc.IntegrityConfig{
				EventsPerSecond: cfg.Integrity.EventsPerSecond,
				SnapshotTTL:     cfg.Integrity.SnapshotTTL,
			},
			Retention: ledgersvc.RetentionConfig{
				Horizon:       time.Duration(cfg.Retention.HorizonDays) * 24 * time.Hour,
				SweepInterval: cfg.Retention.SweepInterval,
			},
		},
	)

	if cfg.Retention.SweepEnabled {
		service.Retention().StartSweep(ctx)
		defer service.Retention().StopSweep()
	}

	handler := rest.NewHandler(service, logger.Named("api"))
	server := rest.NewServer(cfg.Server, handler, registry, logger.Named("http"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.Environment == "development" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(
		zap.String("service", "transaction-audit-ledger"),
		zap.String("version", cfg.Version),
	), nil
}
