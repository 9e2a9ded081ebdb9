package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Jeremytpk/quicktrash-sub002/internal/config"
	"github.com/Jeremytpk/quicktrash-sub002/internal/dispatch"
	"github.com/Jeremytpk/quicktrash-sub002/internal/geo"
	httpapi "github.com/Jeremytpk/quicktrash-sub002/internal/http"
	"github.com/Jeremytpk/quicktrash-sub002/internal/ingest"
	"github.com/Jeremytpk/quicktrash-sub002/internal/logging"
	"github.com/Jeremytpk/quicktrash-sub002/internal/payments"
	"github.com/Jeremytpk/quicktrash-sub002/internal/scheduler"
	"github.com/Jeremytpk/quicktrash-sub002/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var jobStore store.JobStore
	var settlements payments.SettlementRecorder
	if cfg.PGDSN != "" {
		ps, err := store.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		if cfg.RunMigrations {
			if ddl, err := os.ReadFile(filepath.Join("migrations", "001_create_jobs.sql")); err == nil {
				if err := ps.Migrate(context.Background(), string(ddl)); err != nil {
					logger.Error("migration failed", "error", err)
				} else {
					logger.Info("migration applied", "file", "001_create_jobs.sql")
				}
			}
		}
		jobStore = ps
		settlements = ps
		defer ps.Close()
	} else {
		jobStore = store.NewMemoryStore()
	}

	var registry geo.Registry
	if cfg.RedisAddr != "" {
		registry = geo.NewRedisRegistry(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		registry = geo.NewIndex()
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	wsreg := dispatch.NewWSRegistry(logger)
	notifier := dispatch.NewPushNotifier(wsreg, cfg.PushEndpoint, cfg.PushKey, logger)
	payer := payments.NewService(payments.NewStripeClient(), settlements, logger)

	engine := dispatch.NewEngine(jobStore, registry, notifier, payer, dispatch.Config{
		RadiusMiles:      cfg.RadiusMiles,
		OfferTTL:         cfg.OfferTTL,
		MaxLocationAge:   cfg.MaxLocationAge,
		ArrivalThreshold: cfg.ArrivalThresholdM,
		MaxFixAge:        cfg.MaxFixAge,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go engine.Run(ctx)

	sweeper := scheduler.NewSweeper(jobStore, engine.Arbiter(), logger)
	if err := sweeper.Start(); err != nil {
		logger.Error("sweeper start failed", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	api := httpapi.NewServer(jobStore, registry, engine, producer, wsreg, logger)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("dispatch api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("dispatch api stopped")
}
