package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(logger, cfg.PGDSN)
	}

	var provider geo.Provider
	if cfg.RedisAddr != "" {
		provider = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		provider = geo.NewIndex()
	}

	var store interface {
		storage.RideStore
		storage.Directory
	}
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = pg
	} else {
		store = storage.NewMemoryStore()
	}

	var kafka *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kafka = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaEventTopic)
		defer kafka.Close()
	}

	gateway := notify.NewWSGateway(logging.Component(logger, "notify"))
	if cfg.PushEndpoint != "" {
		gateway.Fallback = notify.NewHTTPPushGateway(cfg.PushEndpoint, cfg.PushKey)
	}

	var pay dispatch.PaymentGateway
	if os.Getenv("STRIPE_API_KEY") != "" {
		pay = payments.NewStripeClient()
	}

	var estimator dispatch.ETAEstimator
	if cfg.OSRMEndpoint != "" {
		estimator = eta.NewCachedClient(eta.NewOSRMClient(cfg.OSRMEndpoint), cfg.ETACacheTTL)
	}

	deps := dispatch.Deps{
		Provider:  provider,
		Gateway:   gateway,
		Rides:     store,
		Directory: store,
		Payments:  pay,
		ETA:       estimator,
		Logger:    logging.Component(logger, "dispatch"),
	}
	if kafka != nil {
		deps.Events = kafka
	}
	orch := dispatch.New(dispatch.Config{
		FanOut:        cfg.DispatchFanOut,
		RetryInterval: cfg.RetryInterval,
		RetryMaxTicks: cfg.RetryMaxTicks,
		SpeedMps:      cfg.DefaultSpeedMps,
		Currency:      cfg.PaymentCurrency,
	}, deps)
	defer orch.Close()

	srv := httpapi.NewServer(logger, orch, provider, store, kafka, gateway, pay)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
}

func runMigrations(logger *slog.Logger, dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Warn("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		logger.Warn("migration file missing", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Warn("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_rides.sql")
}
