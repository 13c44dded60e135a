package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/parishops/mailqueue/internal/account"
	"github.com/parishops/mailqueue/internal/api"
	"github.com/parishops/mailqueue/internal/config"
	"github.com/parishops/mailqueue/internal/db"
	"github.com/parishops/mailqueue/internal/metrics"
	"github.com/parishops/mailqueue/internal/ratelimiter"
	"github.com/parishops/mailqueue/internal/repository"
	"github.com/parishops/mailqueue/internal/service"
	"github.com/parishops/mailqueue/internal/transport"
	"github.com/parishops/mailqueue/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mailRepo := repository.NewPgMailRepository(pool)
	trackingRepo := repository.NewPgTrackingRepository(pool)

	accounts := account.NewPool(cfg.Accounts, account.PoolOptions{
		WindowLength:     cfg.WindowLength,
		WindowCeiling:    cfg.WindowCeiling,
		DegradedCooldown: cfg.DegradedCooldown,
	}, logger)
	logger.Info("sending account pool loaded", zap.Int("accounts", len(cfg.Accounts)))

	var trans transport.Transport
	switch cfg.TransportMode {
	case config.TransportSimulated:
		trans = transport.NewSimulatedTransport(logger)
		logger.Warn("transport mode is simulated: no mail will leave this process")
	default:
		trans = transport.NewSMTPTransport(transport.SMTPConfig{
			Host:            cfg.SMTPHost,
			Port:            cfg.SMTPPort,
			FromName:        cfg.FromName,
			Timeout:         cfg.SendTimeout,
			TrackingBaseURL: cfg.TrackingBaseURL,
		})
	}

	limiter := ratelimiter.New(cfg.RateLimit)
	svc := service.NewMailService(mailRepo, trackingRepo, accounts, logger)

	onSent, onFailed, onRetried := m.WorkerHooks()
	batchWorker := worker.NewBatchWorker(mailRepo, accounts, trans, limiter, worker.Options{
		BatchSize:   cfg.BatchSize,
		Parallelism: cfg.Parallelism,
		SendTimeout: cfg.SendTimeout,
		RunBudget:   cfg.RunBudget,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
	}, logger, worker.MetricHooks{
		OnSent:    onSent,
		OnFailed:  onFailed,
		OnRetried: onRetried,
	})

	// Context for background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	// Optional internal cadence; most deployments drive runs through the
	// batch trigger endpoint instead.
	if cfg.ProcessInterval > 0 {
		sched := worker.NewScheduler(batchWorker, cfg.ProcessInterval, logger)
		go sched.Run(workerCtx)
	}

	// ---- HTTP server ----
	router := api.NewRouter(svc, batchWorker, m.ObserveTrackingEvent, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests (in-flight batch runs finish
	//    inside their request contexts).
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the internal scheduler, if running.
	cancelWorkers()

	logger.Info("server stopped cleanly")
}
