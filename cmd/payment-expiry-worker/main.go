package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-booking/internal/appointment"
	"github.com/hackgods/telehealth-booking/internal/audit"
	"github.com/hackgods/telehealth-booking/internal/config"
	"github.com/hackgods/telehealth-booking/internal/db"
	"github.com/hackgods/telehealth-booking/internal/logging"
	"github.com/hackgods/telehealth-booking/internal/metrics"
	redisclient "github.com/hackgods/telehealth-booking/internal/redis"
	"github.com/hackgods/telehealth-booking/internal/reminder"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.Must(cfg.Env).Named("payment-expiry")
	defer func() { _ = logger.Sync() }()

	logger.Info("payment expiry worker starting up",
		zap.String("env", cfg.Env),
		zap.String("schedule", cfg.ExpirySchedule),
		zap.Duration("pending_ttl", cfg.PaymentPendingTTL),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN,
		db.WithApplicationName("payment-expiry-worker"),
		db.WithMaxConns(4),
	)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	// Expiry never books, so the slot lock is not needed here.
	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NoopLocker{},
		reminder.NewPgGenerator(pgPool),
		audit.NewPgSink(pgPool, logger),
		cfg,
		logger,
	)
	collector := metrics.New("payment-expiry-worker")

	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if _, err := c.AddFunc(cfg.ExpirySchedule, func() { runOnce(rootCtx, svc, collector, logger) }); err != nil {
		logger.Fatal("invalid expiry schedule", zap.String("schedule", cfg.ExpirySchedule), zap.Error(err))
	}

	// Run once at startup
	runOnce(rootCtx, svc, collector, logger)

	c.Start()

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           collector.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()

	logger.Info("shutdown signal received, stopping expiry worker")
	<-c.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func runOnce(ctx context.Context, svc *appointment.Service, collector *metrics.Collector, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.ExpireStalePayments(runCtx)
	if err != nil {
		logger.Error("expiry run error", zap.Error(err))
		return
	}
	collector.RecordExpired(n)
	logger.Info("expiry run complete",
		zap.Int64("expired", n),
		zap.Duration("took", time.Since(start)),
	)
}
