package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/clinicops/clinic-platform/internal/api/router"
	"github.com/clinicops/clinic-platform/internal/audit"
	"github.com/clinicops/clinic-platform/internal/calendar"
	appconfig "github.com/clinicops/clinic-platform/internal/config"
	"github.com/clinicops/clinic-platform/internal/notify"
	"github.com/clinicops/clinic-platform/internal/observability/metrics"
	"github.com/clinicops/clinic-platform/internal/queue"
	"github.com/clinicops/clinic-platform/internal/recovery"
	"github.com/clinicops/clinic-platform/internal/roster"
	"github.com/clinicops/clinic-platform/internal/worker"
	"github.com/clinicops/clinic-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	queueMetrics := metrics.NewQueueMetrics(reg)

	var rosterProvider roster.Provider = roster.NewPostgresProvider(pool)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		rosterProvider = roster.NewCached(rosterProvider, redisClient, cfg.RosterCacheTTL, logger)
	}

	auditSink := audit.NewRecorder(pool)
	board := queue.NewBoard(logger, queueMetrics)

	queueSvc := queue.NewService(queue.NewStore(pool), rosterProvider, auditSink, queue.ServiceConfig{
		DefaultDailyCapacity: cfg.DefaultDailyCapacity,
		AcutePriority:        cfg.EmergencyAcutePriority,
		EmergencyValidity:    cfg.EmergencyValidity,
	}, logger).WithBoard(board).WithMetrics(queueMetrics)

	emailSender := notify.EmailSender(notify.NewStubEmailSender(logger))
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		emailSender = sg
	}
	notifySvc := notify.NewService(emailSender, notify.NewPostgresDirectory(pool), logger)

	recoverySvc := recovery.NewService(recovery.NewStore(pool), auditSink, cfg.DefaultDailyCapacity, logger).
		WithNotifier(notifySvc).
		WithCalendar(calendar.NewPostgresProvider(pool, cfg.DefaultDailyCapacity)).
		WithMetrics(queueMetrics)

	maintenance := worker.NewMaintenance(queueSvc, cfg.MaintenanceInterval, logger).
		WithReminders(notify.NewReminderJob(pool, notifySvc, logger))
	go maintenance.Run(ctx)

	r := router.New(&router.Config{
		Logger:             logger,
		QueueHandler:       queue.NewHandler(queueSvc, queue.NewStatsRepository(pool), logger),
		RecoveryHandler:    recovery.NewHandler(recoverySvc, logger),
		Board:              board,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: splitOrigins(cfg.CORSAllowedOrigins),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
