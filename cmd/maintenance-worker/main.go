package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/clinicops/clinic-platform/internal/audit"
	appconfig "github.com/clinicops/clinic-platform/internal/config"
	"github.com/clinicops/clinic-platform/internal/notify"
	"github.com/clinicops/clinic-platform/internal/queue"
	"github.com/clinicops/clinic-platform/internal/roster"
	"github.com/clinicops/clinic-platform/internal/worker"
	"github.com/clinicops/clinic-platform/pkg/logging"
)

// Standalone maintenance worker. Deploy this when the emergency sweep
// should run outside the API process.
func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-platform maintenance worker",
		"env", cfg.Env,
		"interval", cfg.MaintenanceInterval,
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

	queueSvc := queue.NewService(queue.NewStore(pool), roster.NewPostgresProvider(pool), audit.NewRecorder(pool), queue.ServiceConfig{
		DefaultDailyCapacity: cfg.DefaultDailyCapacity,
		AcutePriority:        cfg.EmergencyAcutePriority,
		EmergencyValidity:    cfg.EmergencyValidity,
	}, logger)

	emailSender := notify.EmailSender(notify.NewStubEmailSender(logger))
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		emailSender = sg
	}
	notifySvc := notify.NewService(emailSender, notify.NewPostgresDirectory(pool), logger)

	maintenance := worker.NewMaintenance(queueSvc, cfg.MaintenanceInterval, logger).
		WithReminders(notify.NewReminderJob(pool, notifySvc, logger))

	done := make(chan struct{})
	go func() {
		maintenance.Run(ctx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down maintenance worker...")
	cancel()
	<-done
	logger.Info("maintenance worker stopped")
}
