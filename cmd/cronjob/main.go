package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"peerlend-backend/internal/app"
	"peerlend-backend/internal/config"
	"peerlend-backend/internal/jobs"
	"peerlend-backend/internal/logger"
	"peerlend-backend/internal/notify"
	"peerlend-backend/internal/scheduler"
	"peerlend-backend/internal/telemetry"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'dispatch-reminders', 'all')")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting PeerLend cronjob runner...", "log_level", cfg.Log.Level)

	ctx := context.Background()
	tel, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open store", "error", err)
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	svcs, err := app.NewServices(cfg, store.Repositories())
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	messenger, err := notify.New(ctx, cfg.Notify)
	if err != nil {
		log.Fatalf("Failed to initialize notifications: %v", err)
	}
	logger.Info("Notification channel ready", "provider", cfg.Notify.Provider)

	// Initialize Job Runner
	jobRunner := jobs.NewJobRunner(svcs.Custody, store.Repositories(), messenger, cfg)

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		if !runJobOnce(jobRunner, *runOnce) {
			os.Exit(1)
		}
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	// Initialize Scheduler
	cronScheduler, err := scheduler.NewScheduler(jobRunner)
	if err != nil {
		log.Fatalf("Failed to schedule jobs: %v", err)
	}

	cronScheduler.Start()
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down cronjob scheduler...")
	cronScheduler.Stop()
	logger.Info("Cronjob scheduler stopped. Goodbye!")
}

// runJobOnce runs a specific job once and reports whether the name was known
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) bool {
	switch jobName {
	case "dispatch-reminders":
		jobRunner.DispatchReminders()
	case "reconcile-trust":
		jobRunner.ReconcileTrust()
	case "expire-stale-pending":
		jobRunner.ExpireStalePending()
	case "collect-late-fees":
		jobRunner.CollectLateFees()
	case "all":
		jobRunner.RunAll()
	default:
		logger.Error("Unknown job name", "job", jobName)
		fmt.Printf("Available jobs:\n")
		fmt.Printf("  - dispatch-reminders\n")
		fmt.Printf("  - reconcile-trust\n")
		fmt.Printf("  - expire-stale-pending\n")
		fmt.Printf("  - collect-late-fees\n")
		fmt.Printf("  - all\n")
		return false
	}
	return true
}
