package jobs

import (
	"context"
	"time"

	"peerlend-backend/internal/config"
	"peerlend-backend/internal/logger"
	"peerlend-backend/internal/notify"
	"peerlend-backend/internal/repository"
	"peerlend-backend/internal/service"
)

const defaultBatchSize = 100

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	custody   service.CustodyService
	users     repository.UserRepository
	reminders repository.ReminderRepository
	messenger notify.Messenger
	config    *config.Config
	now       func() time.Time
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(custody service.CustodyService, repos repository.Repositories, messenger notify.Messenger, cfg *config.Config) *JobRunner {
	return &JobRunner{
		custody:   custody,
		users:     repos.Users,
		reminders: repos.Reminders,
		messenger: messenger,
		config:    cfg,
		now:       time.Now,
	}
}

// Config returns the configuration the runner was built with
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

func (jr *JobRunner) batchSize() int {
	if jr.config != nil && jr.config.Scheduler.BatchSize > 0 {
		return jr.config.Scheduler.BatchSize
	}
	return defaultBatchSize
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	start := time.Now()
	logger.Info("Starting job", "job", jobName)
	jobFunc(context.Background())
	logger.Info("Job completed", "job", jobName, "duration", time.Since(start))
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.ExpireStalePending()
	jr.DispatchReminders()
	jr.ReconcileTrust()
	jr.CollectLateFees()
}
