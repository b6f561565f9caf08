package jobs

import (
	"context"
	"errors"

	"peerlend-backend/internal/logger"
	"peerlend-backend/internal/notify"
)

// DispatchReminders sends every due return reminder and marks it sent.
// Reminders for users without an address on the configured channel are marked
// sent as well; failed sends stay due and are retried on the next run.
func (jr *JobRunner) DispatchReminders() {
	jr.runWithRecovery("DispatchReminders", func(ctx context.Context) {
		log := logger.WithService("reminders")
		now := jr.now()
		due, err := jr.reminders.ListDue(ctx, now, jr.batchSize())
		if err != nil {
			log.Error("Failed to list due reminders", "error", err)
			return
		}

		sent, skipped, failed := 0, 0, 0
		for _, r := range due {
			txLog := logger.WithTransaction(r.TransactionID)
			user, err := jr.users.GetByID(ctx, r.UserID)
			if err != nil {
				txLog.Error("Failed to load reminder recipient", "reminderID", r.ID, "userID", r.UserID, "error", err)
				failed++
				continue
			}

			err = jr.messenger.Send(ctx, user, notify.ReminderNotification(r, now))
			switch {
			case errors.Is(err, notify.ErrUnreachable):
				txLog.Warn("Reminder recipient unreachable", "reminderID", r.ID, "userID", r.UserID, "error", err)
				skipped++
			case err != nil:
				txLog.Error("Failed to send reminder", "reminderID", r.ID, "error", err)
				failed++
				continue
			default:
				sent++
			}

			if err := jr.reminders.MarkSent(ctx, r.ID, now); err != nil {
				txLog.Error("Failed to mark reminder sent", "reminderID", r.ID, "error", err)
			}
		}

		log.Info("Dispatched reminders", "due", len(due), "sent", sent, "skipped", skipped, "failed", failed)
	})
}

// ReconcileTrust applies trust outcomes that were lost when a return scan
// could not update the borrower's profile.
func (jr *JobRunner) ReconcileTrust() {
	jr.runWithRecovery("ReconcileTrust", func(ctx context.Context) {
		applied, err := jr.custody.ReconcileTrust(ctx, jr.batchSize())
		if err != nil {
			logger.Error("Failed to reconcile trust outcomes", "error", err)
			return
		}
		logger.Info("Reconciled trust outcomes", "applied", applied)
	})
}

// CollectLateFees retries late fee charges that failed with a transient
// error when the item came back.
func (jr *JobRunner) CollectLateFees() {
	jr.runWithRecovery("CollectLateFees", func(ctx context.Context) {
		charged, err := jr.custody.CollectLateFees(ctx, jr.batchSize())
		if err != nil {
			logger.Error("Failed to collect late fees", "error", err)
			return
		}
		logger.Info("Collected late fees", "charged", charged)
	})
}

// ExpireStalePending cancels pending transactions whose handoff token expired
// and releases their payment holds.
func (jr *JobRunner) ExpireStalePending() {
	jr.runWithRecovery("ExpireStalePending", func(ctx context.Context) {
		expired, err := jr.custody.ExpireStalePending(ctx, jr.batchSize())
		if err != nil {
			logger.Error("Failed to expire stale transactions", "error", err)
			return
		}
		logger.Info("Expired stale pending transactions", "count", expired)
	})
}
