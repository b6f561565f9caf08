// Package notify delivers return reminders to borrowers over push, email or
// the log.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peerlend-backend/internal/config"
	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/logger"
)

// ErrUnreachable is returned when the user has no address on the channel.
// Retrying will not help.
var ErrUnreachable = errors.New("user has no address for this channel")

// Notification is one message to one user.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

type Messenger interface {
	Send(ctx context.Context, to *domain.User, n Notification) error
}

// ReminderNotification renders a return reminder relative to now.
func ReminderNotification(r domain.Reminder, now time.Time) Notification {
	title := "Return reminder"
	if r.ItemTitle != "" {
		title = fmt.Sprintf("Return reminder: %s", r.ItemTitle)
	}
	left := r.DueAt.Sub(now).Round(time.Minute)
	var body string
	if left > 0 {
		body = fmt.Sprintf("Please return the item within %s, by %s UTC.", left, r.DueAt.UTC().Format("Mon 02 Jan 15:04"))
	} else {
		body = fmt.Sprintf("The item was due back at %s UTC. Late fees apply from the due time.", r.DueAt.UTC().Format("Mon 02 Jan 15:04"))
	}
	return Notification{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"type":           "return_reminder",
			"transaction_id": r.TransactionID,
			"due_at":         r.DueAt.UTC().Format(time.RFC3339),
		},
	}
}

// LogMessenger writes notifications to the structured log. It is the default
// for development.
type LogMessenger struct{}

func (LogMessenger) Send(ctx context.Context, to *domain.User, n Notification) error {
	logger.InfoContext(ctx, "Notification", "userID", to.ID, "title", n.Title, "body", n.Body)
	return nil
}

// New builds the messenger selected by cfg.
func New(ctx context.Context, cfg config.NotifyConfig) (Messenger, error) {
	switch cfg.Provider {
	case "", "log":
		return LogMessenger{}, nil
	case "fcm":
		m, err := NewPushMessenger(ctx, cfg.FCMCredentialsFile)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "sendgrid":
		return NewSendGridMessenger(cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName), nil
	case "smtp":
		return NewSMTPMessenger(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password, cfg.FromEmail, cfg.FromName), nil
	default:
		return nil, fmt.Errorf("unknown notify provider: %q", cfg.Provider)
	}
}
