package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/logger"
)

// fcmClient is the part of *messaging.Client used here.
type fcmClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushMessenger sends notifications through Firebase Cloud Messaging to the
// user's registered device.
type PushMessenger struct {
	client fcmClient
}

// NewPushMessenger initializes a Firebase app from a service account file.
func NewPushMessenger(ctx context.Context, credentialsFile string) (*PushMessenger, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}
	return &PushMessenger{client: client}, nil
}

func (m *PushMessenger) Send(ctx context.Context, to *domain.User, n Notification) error {
	if to.DeviceToken == "" {
		return ErrUnreachable
	}
	_, err := m.client.Send(ctx, &messaging.Message{
		Token: to.DeviceToken,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: n.Data,
	})
	if err != nil {
		if messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) {
			logger.Warn("Invalid FCM token", "userID", to.ID, "error", err)
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return fmt.Errorf("failed to send FCM message: %w", err)
	}
	return nil
}
