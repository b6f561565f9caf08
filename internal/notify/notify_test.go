package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"peerlend-backend/internal/config"
	"peerlend-backend/internal/domain"
)

var due = time.Date(2026, 5, 8, 14, 0, 0, 0, time.UTC)

func reminder() domain.Reminder {
	return domain.Reminder{ID: "r1", TransactionID: "tx-1", UserID: "u1", ItemTitle: "Calculus", DueAt: due}
}

func TestReminderNotification(t *testing.T) {
	n := ReminderNotification(reminder(), due.Add(-4*time.Hour))
	assert.Equal(t, "Return reminder: Calculus", n.Title)
	assert.Contains(t, n.Body, "4h0m0s")
	assert.Equal(t, "tx-1", n.Data["transaction_id"])
	assert.Equal(t, "return_reminder", n.Data["type"])

	late := ReminderNotification(reminder(), due.Add(time.Hour))
	assert.Contains(t, late.Body, "was due back")
}

type MockFCM struct{ mock.Mock }

func (m *MockFCM) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func TestPushMessenger(t *testing.T) {
	ctx := context.Background()
	n := ReminderNotification(reminder(), due.Add(-time.Hour))

	t.Run("Success", func(t *testing.T) {
		client := new(MockFCM)
		client.On("Send", ctx, mock.MatchedBy(func(msg *messaging.Message) bool {
			return msg.Token == "device-1" && msg.Notification.Title == n.Title && msg.Data["transaction_id"] == "tx-1"
		})).Return("msg-1", nil).Once()

		m := &PushMessenger{client: client}
		require.NoError(t, m.Send(ctx, &domain.User{ID: "u1", DeviceToken: "device-1"}, n))
		client.AssertExpectations(t)
	})

	t.Run("NoDevice", func(t *testing.T) {
		client := new(MockFCM)
		m := &PushMessenger{client: client}
		assert.ErrorIs(t, m.Send(ctx, &domain.User{ID: "u1"}, n), ErrUnreachable)
		client.AssertNotCalled(t, "Send")
	})

	t.Run("ProviderError", func(t *testing.T) {
		client := new(MockFCM)
		client.On("Send", ctx, mock.Anything).Return("", errors.New("quota exceeded")).Once()
		m := &PushMessenger{client: client}
		err := m.Send(ctx, &domain.User{ID: "u1", DeviceToken: "device-1"}, n)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnreachable)
	})
}

type stubSendGrid struct {
	sent   []*mail.SGMailV3
	status int
	err    error
}

func (s *stubSendGrid) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	s.sent = append(s.sent, email)
	if s.err != nil {
		return nil, s.err
	}
	return &rest.Response{StatusCode: s.status}, nil
}

func TestSendGridMessenger(t *testing.T) {
	ctx := context.Background()
	user := &domain.User{ID: "u1", Name: "Asha", Email: "asha@example.com"}
	n := Notification{Title: "Return reminder", Body: "Due <soon>"}

	client := &stubSendGrid{status: 202}
	m := &SendGridMessenger{client: client, fromEmail: "noreply@peerlend.in", fromName: "PeerLend"}
	require.NoError(t, m.Send(ctx, user, n))
	require.Len(t, client.sent, 1)
	assert.Equal(t, "Return reminder", client.sent[0].Subject)
	assert.Equal(t, "noreply@peerlend.in", client.sent[0].From.Address)

	client.status = 401
	assert.Error(t, m.Send(ctx, user, n))

	assert.ErrorIs(t, m.Send(ctx, &domain.User{ID: "u2"}, n), ErrUnreachable)
}

func TestSMTPMessenger(t *testing.T) {
	var got []*gomail.Message
	m := NewSMTPMessenger("localhost", 2525, "", "", "noreply@peerlend.in", "PeerLend")
	m.send = func(_ *gomail.Dialer, msgs ...*gomail.Message) error {
		got = append(got, msgs...)
		return nil
	}

	user := &domain.User{ID: "u1", Name: "Asha", Email: "asha@example.com"}
	require.NoError(t, m.Send(context.Background(), user, Notification{Title: "Hi", Body: "Body"}))
	require.Len(t, got, 1)
	assert.Equal(t, []string{"Hi"}, got[0].GetHeader("Subject"))
	assert.Equal(t, []string{"PeerLend <noreply@peerlend.in>"}, got[0].GetHeader("From"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Send(ctx, user, Notification{}), context.Canceled)
}

func TestNew(t *testing.T) {
	m, err := New(context.Background(), config.NotifyConfig{Provider: "log"})
	require.NoError(t, err)
	assert.IsType(t, LogMessenger{}, m)

	m, err = New(context.Background(), config.NotifyConfig{Provider: "sendgrid", SendGridAPIKey: "k", FromEmail: "a@b.c"})
	require.NoError(t, err)
	assert.IsType(t, &SendGridMessenger{}, m)

	_, err = New(context.Background(), config.NotifyConfig{Provider: "pigeon"})
	assert.Error(t, err)
}
