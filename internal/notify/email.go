package notify

import (
	"context"
	"fmt"
	"html"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"gopkg.in/gomail.v2"

	"peerlend-backend/internal/domain"
)

type sendgridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridMessenger emails notifications through the SendGrid API.
type SendGridMessenger struct {
	client    sendgridClient
	fromEmail string
	fromName  string
}

func NewSendGridMessenger(apiKey, fromEmail, fromName string) *SendGridMessenger {
	return &SendGridMessenger{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (m *SendGridMessenger) Send(ctx context.Context, to *domain.User, n Notification) error {
	if to.Email == "" {
		return ErrUnreachable
	}
	from := mail.NewEmail(m.fromName, m.fromEmail)
	recipient := mail.NewEmail(to.Name, to.Email)
	message := mail.NewSingleEmail(from, n.Title, recipient, n.Body, htmlBody(to, n))

	response, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}

// SMTPMessenger emails notifications through a plain SMTP relay.
type SMTPMessenger struct {
	dialer *gomail.Dialer
	send   func(d *gomail.Dialer, m ...*gomail.Message) error
	from   string
}

func NewSMTPMessenger(host string, port int, username, password, fromEmail, fromName string) *SMTPMessenger {
	return &SMTPMessenger{
		dialer: gomail.NewDialer(host, port, username, password),
		send:   (*gomail.Dialer).DialAndSend,
		from:   fmt.Sprintf("%s <%s>", fromName, fromEmail),
	}
}

func (m *SMTPMessenger) Send(ctx context.Context, to *domain.User, n Notification) error {
	if to.Email == "" {
		return ErrUnreachable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetAddressHeader("To", to.Email, to.Name)
	msg.SetHeader("Subject", n.Title)
	msg.SetBody("text/plain", n.Body)
	msg.AddAlternative("text/html", htmlBody(to, n))

	if err := m.send(m.dialer, msg); err != nil {
		return fmt.Errorf("failed to send email via gomail: %w", err)
	}
	return nil
}

func htmlBody(to *domain.User, n Notification) string {
	name := to.Name
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("<html><body><p>Hello %s,</p><p>%s</p><p>The PeerLend Team</p></body></html>",
		html.EscapeString(name), html.EscapeString(n.Body))
}
