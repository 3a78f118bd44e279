// Package notify delivers customer notifications. Delivery is
// fire-and-forget: failures are logged by callers, never propagated
// into the booking flow.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridNotifier emails renters through SendGrid. Recipients that
// are not email addresses (walk-in guest phone numbers) are skipped.
type SendGridNotifier struct {
	client    *sendgrid.Client
	fromName  string
	fromEmail string
}

func NewSendGridNotifier(apiKey, fromName, fromEmail string) *SendGridNotifier {
	return &SendGridNotifier{
		client:    sendgrid.NewSendClient(apiKey),
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

func (n *SendGridNotifier) Send(ctx context.Context, event, recipient, body string) error {
	if !strings.Contains(recipient, "@") {
		return nil
	}

	m := mail.NewSingleEmail(
		mail.NewEmail(n.fromName, n.fromEmail),
		subjectFor(event),
		mail.NewEmail("", recipient),
		body,
		body,
	)
	resp, err := n.client.SendWithContext(ctx, m)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid: status %d", resp.StatusCode)
	}
	return nil
}

func subjectFor(event string) string {
	switch event {
	case "verification.link":
		return "Verify your identity to complete your booking"
	case "booking.confirmed":
		return "Your booking is confirmed"
	case "booking.cancelled":
		return "Your booking has been cancelled"
	default:
		return "Booking update"
	}
}

// LogNotifier is a stand-in used in development and tests.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Send(ctx context.Context, event, recipient, body string) error {
	n.Logger.InfoContext(ctx, "notification", "event", event, "recipient", recipient, "body", body)
	return nil
}
