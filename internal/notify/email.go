package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/services"
)

// ErrNoRoute is returned when no channel is configured for a notification
var ErrNoRoute = errors.New("no delivery route for notification")

// Mailer sends plain-text mail
type Mailer interface {
	Enabled() bool
	AdminAddress() string
	SendEmail(to, subject, body string) error
}

// EmailNotifier mails administrator alerts directly and passes everything else
// to next, which knows how to reach end users
type EmailNotifier struct {
	mailer Mailer
	next   services.Notifier
}

// NewEmailNotifier creates an EmailNotifier. next may be nil.
func NewEmailNotifier(mailer Mailer, next services.Notifier) *EmailNotifier {
	return &EmailNotifier{mailer: mailer, next: next}
}

// Notify implements services.Notifier
func (e *EmailNotifier) Notify(ctx context.Context, note models.Notification) error {
	if note.Kind == models.NotificationInvoicePaidAdmin && e.mailer.Enabled() && e.mailer.AdminAddress() != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		subject, body, err := adminMessage(note)
		if err != nil {
			return err
		}
		return e.mailer.SendEmail(e.mailer.AdminAddress(), subject, body)
	}
	if e.next == nil {
		return fmt.Errorf("%s: %w", note.Kind, ErrNoRoute)
	}
	return e.next.Notify(ctx, note)
}

func adminMessage(note models.Notification) (string, string, error) {
	var invoice models.Invoice
	if err := json.Unmarshal(note.Payload, &invoice); err != nil {
		return "", "", fmt.Errorf("decode invoice snapshot: %w", err)
	}
	paidAt := "unknown"
	if invoice.PaidAt != nil {
		paidAt = invoice.PaidAt.UTC().Format(time.RFC3339)
	}
	subject := fmt.Sprintf("Invoice %s paid", invoice.InvoiceNumber)
	body := fmt.Sprintf("Invoice %s for auction %s was paid by user %s.\n\nTotal: %s %s\nLots: %d\nPaid at: %s\n",
		invoice.InvoiceNumber, invoice.AuctionID, invoice.UserID,
		invoice.TotalAmount.StringFixed(2), invoice.Currency,
		len(invoice.SoldLots()), paidAt)
	return subject, body, nil
}

// LogNotifier records notifications in the log instead of delivering them.
// It serves local runs without a queue.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements services.Notifier
func (l *LogNotifier) Notify(_ context.Context, note models.Notification) error {
	l.logger.Info("notification",
		"notification_id", note.ID, "kind", note.Kind, "subject_id", note.SubjectID, "recipient_id", note.RecipientID)
	return nil
}

// RequestDocument implements services.DocumentRenderer
func (l *LogNotifier) RequestDocument(ctx context.Context, note models.Notification) error {
	return l.Notify(ctx, note)
}
