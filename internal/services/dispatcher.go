package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bidhall/bidhall-api/internal/config"
	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/store"
	"golang.org/x/sync/errgroup"
)

// staleClaimAfter is how long a row may sit in sending before another worker
// may claim it again
const staleClaimAfter = 5 * time.Minute

// Dispatcher delivers outbox notifications. Each row is claimed with a
// conditional update first, so concurrent dispatchers never deliver the same
// row twice in the same attempt.
type Dispatcher struct {
	store       store.Store
	notifier    Notifier
	documents   DocumentRenderer
	logger      *slog.Logger
	timeout     time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(st store.Store, notifier Notifier, documents DocumentRenderer, cfg config.WorkerConfig, logger *slog.Logger) *Dispatcher {
	timeout := cfg.DeliveryTimeoutDuration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxAttempts := cfg.NotificationMaxAttempt
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Dispatcher{
		store:       st,
		notifier:    notifier,
		documents:   documents,
		logger:      logger,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// DispatchSubject delivers the undelivered notifications of one subject
func (d *Dispatcher) DispatchSubject(ctx context.Context, subjectID string) (int, error) {
	var due []models.Notification
	err := d.store.Transaction(ctx, func(tx store.Tx) error {
		list, err := tx.ListNotificationsBySubject(ctx, subjectID)
		if err != nil {
			return err
		}
		for _, n := range list {
			if n.Status == models.NotificationPending || n.Status == models.NotificationFailed {
				due = append(due, n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return d.deliverAll(ctx, due), nil
}

// RetryNotifications re-delivers failed rows and rows left pending or sending
// for too long, skipping any that used up their attempts
func (d *Dispatcher) RetryNotifications(ctx context.Context, limit int) (int, error) {
	var due []models.Notification
	err := d.store.Transaction(ctx, func(tx store.Tx) error {
		var err error
		due, err = tx.ListRetryableNotifications(ctx, d.now().Add(-staleClaimAfter), d.maxAttempts, limit)
		return err
	})
	if err != nil {
		return 0, err
	}
	return d.deliverAll(ctx, due), nil
}

// deliverAll delivers rows in parallel and returns how many were sent
func (d *Dispatcher) deliverAll(ctx context.Context, list []models.Notification) int {
	if len(list) == 0 {
		return 0
	}
	sent := make([]bool, len(list))
	var g errgroup.Group
	for i, n := range list {
		g.Go(func() error {
			sent[i] = d.deliver(ctx, n)
			return nil
		})
	}
	_ = g.Wait()

	count := 0
	for _, ok := range sent {
		if ok {
			count++
		}
	}
	return count
}

func (d *Dispatcher) deliver(ctx context.Context, n models.Notification) bool {
	log := d.logger.With("notification_id", n.ID, "subject_id", n.SubjectID, "kind", n.Kind)

	var claimed bool
	err := d.store.Transaction(ctx, func(tx store.Tx) error {
		now := d.now()
		var err error
		claimed, err = tx.ClaimNotification(ctx, n.ID, now, now.Add(-staleClaimAfter))
		return err
	})
	if err != nil {
		log.Error("failed to claim notification", "error", err)
		return false
	}
	if !claimed {
		return false
	}

	dctx, cancel := context.WithTimeout(ctx, d.timeout)
	deliveryErr := d.send(dctx, n)
	cancel()

	status := models.NotificationSent
	var lastErr *string
	if deliveryErr != nil {
		status = models.NotificationFailed
		msg := deliveryErr.Error()
		lastErr = &msg
		log.Warn("notification delivery failed", "error", deliveryErr)
	}

	err = d.store.Transaction(ctx, func(tx store.Tx) error {
		return tx.CompleteNotification(ctx, n.ID, status, lastErr, d.now())
	})
	if err != nil {
		log.Error("failed to record notification outcome", "status", status, "error", err)
		return false
	}
	return deliveryErr == nil
}

func (d *Dispatcher) send(ctx context.Context, n models.Notification) error {
	switch n.Kind {
	case models.NotificationInvoicePaidReceipt, models.NotificationInvoicePaidAdmin:
		if d.notifier == nil {
			return fmt.Errorf("no notifier configured")
		}
		return d.notifier.Notify(ctx, n)
	case models.NotificationInvoiceReceiptDoc:
		if d.documents == nil {
			return fmt.Errorf("no document renderer configured")
		}
		return d.documents.RequestDocument(ctx, n)
	default:
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
}
