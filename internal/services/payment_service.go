package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/store"
	"github.com/google/uuid"
)

// AdminRecipient is the recipient id of administrator-facing notifications
const AdminRecipient = "admin"

// PaymentService applies payment confirmations to invoices
type PaymentService struct {
	store         store.Store
	dispatcher    *Dispatcher
	lookup        PaymentLookup
	publisher     Publisher
	logger        *slog.Logger
	lookupTimeout time.Duration
	now           func() time.Time
}

// NewPaymentService creates a new PaymentService. lookup may be nil when no
// gateway credentials are configured.
func NewPaymentService(st store.Store, dispatcher *Dispatcher, lookup PaymentLookup, publisher Publisher, logger *slog.Logger, lookupTimeout time.Duration) *PaymentService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if lookupTimeout <= 0 {
		lookupTimeout = 5 * time.Second
	}
	return &PaymentService{
		store:         st,
		dispatcher:    dispatcher,
		lookup:        lookup,
		publisher:     publisher,
		logger:        logger,
		lookupTimeout: lookupTimeout,
		now:           time.Now,
	}
}

// invoicePaidEvent is pushed to the buyer after payment
type invoicePaidEvent struct {
	InvoiceID     string    `json:"invoice_id"`
	InvoiceNumber string    `json:"invoice_number"`
	PaidAt        time.Time `json:"paid_at"`
}

// Reconcile marks the referenced invoice paid. Only the first call for an
// invoice applies the transition and enqueues its side effects; later calls
// report AlreadyApplied.
func (s *PaymentService) Reconcile(ctx context.Context, ref models.InvoiceRef) (*models.ReconcileResult, error) {
	if ref.IsZero() {
		return nil, ErrMissingReference
	}

	result := &models.ReconcileResult{}
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		id := ref.InvoiceID
		if id == "" {
			byNumber, err := tx.GetInvoiceByNumber(ctx, ref.InvoiceNumber)
			if err != nil {
				return notFound(err, ErrInvoiceNotFound)
			}
			id = byNumber.ID
		}
		invoice, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return notFound(err, ErrInvoiceNotFound)
		}

		switch invoice.Status {
		case models.InvoiceStatusPaid:
			result.Outcome = models.ReconcileAlreadyApplied
			result.Invoice = invoice
			return nil
		case models.InvoiceStatusCancelled:
			return ErrInvoiceNotPayable
		}

		now := s.now()
		applied, err := tx.MarkInvoicePaid(ctx, id, now)
		if err != nil {
			return err
		}
		if !applied {
			result.Outcome = models.ReconcileAlreadyApplied
			result.Invoice, err = tx.GetInvoice(ctx, id)
			return err
		}

		for itemID, hammer := range invoice.SoldLots() {
			if err := tx.MarkItemSold(ctx, itemID, hammer, now); err != nil {
				return err
			}
		}

		invoice, err = tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		outbox, err := paidNotifications(invoice, now)
		if err != nil {
			return err
		}
		if err := tx.EnqueueNotifications(ctx, outbox); err != nil {
			return err
		}

		result.Outcome = models.ReconcileApplied
		result.Invoice = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	invoice := result.Invoice
	if result.Outcome == models.ReconcileAlreadyApplied {
		s.logger.Info("invoice already paid", "invoice_id", invoice.ID, "invoice_number", invoice.InvoiceNumber)
		return result, nil
	}

	s.logger.Info("invoice paid",
		"invoice_id", invoice.ID, "invoice_number", invoice.InvoiceNumber, "total", invoice.TotalAmount.StringFixed(2))

	event := invoicePaidEvent{InvoiceID: invoice.ID, InvoiceNumber: invoice.InvoiceNumber, PaidAt: *invoice.PaidAt}
	if err := s.publisher.Publish(ctx, userChannel(invoice.UserID), EventInvoicePaid, event); err != nil {
		s.logger.Warn("failed to publish invoice payment", "invoice_id", invoice.ID, "error", err)
	}

	if s.dispatcher != nil {
		// the transition is committed; delivery must not be cut short by the caller
		dctx := context.WithoutCancel(ctx)
		if _, err := s.dispatcher.DispatchSubject(dctx, invoice.ID); err != nil {
			s.logger.Error("failed to dispatch payment notifications", "invoice_id", invoice.ID, "error", err)
		}
	}
	return result, nil
}

// HandleEvent correlates a gateway event with an invoice and reconciles it.
// Events that cannot be correlated, or that point at an unpayable invoice, are
// logged and reported as ignored so the gateway stops redelivering them.
func (s *PaymentService) HandleEvent(ctx context.Context, ev *models.PaymentEvent) (*models.ReconcileResult, error) {
	log := s.logger.With("provider", ev.Provider, "event_id", ev.EventID, "event_type", ev.Type)
	ignored := &models.ReconcileResult{Outcome: models.ReconcileIgnored}

	if !ev.Succeeded {
		log.Info("ignoring non-success payment event")
		return ignored, nil
	}

	ref, err := s.correlate(ctx, ev)
	if err != nil {
		return nil, err
	}
	if ref.IsZero() {
		log.Warn("payment event matches no invoice",
			"session_id", ev.SessionID, "payment_intent_id", ev.PaymentIntentID, "external_invoice_id", ev.ExternalInvoiceID)
		return ignored, nil
	}

	result, err := s.Reconcile(ctx, ref)
	switch {
	case errors.Is(err, ErrInvoiceNotFound):
		log.Warn("payment event references unknown invoice", "invoice_id", ref.InvoiceID, "invoice_number", ref.InvoiceNumber)
		return ignored, nil
	case errors.Is(err, ErrInvoiceNotPayable):
		log.Error("payment received for cancelled invoice", "invoice_id", ref.InvoiceID, "invoice_number", ref.InvoiceNumber)
		return ignored, nil
	case err != nil:
		return nil, err
	}
	return result, nil
}

// correlate resolves the invoice of an event: metadata first, then stored
// gateway references, then a bounded re-query of the gateway.
func (s *PaymentService) correlate(ctx context.Context, ev *models.PaymentEvent) (models.InvoiceRef, error) {
	if ref := ev.Ref(); !ref.IsZero() {
		return ref, nil
	}

	var ref models.InvoiceRef
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		for _, external := range []string{ev.SessionID, ev.PaymentIntentID, ev.ExternalInvoiceID} {
			if external == "" {
				continue
			}
			invoice, err := tx.GetInvoiceByExternalRef(ctx, external)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			ref.InvoiceID = invoice.ID
			return nil
		}
		return nil
	})
	if err != nil || !ref.IsZero() {
		return ref, err
	}

	if s.lookup == nil || ev.PaymentIntentID == "" {
		return ref, nil
	}
	lctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()
	ref, err = s.lookup.LookupInvoiceRef(lctx, ev.PaymentIntentID)
	if err != nil {
		// the gateway will redeliver the event
		s.logger.Warn("gateway lookup failed", "payment_intent_id", ev.PaymentIntentID, "error", err)
		return models.InvoiceRef{}, err
	}
	return ref, nil
}

// paidNotifications builds the outbox rows of a paid transition
func paidNotifications(invoice *models.Invoice, at time.Time) ([]models.Notification, error) {
	payload, err := json.Marshal(invoice)
	if err != nil {
		return nil, err
	}
	row := func(kind models.NotificationKind, recipient string) models.Notification {
		return models.Notification{
			ID:          uuid.New().String(),
			SubjectID:   invoice.ID,
			Kind:        kind,
			RecipientID: recipient,
			Payload:     payload,
			Status:      models.NotificationPending,
			CreatedAt:   at,
			UpdatedAt:   at,
		}
	}
	return []models.Notification{
		row(models.NotificationInvoicePaidReceipt, invoice.UserID),
		row(models.NotificationInvoicePaidAdmin, AdminRecipient),
		row(models.NotificationInvoiceReceiptDoc, invoice.UserID),
	}, nil
}
