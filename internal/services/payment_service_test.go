package services

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func invoiceOf(t *testing.T, result *models.CloseResult, userID string) models.Invoice {
	t.Helper()
	for _, inv := range result.Invoices {
		if inv.UserID == userID {
			return inv
		}
	}
	t.Fatalf("no invoice for %s", userID)
	return models.Invoice{}
}

func TestReconcile_AppliesOnce(t *testing.T) {
	f := newFixture(t)
	invoice := invoiceOf(t, f.closedAuction(t), "buyer-1")

	first, err := f.payments.Reconcile(f.ctx, models.InvoiceRef{InvoiceID: invoice.ID})
	assert.NoError(t, err)
	check.Equal(t, models.ReconcileApplied, first.Outcome)
	check.Equal(t, models.InvoiceStatusPaid, first.Invoice.Status)
	assert.True(t, first.Invoice.PaidAt != nil)
	paidAt := *first.Invoice.PaidAt

	f.clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		again, err := f.payments.Reconcile(f.ctx, models.InvoiceRef{InvoiceID: invoice.ID})
		assert.NoError(t, err)
		check.Equal(t, models.ReconcileAlreadyApplied, again.Outcome)
		check.True(t, again.Invoice.PaidAt.Equal(paidAt))
	}

	byNumber, err := f.payments.Reconcile(f.ctx, models.InvoiceRef{InvoiceNumber: invoice.InvoiceNumber})
	assert.NoError(t, err)
	check.Equal(t, models.ReconcileAlreadyApplied, byNumber.Outcome)

	check.Equal(t, 2, f.notifier.count())
	check.Equal(t, 1, f.documents.count())
	check.Equal(t, 1, f.pub.count(EventInvoicePaid))

	rows := f.notifications(t, invoice.ID)
	assert.Equal(t, 3, len(rows))
	for _, row := range rows {
		check.Equal(t, models.NotificationSent, row.Status)
		check.Equal(t, 1, row.Attempts)

		var snapshot models.Invoice
		assert.NoError(t, json.Unmarshal(row.Payload, &snapshot))
		check.Equal(t, invoice.InvoiceNumber, snapshot.InvoiceNumber)
		check.Equal(t, models.InvoiceStatusPaid, snapshot.Status)
	}
}

func TestReconcile_ByNumberAndRefusals(t *testing.T) {
	f := newFixture(t)
	result := f.closedAuction(t)
	first := invoiceOf(t, result, "buyer-1")
	second := invoiceOf(t, result, "buyer-2")

	res, err := f.payments.Reconcile(f.ctx, models.InvoiceRef{InvoiceNumber: first.InvoiceNumber})
	assert.NoError(t, err)
	check.Equal(t, models.ReconcileApplied, res.Outcome)
	check.Equal(t, first.ID, res.Invoice.ID)

	_, err = f.payments.Reconcile(f.ctx, models.InvoiceRef{})
	check.True(t, errors.Is(err, ErrMissingReference))
	check.True(t, errors.Is(err, ErrValidation))

	_, err = f.payments.Reconcile(f.ctx, models.InvoiceRef{InvoiceNumber: "INV-2026-999999"})
	check.True(t, errors.Is(err, ErrInvoiceNotFound))

	_, err = f.invoices.CancelInvoice(f.ctx, second.ID)
	assert.NoError(t, err)
	_, err = f.payments.Reconcile(f.ctx, models.InvoiceRef{InvoiceID: second.ID})
	check.True(t, errors.Is(err, ErrInvoiceNotPayable))
	check.Equal(t, 0, len(f.notifications(t, second.ID)))

	// a paid invoice cannot be cancelled afterwards
	_, err = f.invoices.CancelInvoice(f.ctx, first.ID)
	check.True(t, errors.Is(err, ErrInvoiceNotUnpaid))
}

func TestReconcile_Concurrent(t *testing.T) {
	f := newFixture(t)
	invoice := invoiceOf(t, f.closedAuction(t), "buyer-1")

	var wg sync.WaitGroup
	outcomes := make([]models.ReconcileOutcome, 8)
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.payments.Reconcile(f.ctx, models.InvoiceRef{InvoiceID: invoice.ID})
			if err == nil {
				outcomes[i] = res.Outcome
			}
		}()
	}
	wg.Wait()

	applied := 0
	for _, outcome := range outcomes {
		if outcome == models.ReconcileApplied {
			applied++
		} else {
			check.Equal(t, models.ReconcileAlreadyApplied, outcome)
		}
	}
	check.Equal(t, 1, applied)
	check.Equal(t, 2, f.notifier.count())
	check.Equal(t, 1, f.documents.count())
}

func TestReconcile_KeepsSoldPrice(t *testing.T) {
	f := newFixture(t)
	result := f.closedAuction(t)
	buyer2 := invoiceOf(t, result, "buyer-2")
	_, err := f.invoices.CancelInvoice(f.ctx, buyer2.ID)
	assert.NoError(t, err)

	legacy, err := f.invoices.GenerateItemInvoice(f.ctx, "i3")
	assert.NoError(t, err)

	res, err := f.payments.Reconcile(f.ctx, models.InvoiceRef{InvoiceID: legacy.ID})
	assert.NoError(t, err)
	check.Equal(t, models.ReconcileApplied, res.Outcome)

	item := f.getItem(t, "i3")
	check.True(t, item.Sold)
	check.Equal(t, "50.00", item.SoldPrice.Decimal.StringFixed(2))
}

func TestNotificationRetry(t *testing.T) {
	f := newFixture(t)
	invoice := invoiceOf(t, f.closedAuction(t), "buyer-1")
	f.notifier.setFail(true)

	res, err := f.payments.Reconcile(f.ctx, models.InvoiceRef{InvoiceID: invoice.ID})
	assert.NoError(t, err)
	check.Equal(t, models.ReconcileApplied, res.Outcome)

	failed := 0
	for _, row := range f.notifications(t, invoice.ID) {
		if row.Status == models.NotificationFailed {
			failed++
			assert.True(t, row.LastError != nil)
		}
	}
	check.Equal(t, 2, failed)
	check.Equal(t, 1, f.documents.count())

	// a replayed confirmation does not enqueue or deliver anything new
	_, err = f.payments.Reconcile(f.ctx, models.InvoiceRef{InvoiceID: invoice.ID})
	assert.NoError(t, err)
	check.Equal(t, 3, len(f.notifications(t, invoice.ID)))

	f.notifier.setFail(false)
	sent, err := f.dispatcher.RetryNotifications(f.ctx, 0)
	assert.NoError(t, err)
	check.Equal(t, 2, sent)
	check.Equal(t, 2, f.notifier.count())

	sent, err = f.dispatcher.RetryNotifications(f.ctx, 0)
	assert.NoError(t, err)
	check.Equal(t, 0, sent)
}

func TestNotificationRetry_GivesUp(t *testing.T) {
	f := newFixture(t)
	invoice := invoiceOf(t, f.closedAuction(t), "buyer-1")
	f.notifier.setFail(true)

	_, err := f.payments.Reconcile(f.ctx, models.InvoiceRef{InvoiceID: invoice.ID})
	assert.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.dispatcher.RetryNotifications(f.ctx, 0)
		assert.NoError(t, err)
	}
	for _, row := range f.notifications(t, invoice.ID) {
		if row.Kind == models.NotificationInvoiceReceiptDoc {
			continue
		}
		check.Equal(t, models.NotificationFailed, row.Status)
		check.Equal(t, 3, row.Attempts)
	}
}

func TestHandleEvent_Correlation(t *testing.T) {
	f := newFixture(t)
	result := f.closedAuction(t)
	first := invoiceOf(t, result, "buyer-1")
	second := invoiceOf(t, result, "buyer-2")

	intent := "pi_stored"
	_, err := f.invoices.AttachPaymentRefs(f.ctx, first.ID, models.PaymentRefs{PaymentIntentID: &intent})
	assert.NoError(t, err)

	res, err := f.payments.HandleEvent(f.ctx, &models.PaymentEvent{
		Provider: "stripe", EventID: "evt_1", Type: "payment_intent.succeeded", Succeeded: true,
		PaymentIntentID: intent,
	})
	assert.NoError(t, err)
	check.Equal(t, models.ReconcileApplied, res.Outcome)
	check.Equal(t, first.ID, res.Invoice.ID)
	check.Equal(t, 0, f.lookup.calls)

	f.lookup.refs["pi_remote"] = models.InvoiceRef{InvoiceNumber: second.InvoiceNumber}
	res, err = f.payments.HandleEvent(f.ctx, &models.PaymentEvent{
		Provider: "stripe", EventID: "evt_2", Type: "charge.succeeded", Succeeded: true,
		PaymentIntentID: "pi_remote",
	})
	assert.NoError(t, err)
	check.Equal(t, models.ReconcileApplied, res.Outcome)
	check.Equal(t, second.ID, res.Invoice.ID)
	check.Equal(t, 1, f.lookup.calls)

	res, err = f.payments.HandleEvent(f.ctx, &models.PaymentEvent{
		Provider: "stripe", EventID: "evt_3", Type: "checkout.session.completed", Succeeded: true,
		InvoiceID: second.ID,
	})
	assert.NoError(t, err)
	check.Equal(t, models.ReconcileAlreadyApplied, res.Outcome)
}

func TestHandleEvent_Ignored(t *testing.T) {
	f := newFixture(t)
	result := f.closedAuction(t)
	second := invoiceOf(t, result, "buyer-2")
	_, err := f.invoices.CancelInvoice(f.ctx, second.ID)
	assert.NoError(t, err)

	events := []*models.PaymentEvent{
		{EventID: "failed", Succeeded: false, InvoiceID: second.ID},
		{EventID: "orphan", Succeeded: true, PaymentIntentID: "pi_unknown"},
		{EventID: "bare", Succeeded: true},
		{EventID: "unknown", Succeeded: true, InvoiceNumber: "INV-2026-999999"},
		{EventID: "cancelled", Succeeded: true, InvoiceID: second.ID},
	}
	for _, ev := range events {
		res, err := f.payments.HandleEvent(f.ctx, ev)
		assert.NoError(t, err)
		check.Equal(t, models.ReconcileIgnored, res.Outcome)
	}
	check.Equal(t, 0, f.pub.count(EventInvoicePaid))
}

func TestHandleEvent_LookupFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.closedAuction(t)
	f.lookup.err = errors.New("gateway timeout")

	_, err := f.payments.HandleEvent(f.ctx, &models.PaymentEvent{EventID: "evt", Succeeded: true, PaymentIntentID: "pi_x"})
	check.Error(t, err)
	check.Equal(t, 1, f.lookup.calls)
}
