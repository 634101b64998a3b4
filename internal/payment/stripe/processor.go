// Package stripe adapts Stripe webhooks and the Stripe API to the payment
// reconciler.
package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Provider is the name recorded on normalised events
const Provider = "stripe"

// Metadata keys the checkout flow sets on Stripe objects
const (
	MetadataInvoiceID     = "invoice_id"
	MetadataInvoiceNumber = "invoice_number"
)

// ErrInvalidSignature is returned when the webhook signature does not verify
var ErrInvalidSignature = errors.New("stripe signature invalid")

// Processor verifies webhook deliveries and normalises the payment events the
// reconciler understands
type Processor struct {
	secret string
	now    func() time.Time
}

// NewProcessor creates a Processor for the endpoint signing secret
func NewProcessor(secret string) *Processor {
	return &Processor{secret: secret, now: time.Now}
}

// VerifyAndParse checks the Stripe-Signature header and maps the event. It
// returns a nil event for event types that carry no payment confirmation.
func (p *Processor) VerifyAndParse(payload []byte, signature string) (*models.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Data == nil {
		return nil, nil
	}

	out := &models.PaymentEvent{
		Provider:   Provider,
		EventID:    event.ID,
		Type:       string(event.Type),
		ReceivedAt: p.now(),
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Succeeded = session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			session.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired
		out.SessionID = session.ID
		out.PaymentIntentID = intentID(session.PaymentIntent)
		applyMetadata(out, session.Metadata)
		if out.InvoiceID == "" && out.InvoiceNumber == "" {
			out.InvoiceID = session.ClientReferenceID
		}

	case "charge.succeeded", "charge.updated":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		out.Succeeded = charge.Status == stripe.ChargeStatusSucceeded && charge.Paid
		out.ChargeID = charge.ID
		out.PaymentIntentID = intentID(charge.PaymentIntent)
		applyMetadata(out, charge.Metadata)

	case "invoice.paid":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		out.Succeeded = true
		out.ExternalInvoiceID = invoice.ID
		out.PaymentIntentID = intentID(invoice.PaymentIntent)
		applyMetadata(out, invoice.Metadata)

	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out.Succeeded = pi.Status == stripe.PaymentIntentStatusSucceeded
		out.PaymentIntentID = pi.ID
		applyMetadata(out, pi.Metadata)

	default:
		return nil, nil
	}
	return out, nil
}

func applyMetadata(out *models.PaymentEvent, metadata map[string]string) {
	out.InvoiceID = metadata[MetadataInvoiceID]
	out.InvoiceNumber = metadata[MetadataInvoiceNumber]
}

func intentID(pi *stripe.PaymentIntent) string {
	if pi == nil {
		return ""
	}
	return pi.ID
}
