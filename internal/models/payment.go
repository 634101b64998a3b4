package models

import "time"

// PaymentEvent is a gateway notification normalised to the fields the
// reconciler needs. Several gateway event shapes map onto the same invoice.
type PaymentEvent struct {
	Provider          string    `json:"provider"`
	EventID           string    `json:"event_id"`
	Type              string    `json:"type"`
	Succeeded         bool      `json:"succeeded"`
	InvoiceID         string    `json:"invoice_id,omitempty"`
	InvoiceNumber     string    `json:"invoice_number,omitempty"`
	SessionID         string    `json:"session_id,omitempty"`
	PaymentIntentID   string    `json:"payment_intent_id,omitempty"`
	ExternalInvoiceID string    `json:"external_invoice_id,omitempty"`
	ChargeID          string    `json:"charge_id,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

// Ref returns the invoice reference carried directly on the event, if any
func (e *PaymentEvent) Ref() InvoiceRef {
	return InvoiceRef{InvoiceID: e.InvoiceID, InvoiceNumber: e.InvoiceNumber}
}
