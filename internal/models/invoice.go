package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is a buyer's bill for one auction.
// Consolidated invoices carry LineItems; legacy single-item invoices carry
// ItemID and the flat amount fields instead.
type Invoice struct {
	ID            string          `json:"id" db:"id"`
	InvoiceNumber string          `json:"invoice_number" db:"invoice_number"`
	UserID        string          `json:"user_id" db:"user_id"`
	AuctionID     string          `json:"auction_id" db:"auction_id"`
	ItemID        *string         `json:"item_id,omitempty" db:"item_id"`
	Currency      string          `json:"currency" db:"currency"`
	Subtotal      decimal.Decimal `json:"subtotal" db:"subtotal"`
	PremiumTotal  decimal.Decimal `json:"premium_total" db:"premium_total"`
	TaxTotal      decimal.Decimal `json:"tax_total" db:"tax_total"`
	TotalAmount   decimal.Decimal `json:"total_amount" db:"total_amount"`
	Status        InvoiceStatus   `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	PaymentRefs
	LineItems []LineItem `json:"line_items,omitempty"`
}

// PaymentRefs are the gateway identifiers used to correlate payment events
type PaymentRefs struct {
	PaymentSessionID  *string `json:"payment_session_id,omitempty" db:"payment_session_id"`
	PaymentIntentID   *string `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	ExternalInvoiceID *string `json:"external_invoice_id,omitempty" db:"external_invoice_id"`
	PaymentLinkURL    *string `json:"payment_link_url,omitempty" db:"payment_link_url"`
}

// LineItem is one won lot on a consolidated invoice
type LineItem struct {
	ID        string          `json:"id" db:"id"`
	InvoiceID string          `json:"invoice_id" db:"invoice_id"`
	ItemID    string          `json:"item_id" db:"item_id"`
	Hammer    decimal.Decimal `json:"hammer" db:"hammer"`
	Premium   decimal.Decimal `json:"premium" db:"premium"`
	Tax       decimal.Decimal `json:"tax" db:"tax"`
	LineTotal decimal.Decimal `json:"line_total" db:"line_total"`
}

// IsConsolidated reports whether the invoice groups several lots as line items
func (inv *Invoice) IsConsolidated() bool {
	return len(inv.LineItems) > 0
}

// SoldLots returns the (item, hammer) pairs the invoice settles,
// covering both consolidated and legacy single-item invoices.
func (inv *Invoice) SoldLots() map[string]decimal.Decimal {
	lots := make(map[string]decimal.Decimal, len(inv.LineItems)+1)
	for _, line := range inv.LineItems {
		lots[line.ItemID] = line.Hammer
	}
	if len(lots) == 0 && inv.ItemID != nil {
		lots[*inv.ItemID] = inv.Subtotal
	}
	return lots
}

// InvoiceRef identifies an invoice by any one of its keys
type InvoiceRef struct {
	InvoiceID     string `json:"invoice_id,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
}

// IsZero reports whether no key is set
func (r InvoiceRef) IsZero() bool {
	return r.InvoiceID == "" && r.InvoiceNumber == ""
}

// ReconcileOutcome describes what a reconcile call did
type ReconcileOutcome string

const (
	ReconcileApplied        ReconcileOutcome = "applied"
	ReconcileAlreadyApplied ReconcileOutcome = "already_applied"
	ReconcileIgnored        ReconcileOutcome = "ignored"
)

// ReconcileResult is returned by payment reconciliation
type ReconcileResult struct {
	Outcome ReconcileOutcome `json:"outcome"`
	Invoice *Invoice         `json:"invoice,omitempty"`
}
