package services

import (
	"context"

	"github.com/bidhall/bidhall-api/internal/models"
)

// Publisher pushes real-time events to subscribers of a channel. Delivery is
// best effort.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload interface{}) error
}

// Notifier delivers a user or administrator notification
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// DocumentRenderer requests a document for an entity snapshot
type DocumentRenderer interface {
	RequestDocument(ctx context.Context, n models.Notification) error
}

// PaymentLookup re-queries the payment gateway for the invoice a payment belongs to
type PaymentLookup interface {
	LookupInvoiceRef(ctx context.Context, paymentIntentID string) (models.InvoiceRef, error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, string, interface{}) error { return nil }

// Channel names
func itemChannel(id string) string    { return "item:" + id }
func auctionChannel(id string) string { return "auction:" + id }
func userChannel(id string) string    { return "user:" + id }

// Event names
const (
	EventBidPlaced        = "bid.placed"
	EventAuctionClosed    = "auction.closed"
	EventAuctionCancelled = "auction.cancelled"
	EventInvoicePaid      = "invoice.paid"
)
