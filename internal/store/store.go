package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write violates a uniqueness guard
	ErrConflict = errors.New("record conflicts with existing data")

	// ErrInvoiceExists is returned when a bidder already has a consolidated
	// invoice for the auction
	ErrInvoiceExists = fmt.Errorf("consolidated invoice already exists: %w", ErrConflict)
)

// Store runs units of work atomically. Every read and write goes through a Tx
// so callers never observe partially applied state.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside one unit of work
type Tx interface {
	AuctionRepository
	ItemRepository
	BidRepository
	InvoiceRepository
	SettlementRepository
	NotificationRepository
}

// AuctionRepository handles auctions
type AuctionRepository interface {
	CreateAuction(ctx context.Context, auction *models.Auction) error
	GetAuction(ctx context.Context, id string) (*models.Auction, error)
	// GetAuctionForUpdate locks the auction row for the rest of the transaction
	GetAuctionForUpdate(ctx context.Context, id string) (*models.Auction, error)
	// GetAuctionForShare blocks a concurrent GetAuctionForUpdate (auction close)
	// but not other readers
	GetAuctionForShare(ctx context.Context, id string) (*models.Auction, error)
	// TransitionAuction sets status to `to` only if the current status is one
	// of `from`. It reports whether a row changed.
	TransitionAuction(ctx context.Context, id string, to models.AuctionStatus, at time.Time, from ...models.AuctionStatus) (bool, error)
	ListAuctionsToOpen(ctx context.Context, now time.Time) ([]models.Auction, error)
	ListAuctionsToClose(ctx context.Context, now time.Time) ([]models.Auction, error)
}

// ItemRepository handles items and their cached bid projection
type ItemRepository interface {
	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, id string) (*models.Item, error)
	// GetItemForUpdate locks the item row; bid admission is serialised on it
	GetItemForUpdate(ctx context.Context, id string) (*models.Item, error)
	ListItemsByAuction(ctx context.Context, auctionID string) ([]models.Item, error)
	UpdateItemBidState(ctx context.Context, item *models.Item) error
	// MarkItemSold flags the item sold. An already recorded sold price is kept.
	MarkItemSold(ctx context.Context, itemID string, price decimal.Decimal, at time.Time) error
	// ListUnsettledSoldItems returns sold items of the seller that are not in
	// any non-cancelled settlement. An empty auctionID spans all auctions.
	ListUnsettledSoldItems(ctx context.Context, sellerID, auctionID string) ([]models.Item, error)
	ListSellersWithUnsettledItems(ctx context.Context, auctionID string) ([]string, error)
}

// BidRepository handles the append-only bid ledger
type BidRepository interface {
	InsertBid(ctx context.Context, bid *models.Bid) error
	ListBidsByItem(ctx context.Context, itemID string) ([]models.Bid, error)
	ListBidsByAuction(ctx context.Context, auctionID string) ([]models.Bid, error)
}

// InvoiceRepository handles invoices and their line items
type InvoiceRepository interface {
	// NextInvoiceSequence reserves the next value of the invoice number counter
	NextInvoiceSequence(ctx context.Context) (int64, error)
	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id string) (*models.Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*models.Invoice, error)
	// GetInvoiceByExternalRef matches a session, payment intent or external invoice id
	GetInvoiceByExternalRef(ctx context.Context, ref string) (*models.Invoice, error)
	ListInvoicesByAuction(ctx context.Context, auctionID string) ([]models.Invoice, error)
	// FindActiveInvoiceForItem returns the non-cancelled invoice covering the item
	FindActiveInvoiceForItem(ctx context.Context, itemID string) (*models.Invoice, error)
	// MarkInvoicePaid moves an unpaid invoice to paid. It reports whether a row changed.
	MarkInvoicePaid(ctx context.Context, id string, paidAt time.Time) (bool, error)
	TransitionInvoice(ctx context.Context, id string, to models.InvoiceStatus, at time.Time, from ...models.InvoiceStatus) (bool, error)
	SetPaymentRefs(ctx context.Context, id string, refs models.PaymentRefs, at time.Time) error
}

// SettlementRepository handles seller payout statements
type SettlementRepository interface {
	// CreateSettlement persists the statement and claims its items. Claiming an
	// item that is already in a non-cancelled settlement returns ErrConflict.
	CreateSettlement(ctx context.Context, settlement *models.Settlement) error
	GetSettlement(ctx context.Context, id string) (*models.Settlement, error)
	GetSettlementForUpdate(ctx context.Context, id string) (*models.Settlement, error)
	UpdateSettlementAmounts(ctx context.Context, settlement *models.Settlement) error
	// TransitionSettlement moves status when the current status is one of
	// `from`. Moving to cancelled releases the claimed items.
	TransitionSettlement(ctx context.Context, id string, to models.SettlementStatus, at time.Time, from ...models.SettlementStatus) (bool, error)
}

// NotificationRepository handles the side-effect outbox
type NotificationRepository interface {
	// EnqueueNotifications inserts rows, skipping any (subject, kind) already present
	EnqueueNotifications(ctx context.Context, notifications []models.Notification) error
	ListNotificationsBySubject(ctx context.Context, subjectID string) ([]models.Notification, error)
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	// ClaimNotification moves a pending or failed row (or a sending row last
	// touched before staleBefore) to sending and counts the attempt. Only one
	// caller can win a claim.
	ClaimNotification(ctx context.Context, id string, at, staleBefore time.Time) (bool, error)
	CompleteNotification(ctx context.Context, id string, status models.NotificationStatus, lastErr *string, at time.Time) error
	// ListRetryableNotifications returns failed rows, and pending or sending rows
	// untouched since staleBefore, that have fewer than maxAttempts attempts.
	ListRetryableNotifications(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]models.Notification, error)
}

var (
	_ Store = (*Database)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*pgTx)(nil)
	_ Tx    = (*memTx)(nil)
)
