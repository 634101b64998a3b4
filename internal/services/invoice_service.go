package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bidhall/bidhall-api/internal/config"
	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/pricing"
	"github.com/bidhall/bidhall-api/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceService turns winner sets into buyer invoices
type InvoiceService struct {
	store  store.Store
	cfg    config.BillingConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(st store.Store, cfg config.BillingConfig, logger *slog.Logger) *InvoiceService {
	if cfg.InvoicePrefix == "" {
		cfg.InvoicePrefix = "INV"
	}
	return &InvoiceService{
		store:  st,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Get retrieves an invoice by ID
func (s *InvoiceService) Get(ctx context.Context, id string) (*models.Invoice, error) {
	var invoice *models.Invoice
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		var err error
		invoice, err = tx.GetInvoice(ctx, id)
		return notFound(err, ErrInvoiceNotFound)
	})
	return invoice, err
}

// GenerateInvoices creates one consolidated invoice per winning bidder of a
// closed auction. The winner set only names the auction: winners are always
// recomputed from the bid ledger under the auction lock, so a stale or forged
// set cannot bill anyone. Existing invoices are returned instead.
func (s *InvoiceService) GenerateInvoices(ctx context.Context, ws *models.WinnerSet) ([]models.Invoice, error) {
	if ws == nil || ws.AuctionID == "" {
		return nil, fmt.Errorf("winner set has no auction: %w", ErrValidation)
	}
	return s.GenerateForAuction(ctx, ws.AuctionID)
}

// GenerateForAuction recomputes the winners of a closed auction from the bid
// ledger and invoices them, unless invoices already exist.
func (s *InvoiceService) GenerateForAuction(ctx context.Context, auctionID string) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		auction, err := tx.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return notFound(err, ErrAuctionNotFound)
		}
		if auction.Status != models.AuctionStatusClosed {
			return ErrAuctionNotClosed
		}

		invoices, err = tx.ListInvoicesByAuction(ctx, auctionID)
		if err != nil || len(invoices) > 0 {
			return err
		}

		ws, err := resolveFromLedger(ctx, tx, auction)
		if err != nil {
			return err
		}
		invoices, err = s.createForWinners(ctx, tx, ws)
		return err
	})
	if errors.Is(err, store.ErrInvoiceExists) {
		// another writer invoiced the auction first
		s.logger.Info("auction already invoiced", "auction_id", auctionID)
		return s.existing(ctx, auctionID)
	}
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *InvoiceService) existing(ctx context.Context, auctionID string) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		var err error
		invoices, err = tx.ListInvoicesByAuction(ctx, auctionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// createForWinners writes one invoice per bidder of ws inside tx
func (s *InvoiceService) createForWinners(ctx context.Context, tx store.Tx, ws *models.WinnerSet) ([]models.Invoice, error) {
	invoices := make([]models.Invoice, 0, len(ws.Winners))
	for _, bidder := range ws.Bidders() {
		number, err := s.nextNumber(ctx, tx)
		if err != nil {
			return nil, err
		}
		invoice := s.consolidate(ws, bidder, number)
		if err := s.persist(ctx, tx, invoice); err != nil {
			return nil, err
		}
		invoices = append(invoices, *invoice)
	}
	return invoices, nil
}

func (s *InvoiceService) consolidate(ws *models.WinnerSet, bidder, number string) *models.Invoice {
	now := s.now()
	invoice := &models.Invoice{
		ID:            uuid.New().String(),
		InvoiceNumber: number,
		UserID:        bidder,
		AuctionID:     ws.AuctionID,
		Currency:      s.currency(ws.Currency),
		Subtotal:      decimal.Zero,
		PremiumTotal:  decimal.Zero,
		TaxTotal:      decimal.Zero,
		TotalAmount:   decimal.Zero,
		Status:        models.InvoiceStatusUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, won := range ws.Winners[bidder] {
		invoice.LineItems = append(invoice.LineItems, models.LineItem{
			ID:        uuid.New().String(),
			InvoiceID: invoice.ID,
			ItemID:    won.ItemID,
			Hammer:    won.Hammer,
			Premium:   won.Premium,
			Tax:       won.Tax,
			LineTotal: won.LineTotal,
		})
		invoice.Subtotal = invoice.Subtotal.Add(won.Hammer)
		invoice.PremiumTotal = invoice.PremiumTotal.Add(won.Premium)
		invoice.TaxTotal = invoice.TaxTotal.Add(won.Tax)
		invoice.TotalAmount = invoice.TotalAmount.Add(won.LineTotal)
	}
	return invoice
}

// GenerateItemInvoice bills the winner of a single item with a legacy
// single-item invoice. An active invoice already covering the item is returned.
func (s *InvoiceService) GenerateItemInvoice(ctx context.Context, itemID string) (*models.Invoice, error) {
	var invoice *models.Invoice
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return notFound(err, ErrItemNotFound)
		}
		auction, err := tx.GetAuctionForUpdate(ctx, item.AuctionID)
		if err != nil {
			return notFound(err, ErrAuctionNotFound)
		}
		if auction.Status != models.AuctionStatusClosed {
			return ErrAuctionNotClosed
		}

		invoice, err = tx.FindActiveInvoiceForItem(ctx, itemID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		bids, err := tx.ListBidsByItem(ctx, itemID)
		if err != nil {
			return err
		}
		ws := ResolveWinners(auction, []models.Item{*item}, bids)
		if len(ws.Winners) == 0 {
			return ErrItemNotSold
		}
		bidder := ws.Bidders()[0]
		won := ws.Winners[bidder][0]

		number, err := s.nextNumber(ctx, tx)
		if err != nil {
			return err
		}
		now := s.now()
		soleItem := item.ID
		invoice = &models.Invoice{
			ID:            uuid.New().String(),
			InvoiceNumber: number,
			UserID:        bidder,
			AuctionID:     auction.ID,
			ItemID:        &soleItem,
			Currency:      s.currency(auction.Currency),
			Subtotal:      won.Hammer,
			PremiumTotal:  won.Premium,
			TaxTotal:      won.Tax,
			TotalAmount:   won.LineTotal,
			Status:        models.InvoiceStatusUnpaid,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return s.persist(ctx, tx, invoice)
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// CancelInvoice administratively cancels an unpaid invoice
func (s *InvoiceService) CancelInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	var invoice *models.Invoice
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		ok, err := tx.TransitionInvoice(ctx, id, models.InvoiceStatusCancelled, s.now(), models.InvoiceStatusUnpaid)
		if err != nil {
			return notFound(err, ErrInvoiceNotFound)
		}
		if !ok {
			return ErrInvoiceNotUnpaid
		}
		invoice, err = tx.GetInvoice(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("invoice cancelled", "invoice_id", id, "invoice_number", invoice.InvoiceNumber)
	return invoice, nil
}

// AttachPaymentRefs records gateway identifiers on an invoice. Fields left nil
// keep their stored value.
func (s *InvoiceService) AttachPaymentRefs(ctx context.Context, id string, refs models.PaymentRefs) (*models.Invoice, error) {
	var invoice *models.Invoice
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		current, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return notFound(err, ErrInvoiceNotFound)
		}
		merged := current.PaymentRefs
		if refs.PaymentSessionID != nil {
			merged.PaymentSessionID = refs.PaymentSessionID
		}
		if refs.PaymentIntentID != nil {
			merged.PaymentIntentID = refs.PaymentIntentID
		}
		if refs.ExternalInvoiceID != nil {
			merged.ExternalInvoiceID = refs.ExternalInvoiceID
		}
		if refs.PaymentLinkURL != nil {
			merged.PaymentLinkURL = refs.PaymentLinkURL
		}
		if err := tx.SetPaymentRefs(ctx, id, merged, s.now()); err != nil {
			return err
		}
		invoice, err = tx.GetInvoice(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *InvoiceService) nextNumber(ctx context.Context, tx store.Tx) (string, error) {
	seq, err := tx.NextInvoiceSequence(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%06d", s.cfg.InvoicePrefix, s.now().Year(), seq), nil
}

func (s *InvoiceService) persist(ctx context.Context, tx store.Tx, invoice *models.Invoice) error {
	if err := verifyTotals(invoice); err != nil {
		s.logger.Error("refusing to store invoice", "invoice_number", invoice.InvoiceNumber, "error", err)
		return err
	}
	if err := tx.CreateInvoice(ctx, invoice); err != nil {
		if errors.Is(err, store.ErrInvoiceExists) {
			return fmt.Errorf("auction %s bidder %s: %w: %w", invoice.AuctionID, invoice.UserID, ErrConflict, err)
		}
		if errors.Is(err, store.ErrConflict) {
			s.logger.Error("invoice number collision", "invoice_number", invoice.InvoiceNumber, "error", err)
			return fmt.Errorf("%s: %w", invoice.InvoiceNumber, ErrDuplicateInvoiceNumber)
		}
		return err
	}
	return nil
}

func (s *InvoiceService) currency(c string) string {
	if c != "" {
		return c
	}
	return s.cfg.Currency
}

// verifyTotals checks the invoice total against its lines (or the legacy
// single-item fee formula) to the minor unit
func verifyTotals(invoice *models.Invoice) error {
	expected := decimal.Zero
	if invoice.IsConsolidated() {
		for _, line := range invoice.LineItems {
			parts := line.Hammer.Add(line.Premium).Add(line.Tax)
			if line.LineTotal.Sub(parts).Abs().GreaterThan(centTolerance) {
				return fmt.Errorf("line %s: %w", line.ItemID, ErrTotalsMismatch)
			}
			expected = expected.Add(line.LineTotal)
		}
	} else {
		expected = pricing.Round2(invoice.Subtotal.Add(invoice.PremiumTotal).Add(invoice.TaxTotal))
		if invoice.TotalAmount.Sub(expected).Abs().GreaterThan(centTolerance) {
			return ErrTotalsMismatch
		}
		return nil
	}
	if !invoice.TotalAmount.Equal(expected) {
		return ErrTotalsMismatch
	}
	return nil
}

// Premium and tax are rounded separately from the line total, so their sum may
// differ from it by one minor unit.
var centTolerance = decimal.New(1, -2)
