package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/store"
	"golang.org/x/sync/errgroup"
)

// AuctionService handles the auction lifecycle and winner resolution
type AuctionService struct {
	store     store.Store
	invoices  *InvoiceService
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuctionService creates a new AuctionService
func NewAuctionService(st store.Store, invoices *InvoiceService, publisher Publisher, logger *slog.Logger) *AuctionService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &AuctionService{
		store:     st,
		invoices:  invoices,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// auctionClosedEvent is pushed to auction subscribers after close
type auctionClosedEvent struct {
	AuctionID     string   `json:"auction_id"`
	Winners       int      `json:"winners"`
	Invoices      int      `json:"invoices"`
	Unsold        []string `json:"unsold"`
	ReserveNotMet []string `json:"reserve_not_met"`
}

// CloseAuction resolves winners, marks their items sold and materialises the
// invoices in one transaction. Calling it again returns the stored result.
func (s *AuctionService) CloseAuction(ctx context.Context, auctionID string) (*models.CloseResult, error) {
	var result *models.CloseResult
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		auction, err := tx.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return notFound(err, ErrAuctionNotFound)
		}

		if auction.Status == models.AuctionStatusClosed {
			existing, err := tx.ListInvoicesByAuction(ctx, auctionID)
			if err != nil {
				return err
			}
			ws, err := resolveFromLedger(ctx, tx, auction)
			if err != nil {
				return err
			}
			result = &models.CloseResult{Auction: auction, WinnerSet: ws, Invoices: existing, AlreadyClosed: true}
			return nil
		}

		now := s.now()
		switch {
		case auction.Status == models.AuctionStatusCancelled:
			return ErrAuctionCancelled
		case auction.Status == models.AuctionStatusUpcoming && !auction.HasEndedAt(now):
			return ErrAuctionNotEnded
		}

		ok, err := tx.TransitionAuction(ctx, auctionID, models.AuctionStatusClosed, now, models.AuctionSourcesOf(models.AuctionStatusClosed)...)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTransition
		}

		ws, err := resolveFromLedger(ctx, tx, auction)
		if err != nil {
			return err
		}
		for _, bidder := range ws.Bidders() {
			for _, won := range ws.Winners[bidder] {
				if err := tx.MarkItemSold(ctx, won.ItemID, won.Hammer, now); err != nil {
					return err
				}
			}
		}

		invoices, err := s.invoices.createForWinners(ctx, tx, ws)
		if err != nil {
			return err
		}

		auction, err = tx.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		result = &models.CloseResult{Auction: auction, WinnerSet: ws, Invoices: invoices}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyClosed {
		s.logger.Info("auction already closed", "auction_id", auctionID, "invoices", len(result.Invoices))
		return result, nil
	}

	s.logger.Info("auction closed",
		"auction_id", auctionID,
		"winners", len(result.WinnerSet.Winners),
		"invoices", len(result.Invoices),
		"unsold", len(result.WinnerSet.Unsold),
		"reserve_not_met", len(result.WinnerSet.ReserveNotMet))

	event := auctionClosedEvent{
		AuctionID:     auctionID,
		Winners:       len(result.WinnerSet.Winners),
		Invoices:      len(result.Invoices),
		Unsold:        result.WinnerSet.Unsold,
		ReserveNotMet: result.WinnerSet.ReserveNotMet,
	}
	if err := s.publisher.Publish(ctx, auctionChannel(auctionID), EventAuctionClosed, event); err != nil {
		s.logger.Warn("failed to publish auction close", "auction_id", auctionID, "error", err)
	}
	return result, nil
}

// CancelAuction administratively cancels an upcoming or live auction. Its bids
// stay in the ledger but nothing is sold or invoiced. Cancelling a cancelled
// auction returns it unchanged; a closed auction cannot be cancelled.
func (s *AuctionService) CancelAuction(ctx context.Context, auctionID string) (*models.Auction, error) {
	var auction *models.Auction
	cancelled := false
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		current, err := tx.GetAuctionForUpdate(ctx, auctionID)
		if err != nil {
			return notFound(err, ErrAuctionNotFound)
		}
		if current.Status == models.AuctionStatusCancelled {
			auction = current
			return nil
		}
		if !current.Status.CanTransitionTo(models.AuctionStatusCancelled) {
			return fmt.Errorf("%s to %s: %w", current.Status, models.AuctionStatusCancelled, ErrInvalidTransition)
		}

		ok, err := tx.TransitionAuction(ctx, auctionID, models.AuctionStatusCancelled, s.now(), models.AuctionSourcesOf(models.AuctionStatusCancelled)...)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTransition
		}
		cancelled = true
		auction, err = tx.GetAuction(ctx, auctionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return auction, nil
	}

	s.logger.Info("auction cancelled", "auction_id", auctionID)
	event := map[string]string{"auction_id": auctionID, "status": string(auction.Status)}
	if err := s.publisher.Publish(ctx, auctionChannel(auctionID), EventAuctionCancelled, event); err != nil {
		s.logger.Warn("failed to publish auction cancel", "auction_id", auctionID, "error", err)
	}
	return auction, nil
}

// Winners recomputes the winner set of a closed auction from the bid ledger
func (s *AuctionService) Winners(ctx context.Context, auctionID string) (*models.WinnerSet, error) {
	var ws *models.WinnerSet
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		auction, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return notFound(err, ErrAuctionNotFound)
		}
		if auction.Status != models.AuctionStatusClosed {
			return ErrAuctionNotClosed
		}
		ws, err = resolveFromLedger(ctx, tx, auction)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// OpenStartedAuctions moves upcoming auctions whose start time has passed to live
func (s *AuctionService) OpenStartedAuctions(ctx context.Context) ([]string, error) {
	opened := []string{}
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		now := s.now()
		auctions, err := tx.ListAuctionsToOpen(ctx, now)
		if err != nil {
			return err
		}
		for _, auction := range auctions {
			ok, err := tx.TransitionAuction(ctx, auction.ID, models.AuctionStatusLive, now, models.AuctionStatusUpcoming)
			if err != nil {
				return err
			}
			if ok {
				opened = append(opened, auction.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, id := range opened {
		s.logger.Info("auction opened", "auction_id", id)
	}
	return opened, nil
}

// CloseEndedAuctions closes every auction whose end time has passed using at
// most workers concurrent closes. A failure on one auction does not stop the
// others; the number closed is returned.
func (s *AuctionService) CloseEndedAuctions(ctx context.Context, workers int) (int, error) {
	var auctions []models.Auction
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		var err error
		auctions, err = tx.ListAuctionsToClose(ctx, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(auctions) == 0 {
		return 0, nil
	}
	if workers <= 0 {
		workers = 1
	}

	results := make([]bool, len(auctions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, auction := range auctions {
		g.Go(func() error {
			res, err := s.CloseAuction(gctx, auction.ID)
			if err != nil {
				s.logger.Error("failed to close ended auction", "auction_id", auction.ID, "error", err)
				return nil
			}
			results[i] = !res.AlreadyClosed
			return nil
		})
	}
	_ = g.Wait()

	closed := 0
	for _, ok := range results {
		if ok {
			closed++
		}
	}
	return closed, nil
}
