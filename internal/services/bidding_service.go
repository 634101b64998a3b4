package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/pricing"
	"github.com/bidhall/bidhall-api/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BidService admits bids and answers minimum-bid queries
type BidService struct {
	store     store.Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewBidService creates a new BidService
func NewBidService(st store.Store, publisher Publisher, logger *slog.Logger) *BidService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &BidService{
		store:     st,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// PlaceBid validates a bid against the item's locked state and appends it to
// the ledger. Refusals are returned as *BidRejection.
func (s *BidService) PlaceBid(ctx context.Context, itemID, bidderID string, amount decimal.Decimal) (*models.Bid, error) {
	if !pricing.ValidAmount(amount) {
		return nil, reject(ReasonInvalidAmount, nil)
	}

	var (
		bid    *models.Bid
		update models.BidUpdate
	)
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		// Lock order is auction then item, the same order auction close uses
		peek, err := tx.GetItem(ctx, itemID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return reject(ReasonItemNotFound, nil)
			}
			return err
		}
		auction, err := tx.GetAuctionForShare(ctx, peek.AuctionID)
		if err != nil {
			return notFound(err, ErrAuctionNotFound)
		}
		item, err := tx.GetItemForUpdate(ctx, itemID)
		if err != nil {
			return notFound(err, ErrItemNotFound)
		}

		now := s.now()
		minimum := pricing.MinimumAcceptable(item.BasePrice, item.CurrentBid)
		switch {
		case auction.Status == models.AuctionStatusUpcoming:
			return reject(ReasonAuctionNotStarted, &minimum)
		case auction.Status == models.AuctionStatusLive && now.Before(auction.StartTime):
			return reject(ReasonAuctionNotStarted, &minimum)
		case !auction.IsOpenAt(now):
			return reject(ReasonAuctionClosed, &minimum)
		case amount.LessThan(minimum):
			return reject(ReasonBidTooLow, &minimum)
		}

		bid = &models.Bid{
			ID:        uuid.New().String(),
			ItemID:    item.ID,
			AuctionID: item.AuctionID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: now,
		}
		if err := tx.InsertBid(ctx, bid); err != nil {
			return err
		}

		bidder := bidderID
		item.CurrentBid = decimal.NewNullDecimal(amount)
		item.CurrentBidderID = &bidder
		item.BidCount++
		item.ReserveMet = item.MeetsReserve(amount)
		item.UpdatedAt = now
		if err := tx.UpdateItemBidState(ctx, item); err != nil {
			return err
		}

		update = models.BidUpdate{
			ItemID:       item.ID,
			CurrentBid:   amount,
			BidCount:     item.BidCount,
			IsReserveMet: item.ReserveMet,
			MinimumBid:   pricing.MinNextBid(amount),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bid admitted",
		"item_id", bid.ItemID, "bid_id", bid.ID, "bidder_id", bidderID, "amount", amount.StringFixed(2))

	if err := s.publisher.Publish(ctx, itemChannel(bid.ItemID), EventBidPlaced, update); err != nil {
		s.logger.Warn("failed to publish bid update", "item_id", bid.ItemID, "error", err)
	}

	return bid, nil
}

// MinimumBid returns the lowest bid the item would accept right now
func (s *BidService) MinimumBid(ctx context.Context, itemID string) (*models.MinimumBidQuote, error) {
	var quote *models.MinimumBidQuote
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return notFound(err, ErrItemNotFound)
		}
		quote = &models.MinimumBidQuote{
			ItemID:       item.ID,
			CurrentBid:   item.CurrentBid,
			MinimumBid:   pricing.MinimumAcceptable(item.BasePrice, item.CurrentBid),
			BidCount:     item.BidCount,
			IsReserveMet: item.ReserveMet,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}
