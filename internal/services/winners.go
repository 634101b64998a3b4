package services

import (
	"context"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/pricing"
	"github.com/bidhall/bidhall-api/internal/store"
)

// ResolveWinners partitions the items of an auction by their highest admitted
// bid. Ties go to the earliest bid. Items without bids are unsold; items whose
// best bid is under the reserve are reported separately and also stay unsold.
func ResolveWinners(auction *models.Auction, items []models.Item, bids []models.Bid) *models.WinnerSet {
	best := make(map[string]models.Bid, len(items))
	for _, bid := range bids {
		current, seen := best[bid.ItemID]
		if !seen || outranks(bid, current) {
			best[bid.ItemID] = bid
		}
	}

	ws := &models.WinnerSet{
		AuctionID:     auction.ID,
		Currency:      auction.Currency,
		Winners:       make(map[string][]models.WonItem),
		Unsold:        []string{},
		ReserveNotMet: []string{},
	}
	for _, item := range items {
		bid, ok := best[item.ID]
		if !ok {
			ws.Unsold = append(ws.Unsold, item.ID)
			continue
		}
		if !item.MeetsReserve(bid.Amount) {
			ws.ReserveNotMet = append(ws.ReserveNotMet, item.ID)
			continue
		}

		fees := pricing.ComputeLineFees(bid.Amount, item.BuyersPremiumPercent, item.TaxPercent)
		ws.Winners[bid.BidderID] = append(ws.Winners[bid.BidderID], models.WonItem{
			ItemID:    item.ID,
			Title:     item.Title,
			SellerID:  item.SellerID,
			BidID:     bid.ID,
			Hammer:    fees.Hammer,
			Premium:   fees.Premium,
			Tax:       fees.Tax,
			LineTotal: fees.LineTotal,
		})
	}
	return ws
}

func outranks(a, b models.Bid) bool {
	if !a.Amount.Equal(b.Amount) {
		return a.Amount.GreaterThan(b.Amount)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// resolveFromLedger recomputes the winner set from the stored bid ledger
func resolveFromLedger(ctx context.Context, tx store.Tx, auction *models.Auction) (*models.WinnerSet, error) {
	items, err := tx.ListItemsByAuction(ctx, auction.ID)
	if err != nil {
		return nil, err
	}
	bids, err := tx.ListBidsByAuction(ctx, auction.ID)
	if err != nil {
		return nil, err
	}
	return ResolveWinners(auction, items, bids), nil
}
