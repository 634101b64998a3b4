package store

import (
	"context"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/shopspring/decimal"
)

const auctionColumns = `id, title, currency, start_time, end_time, status, closed_at, created_at, updated_at`

const itemColumns = `id, auction_id, seller_id, title, base_price, reserve_price,
	buyers_premium_percent, tax_percent, current_bid, current_bidder_id, bid_count,
	reserve_met, sold, sold_price, created_at, updated_at`

const bidColumns = `id, item_id, auction_id, bidder_id, amount, seq, created_at`

// CreateAuction inserts a new auction
func (t *pgTx) CreateAuction(ctx context.Context, auction *models.Auction) error {
	query := `INSERT INTO auctions (id, title, currency, start_time, end_time, status, closed_at, created_at, updated_at)
			  VALUES (:id, :title, :currency, :start_time, :end_time, :status, :closed_at, :created_at, :updated_at)`
	_, err := t.tx.NamedExecContext(ctx, query, auction)
	return translate(err)
}

// GetAuction retrieves an auction by ID
func (t *pgTx) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	auction := &models.Auction{}
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	if err := t.tx.GetContext(ctx, auction, query, id); err != nil {
		return nil, translate(err)
	}
	return auction, nil
}

// GetAuctionForUpdate retrieves an auction and locks its row
func (t *pgTx) GetAuctionForUpdate(ctx context.Context, id string) (*models.Auction, error) {
	auction := &models.Auction{}
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, auction, query, id); err != nil {
		return nil, translate(err)
	}
	return auction, nil
}

// GetAuctionForShare retrieves an auction holding a shared lock on its row
func (t *pgTx) GetAuctionForShare(ctx context.Context, id string) (*models.Auction, error) {
	auction := &models.Auction{}
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1 FOR SHARE`
	if err := t.tx.GetContext(ctx, auction, query, id); err != nil {
		return nil, translate(err)
	}
	return auction, nil
}

// TransitionAuction updates the status of an auction if it is still in one of the from states
func (t *pgTx) TransitionAuction(ctx context.Context, id string, to models.AuctionStatus, at time.Time, from ...models.AuctionStatus) (bool, error) {
	query := `UPDATE auctions SET status = $1, updated_at = $2, closed_at = COALESCE($3, closed_at)
			  WHERE id = $4 AND status = ANY($5)`
	res, err := t.tx.ExecContext(ctx, query, to, at, stampIf(to == models.AuctionStatusClosed, at), id, statusArgs(from))
	if err != nil {
		return false, translate(err)
	}
	return t.changed(ctx, res, "auctions", id)
}

// ListAuctionsToOpen retrieves upcoming auctions whose start time has passed
func (t *pgTx) ListAuctionsToOpen(ctx context.Context, now time.Time) ([]models.Auction, error) {
	auctions := []models.Auction{}
	query := `SELECT ` + auctionColumns + ` FROM auctions
			  WHERE status = $1 AND start_time <= $2 AND end_time > $2
			  ORDER BY end_time ASC`
	err := t.tx.SelectContext(ctx, &auctions, query, models.AuctionStatusUpcoming, now)
	return auctions, translate(err)
}

// ListAuctionsToClose retrieves auctions that have ended but not yet been closed
func (t *pgTx) ListAuctionsToClose(ctx context.Context, now time.Time) ([]models.Auction, error) {
	auctions := []models.Auction{}
	query := `SELECT ` + auctionColumns + ` FROM auctions
			  WHERE status IN ($1, $2) AND end_time <= $3
			  ORDER BY end_time ASC`
	err := t.tx.SelectContext(ctx, &auctions, query, models.AuctionStatusLive, models.AuctionStatusUpcoming, now)
	return auctions, translate(err)
}

// CreateItem inserts a new item
func (t *pgTx) CreateItem(ctx context.Context, item *models.Item) error {
	query := `INSERT INTO items (` + itemColumns + `)
			  VALUES (:id, :auction_id, :seller_id, :title, :base_price, :reserve_price,
			  :buyers_premium_percent, :tax_percent, :current_bid, :current_bidder_id, :bid_count,
			  :reserve_met, :sold, :sold_price, :created_at, :updated_at)`
	_, err := t.tx.NamedExecContext(ctx, query, item)
	return translate(err)
}

// GetItem retrieves an item by ID
func (t *pgTx) GetItem(ctx context.Context, id string) (*models.Item, error) {
	item := &models.Item{}
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	if err := t.tx.GetContext(ctx, item, query, id); err != nil {
		return nil, translate(err)
	}
	return item, nil
}

// GetItemForUpdate retrieves an item and locks its row
func (t *pgTx) GetItemForUpdate(ctx context.Context, id string) (*models.Item, error) {
	item := &models.Item{}
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, item, query, id); err != nil {
		return nil, translate(err)
	}
	return item, nil
}

// ListItemsByAuction retrieves the items of an auction in catalogue order
func (t *pgTx) ListItemsByAuction(ctx context.Context, auctionID string) ([]models.Item, error) {
	items := []models.Item{}
	query := `SELECT ` + itemColumns + ` FROM items WHERE auction_id = $1 ORDER BY created_at, id`
	err := t.tx.SelectContext(ctx, &items, query, auctionID)
	return items, translate(err)
}

// UpdateItemBidState writes the cached bid projection of an item
func (t *pgTx) UpdateItemBidState(ctx context.Context, item *models.Item) error {
	query := `UPDATE items SET current_bid = $1, current_bidder_id = $2, bid_count = $3,
			  reserve_met = $4, updated_at = $5
			  WHERE id = $6`
	res, err := t.tx.ExecContext(ctx, query,
		item.CurrentBid, item.CurrentBidderID, item.BidCount, item.ReserveMet, item.UpdatedAt, item.ID)
	if err != nil {
		return translate(err)
	}
	_, err = t.changed(ctx, res, "items", item.ID)
	return err
}

// MarkItemSold flags an item as sold, keeping any price already recorded
func (t *pgTx) MarkItemSold(ctx context.Context, itemID string, price decimal.Decimal, at time.Time) error {
	query := `UPDATE items SET sold = true, sold_price = COALESCE(sold_price, $1), updated_at = $2
			  WHERE id = $3`
	res, err := t.tx.ExecContext(ctx, query, price, at, itemID)
	if err != nil {
		return translate(err)
	}
	_, err = t.changed(ctx, res, "items", itemID)
	return err
}

// ListUnsettledSoldItems retrieves sold items of a seller that no active settlement covers
func (t *pgTx) ListUnsettledSoldItems(ctx context.Context, sellerID, auctionID string) ([]models.Item, error) {
	items := []models.Item{}
	query := `SELECT ` + itemColumns + ` FROM items i
			  WHERE i.sold AND i.seller_id = $1 AND ($2::text = '' OR i.auction_id = $2)
			  AND NOT EXISTS (SELECT 1 FROM settlement_items si WHERE si.item_id = i.id AND si.active)
			  ORDER BY i.created_at, i.id`
	err := t.tx.SelectContext(ctx, &items, query, sellerID, auctionID)
	return items, translate(err)
}

// ListSellersWithUnsettledItems retrieves the sellers of an auction with sold, unsettled items
func (t *pgTx) ListSellersWithUnsettledItems(ctx context.Context, auctionID string) ([]string, error) {
	sellers := []string{}
	query := `SELECT DISTINCT i.seller_id FROM items i
			  WHERE i.sold AND i.auction_id = $1
			  AND NOT EXISTS (SELECT 1 FROM settlement_items si WHERE si.item_id = i.id AND si.active)
			  ORDER BY i.seller_id`
	err := t.tx.SelectContext(ctx, &sellers, query, auctionID)
	return sellers, translate(err)
}

// InsertBid appends a bid to the ledger and assigns its sequence number
func (t *pgTx) InsertBid(ctx context.Context, bid *models.Bid) error {
	query := `INSERT INTO bids (id, item_id, auction_id, bidder_id, amount, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING seq`
	err := t.tx.GetContext(ctx, &bid.Seq, query,
		bid.ID, bid.ItemID, bid.AuctionID, bid.BidderID, bid.Amount, bid.CreatedAt)
	return translate(err)
}

// ListBidsByItem retrieves the bids on an item in insertion order
func (t *pgTx) ListBidsByItem(ctx context.Context, itemID string) ([]models.Bid, error) {
	bids := []models.Bid{}
	query := `SELECT ` + bidColumns + ` FROM bids WHERE item_id = $1 ORDER BY seq`
	err := t.tx.SelectContext(ctx, &bids, query, itemID)
	return bids, translate(err)
}

// ListBidsByAuction retrieves the bids on every item of an auction in insertion order
func (t *pgTx) ListBidsByAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	bids := []models.Bid{}
	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = $1 ORDER BY seq`
	err := t.tx.SelectContext(ctx, &bids, query, auctionID)
	return bids, translate(err)
}
