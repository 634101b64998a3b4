package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Auction represents a timed sale that owns a collection of items
type Auction struct {
	ID        string        `json:"id" db:"id"`
	Title     string        `json:"title" db:"title"`
	Currency  string        `json:"currency" db:"currency"`
	StartTime time.Time     `json:"start_time" db:"start_time"`
	EndTime   time.Time     `json:"end_time" db:"end_time"`
	Status    AuctionStatus `json:"status" db:"status"`
	ClosedAt  *time.Time    `json:"closed_at,omitempty" db:"closed_at"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
	Items     []Item        `json:"items,omitempty"`
}

// IsOpenAt reports whether bids may be admitted at the given instant
func (a *Auction) IsOpenAt(now time.Time) bool {
	return a.Status == AuctionStatusLive && !now.Before(a.StartTime) && now.Before(a.EndTime)
}

// HasEndedAt reports whether the scheduled end of the auction has passed
func (a *Auction) HasEndedAt(now time.Time) bool {
	return !now.Before(a.EndTime)
}

// Item represents a lot within an auction.
// CurrentBid, CurrentBidderID, BidCount and ReserveMet are a cached projection
// of the bid ledger and are only written by bid admission.
type Item struct {
	ID                   string              `json:"id" db:"id"`
	AuctionID            string              `json:"auction_id" db:"auction_id"`
	SellerID             string              `json:"seller_id" db:"seller_id"`
	Title                string              `json:"title" db:"title"`
	BasePrice            decimal.Decimal     `json:"base_price" db:"base_price"`
	ReservePrice         decimal.NullDecimal `json:"reserve_price" db:"reserve_price"`
	BuyersPremiumPercent decimal.Decimal     `json:"buyers_premium_percent" db:"buyers_premium_percent"`
	TaxPercent           decimal.Decimal     `json:"tax_percent" db:"tax_percent"`
	CurrentBid           decimal.NullDecimal `json:"current_bid" db:"current_bid"`
	CurrentBidderID      *string             `json:"current_bidder_id,omitempty" db:"current_bidder_id"`
	BidCount             int                 `json:"bid_count" db:"bid_count"`
	ReserveMet           bool                `json:"reserve_met" db:"reserve_met"`
	Sold                 bool                `json:"sold" db:"sold"`
	SoldPrice            decimal.NullDecimal `json:"sold_price" db:"sold_price"`
	CreatedAt            time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at" db:"updated_at"`
}

// MeetsReserve reports whether amount satisfies the item's reserve.
// Items without a reserve are always met.
func (i *Item) MeetsReserve(amount decimal.Decimal) bool {
	if !i.ReservePrice.Valid {
		return true
	}
	return amount.GreaterThanOrEqual(i.ReservePrice.Decimal)
}

// Bid represents an immutable entry in the bid ledger
type Bid struct {
	ID        string          `json:"id" db:"id"`
	ItemID    string          `json:"item_id" db:"item_id"`
	AuctionID string          `json:"auction_id" db:"auction_id"`
	BidderID  string          `json:"bidder_id" db:"bidder_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Seq       int64           `json:"seq" db:"seq"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// PlaceBidRequest represents a request to place a bid on an item
type PlaceBidRequest struct {
	ItemID string          `json:"item_id"`
	Amount decimal.Decimal `json:"amount"`
}

// BidUpdate is the payload pushed to subscribers of an item after a bid is admitted
type BidUpdate struct {
	ItemID       string          `json:"item_id"`
	CurrentBid   decimal.Decimal `json:"current_bid"`
	BidCount     int             `json:"bid_count"`
	IsReserveMet bool            `json:"is_reserve_met"`
	MinimumBid   decimal.Decimal `json:"minimum_bid"`
}

// MinimumBidQuote answers "what is the lowest bid the item accepts right now"
type MinimumBidQuote struct {
	ItemID       string              `json:"item_id"`
	CurrentBid   decimal.NullDecimal `json:"current_bid"`
	MinimumBid   decimal.Decimal     `json:"minimum_bid"`
	BidCount     int                 `json:"bid_count"`
	IsReserveMet bool                `json:"is_reserve_met"`
}

// WonItem is a single lot awarded to a bidder at close, with its fee breakdown
type WonItem struct {
	ItemID    string          `json:"item_id"`
	Title     string          `json:"title"`
	SellerID  string          `json:"seller_id"`
	BidID     string          `json:"bid_id"`
	Hammer    decimal.Decimal `json:"hammer"`
	Premium   decimal.Decimal `json:"premium"`
	Tax       decimal.Decimal `json:"tax"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// WinnerSet maps each winning bidder to the items they won in one auction
type WinnerSet struct {
	AuctionID     string               `json:"auction_id"`
	Currency      string               `json:"currency"`
	Winners       map[string][]WonItem `json:"winners"`
	Unsold        []string             `json:"unsold"`
	ReserveNotMet []string             `json:"reserve_not_met"`
}

// Bidders returns the winning bidder ids in a stable order
func (w *WinnerSet) Bidders() []string {
	bidders := make([]string, 0, len(w.Winners))
	for bidder := range w.Winners {
		bidders = append(bidders, bidder)
	}
	sort.Strings(bidders)
	return bidders
}

// CloseResult is returned by auction close, both on first close and on replay
type CloseResult struct {
	Auction       *Auction   `json:"auction"`
	WinnerSet     *WinnerSet `json:"winner_set"`
	Invoices      []Invoice  `json:"invoices"`
	AlreadyClosed bool       `json:"already_closed"`
}
