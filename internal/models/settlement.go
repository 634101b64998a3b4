package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AdjustmentType classifies a settlement adjustment. Both kinds reduce the payout.
type AdjustmentType string

const (
	AdjustmentExpense   AdjustmentType = "expense"
	AdjustmentDeduction AdjustmentType = "deduction"
)

// Adjustment is a signed amount subtracted from a seller's payout
type Adjustment struct {
	Type        AdjustmentType  `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Adjustments is stored as a JSON document column
type Adjustments []Adjustment

// Value implements driver.Valuer
func (a Adjustments) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (a *Adjustments) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = Adjustments{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("adjustments: unsupported scan type %T", src)
	}
}

// Total sums the signed adjustment amounts
func (a Adjustments) Total() decimal.Decimal {
	total := decimal.Zero
	for _, adj := range a {
		total = total.Add(adj.Amount)
	}
	return total
}

// SettlementItem is a sold lot included in a payout statement
type SettlementItem struct {
	SettlementID string              `json:"settlement_id" db:"settlement_id"`
	ItemID       string              `json:"item_id" db:"item_id"`
	AuctionID    string              `json:"auction_id" db:"auction_id"`
	Title        string              `json:"title" db:"title"`
	SoldPrice    decimal.Decimal     `json:"sold_price" db:"sold_price"`
	BasePrice    decimal.Decimal     `json:"base_price" db:"base_price"`
	ReservePrice decimal.NullDecimal `json:"reserve_price" db:"reserve_price"`
}

// Settlement is a seller payout statement
type Settlement struct {
	ID               string           `json:"id" db:"id"`
	Reference        string           `json:"reference" db:"reference"`
	SellerID         string           `json:"seller_id" db:"seller_id"`
	AuctionID        *string          `json:"auction_id,omitempty" db:"auction_id"`
	CommissionRate   decimal.Decimal  `json:"commission_rate" db:"commission_rate"`
	TotalSales       decimal.Decimal  `json:"total_sales" db:"total_sales"`
	Commission       decimal.Decimal  `json:"commission" db:"commission"`
	AdjustmentsTotal decimal.Decimal  `json:"adjustments_total" db:"adjustments_total"`
	NetPayout        decimal.Decimal  `json:"net_payout" db:"net_payout"`
	Currency         string           `json:"currency" db:"currency"`
	Status           SettlementStatus `json:"status" db:"status"`
	Adjustments      Adjustments      `json:"adjustments" db:"adjustments"`
	GeneratedAt      time.Time        `json:"generated_at" db:"generated_at"`
	PaidAt           *time.Time       `json:"paid_at,omitempty" db:"paid_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
	Items            []SettlementItem `json:"items"`
}

// CalculateSettlementRequest asks for a payout statement for one seller.
// An empty AuctionID spans every auction; a nil CommissionRate uses the default.
type CalculateSettlementRequest struct {
	SellerID       string           `json:"seller_id"`
	AuctionID      string           `json:"auction_id"`
	CommissionRate *decimal.Decimal `json:"commission_rate"`
	Adjustments    Adjustments      `json:"adjustments"`
}

// BulkCalculateRequest asks for payout statements for every seller in an auction
type BulkCalculateRequest struct {
	CommissionRate *decimal.Decimal `json:"commission_rate"`
}

// SettlementTransitionResult is the per-record outcome of a batch status update
type SettlementTransitionResult struct {
	SettlementID string      `json:"settlement_id"`
	Settlement   *Settlement `json:"settlement,omitempty"`
	Error        string      `json:"error,omitempty"`
}
