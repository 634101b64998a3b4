package store

import (
	"context"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
)

const settlementColumns = `id, reference, seller_id, auction_id, commission_rate, total_sales,
	commission, adjustments_total, net_payout, currency, status, adjustments, generated_at,
	paid_at, updated_at`

const settlementItemColumns = `settlement_id, item_id, auction_id, title, sold_price, base_price, reserve_price`

// CreateSettlement inserts a settlement and claims its items
func (t *pgTx) CreateSettlement(ctx context.Context, settlement *models.Settlement) error {
	query := `INSERT INTO settlements (` + settlementColumns + `)
			  VALUES (:id, :reference, :seller_id, :auction_id, :commission_rate, :total_sales,
			  :commission, :adjustments_total, :net_payout, :currency, :status, :adjustments, :generated_at,
			  :paid_at, :updated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, settlement); err != nil {
		return translate(err)
	}

	// settlement_items_active_item rejects an item already claimed by another settlement
	query = `INSERT INTO settlement_items (` + settlementItemColumns + `, active)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, true)`
	for _, item := range settlement.Items {
		_, err := t.tx.ExecContext(ctx, query,
			settlement.ID, item.ItemID, item.AuctionID, item.Title, item.SoldPrice, item.BasePrice, item.ReservePrice)
		if err != nil {
			return translate(err)
		}
	}
	return nil
}

func (t *pgTx) getSettlement(ctx context.Context, id string, lock bool) (*models.Settlement, error) {
	settlement := &models.Settlement{}
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	if err := t.tx.GetContext(ctx, settlement, query, id); err != nil {
		return nil, translate(err)
	}

	items := []models.SettlementItem{}
	query = `SELECT ` + settlementItemColumns + ` FROM settlement_items WHERE settlement_id = $1 ORDER BY item_id`
	if err := t.tx.SelectContext(ctx, &items, query, id); err != nil {
		return nil, translate(err)
	}
	settlement.Items = items
	return settlement, nil
}

// GetSettlement retrieves a settlement with its items
func (t *pgTx) GetSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	return t.getSettlement(ctx, id, false)
}

// GetSettlementForUpdate retrieves a settlement and locks its row
func (t *pgTx) GetSettlementForUpdate(ctx context.Context, id string) (*models.Settlement, error) {
	return t.getSettlement(ctx, id, true)
}

// UpdateSettlementAmounts rewrites the adjustments and computed amounts of a settlement
func (t *pgTx) UpdateSettlementAmounts(ctx context.Context, settlement *models.Settlement) error {
	query := `UPDATE settlements SET adjustments = $1, total_sales = $2, commission = $3,
			  adjustments_total = $4, net_payout = $5, updated_at = $6
			  WHERE id = $7`
	res, err := t.tx.ExecContext(ctx, query,
		settlement.Adjustments, settlement.TotalSales, settlement.Commission,
		settlement.AdjustmentsTotal, settlement.NetPayout, settlement.UpdatedAt, settlement.ID)
	if err != nil {
		return translate(err)
	}
	_, err = t.changed(ctx, res, "settlements", settlement.ID)
	return err
}

// TransitionSettlement updates the status of a settlement if it is still in one of the from states
func (t *pgTx) TransitionSettlement(ctx context.Context, id string, to models.SettlementStatus, at time.Time, from ...models.SettlementStatus) (bool, error) {
	query := `UPDATE settlements SET status = $1, updated_at = $2, paid_at = COALESCE($3, paid_at)
			  WHERE id = $4 AND status = ANY($5)`
	res, err := t.tx.ExecContext(ctx, query, to, at, stampIf(to == models.SettlementStatusPaid, at), id, statusArgs(from))
	if err != nil {
		return false, translate(err)
	}
	ok, err := t.changed(ctx, res, "settlements", id)
	if err != nil || !ok {
		return ok, err
	}

	if to == models.SettlementStatusCancelled {
		query = `UPDATE settlement_items SET active = false WHERE settlement_id = $1`
		if _, err := t.tx.ExecContext(ctx, query, id); err != nil {
			return false, translate(err)
		}
	}
	return true, nil
}
