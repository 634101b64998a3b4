package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bidhall/bidhall-api/internal/config"
	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/pricing"
	"github.com/bidhall/bidhall-api/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementService computes and manages seller payout statements
type SettlementService struct {
	store       store.Store
	cfg         config.BillingConfig
	defaultRate decimal.Decimal
	logger      *slog.Logger
	now         func() time.Time
}

// NewSettlementService creates a new SettlementService
func NewSettlementService(st store.Store, cfg config.BillingConfig, logger *slog.Logger) *SettlementService {
	return &SettlementService{
		store:       st,
		cfg:         cfg,
		defaultRate: cfg.DefaultCommissionRate,
		logger:      logger,
		now:         time.Now,
	}
}

var maxRate = decimal.NewFromInt(100)

func (s *SettlementService) rate(requested *decimal.Decimal) (decimal.Decimal, error) {
	rate := s.defaultRate
	if requested != nil {
		rate = *requested
	}
	if rate.IsNegative() || rate.GreaterThan(maxRate) {
		return decimal.Zero, ErrInvalidCommissionRate
	}
	return rate, nil
}

func validateAdjustments(adjustments models.Adjustments) error {
	for i, adj := range adjustments {
		if adj.Type != models.AdjustmentExpense && adj.Type != models.AdjustmentDeduction {
			return fmt.Errorf("adjustment %d: %w", i, ErrInvalidAdjustment)
		}
	}
	return nil
}

// computeAmounts fills totalSales, commission, adjustments total and net payout.
// A negative net payout is kept as is.
func computeAmounts(st *models.Settlement) error {
	total := decimal.Zero
	for _, item := range st.Items {
		total = total.Add(item.SoldPrice)
	}
	if total.IsNegative() {
		return ErrNegativeSales
	}
	st.TotalSales = total
	st.Commission = pricing.Commission(total, st.CommissionRate)
	st.AdjustmentsTotal = st.Adjustments.Total()
	st.NetPayout = total.Sub(st.Commission).Sub(st.AdjustmentsTotal)
	return nil
}

// Get retrieves a settlement by ID
func (s *SettlementService) Get(ctx context.Context, id string) (*models.Settlement, error) {
	var settlement *models.Settlement
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		var err error
		settlement, err = tx.GetSettlement(ctx, id)
		return notFound(err, ErrSettlementNotFound)
	})
	return settlement, err
}

// CalculateSettlement creates a draft payout statement for the seller's sold
// items that no active settlement covers yet
func (s *SettlementService) CalculateSettlement(ctx context.Context, req models.CalculateSettlementRequest) (*models.Settlement, error) {
	rate, err := s.rate(req.CommissionRate)
	if err != nil {
		return nil, err
	}
	if err := validateAdjustments(req.Adjustments); err != nil {
		return nil, err
	}

	var settlement *models.Settlement
	err = s.store.Transaction(ctx, func(tx store.Tx) error {
		var err error
		settlement, err = s.calculate(ctx, tx, req.SellerID, req.AuctionID, rate, req.Adjustments)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("settlement calculated",
		"settlement_id", settlement.ID, "seller_id", settlement.SellerID,
		"items", len(settlement.Items), "net_payout", settlement.NetPayout.StringFixed(2))
	return settlement, nil
}

// BulkCalculate creates one draft settlement per seller with unsettled sold
// items in the auction. Sellers already fully settled are skipped, so running
// it again only picks up what is left.
func (s *SettlementService) BulkCalculate(ctx context.Context, auctionID string, commissionRate *decimal.Decimal) ([]models.Settlement, error) {
	rate, err := s.rate(commissionRate)
	if err != nil {
		return nil, err
	}

	settlements := []models.Settlement{}
	err = s.store.Transaction(ctx, func(tx store.Tx) error {
		if _, err := tx.GetAuction(ctx, auctionID); err != nil {
			return notFound(err, ErrAuctionNotFound)
		}
		sellers, err := tx.ListSellersWithUnsettledItems(ctx, auctionID)
		if err != nil {
			return err
		}
		for _, seller := range sellers {
			st, err := s.calculate(ctx, tx, seller, auctionID, rate, nil)
			if err != nil {
				return fmt.Errorf("seller %s: %w", seller, err)
			}
			settlements = append(settlements, *st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bulk settlement calculated", "auction_id", auctionID, "settlements", len(settlements))
	return settlements, nil
}

func (s *SettlementService) calculate(ctx context.Context, tx store.Tx, sellerID, auctionID string, rate decimal.Decimal, adjustments models.Adjustments) (*models.Settlement, error) {
	currency := s.cfg.Currency
	var auctionRef *string
	if auctionID != "" {
		auction, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return nil, notFound(err, ErrAuctionNotFound)
		}
		currency = auction.Currency
		auctionRef = &auction.ID
	}

	items, err := tx.ListUnsettledSoldItems(ctx, sellerID, auctionID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoUnsettledItems
	}

	now := s.now()
	id := uuid.New().String()
	if adjustments == nil {
		adjustments = models.Adjustments{}
	}
	settlement := &models.Settlement{
		ID:             id,
		Reference:      "STL-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:12]),
		SellerID:       sellerID,
		AuctionID:      auctionRef,
		CommissionRate: rate,
		Currency:       currency,
		Status:         models.SettlementStatusDraft,
		Adjustments:    adjustments,
		GeneratedAt:    now,
		UpdatedAt:      now,
	}
	for _, item := range items {
		settlement.Items = append(settlement.Items, models.SettlementItem{
			SettlementID: id,
			ItemID:       item.ID,
			AuctionID:    item.AuctionID,
			Title:        item.Title,
			SoldPrice:    item.SoldPrice.Decimal,
			BasePrice:    item.BasePrice,
			ReservePrice: item.ReservePrice,
		})
	}
	if err := computeAmounts(settlement); err != nil {
		s.logger.Error("refusing to store settlement", "seller_id", sellerID, "error", err)
		return nil, err
	}

	if err := tx.CreateSettlement(ctx, settlement); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrItemAlreadySettled
		}
		return nil, err
	}
	return settlement, nil
}

// UpdateAdjustments replaces the adjustments of a draft settlement and
// recomputes its amounts
func (s *SettlementService) UpdateAdjustments(ctx context.Context, id string, adjustments models.Adjustments) (*models.Settlement, error) {
	if err := validateAdjustments(adjustments); err != nil {
		return nil, err
	}
	if adjustments == nil {
		adjustments = models.Adjustments{}
	}

	var settlement *models.Settlement
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		current, err := tx.GetSettlementForUpdate(ctx, id)
		if err != nil {
			return notFound(err, ErrSettlementNotFound)
		}
		if current.Status != models.SettlementStatusDraft {
			return ErrSettlementNotDraft
		}
		current.Adjustments = adjustments
		current.UpdatedAt = s.now()
		if err := computeAmounts(current); err != nil {
			return err
		}
		if err := tx.UpdateSettlementAmounts(ctx, current); err != nil {
			return err
		}
		settlement = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

// Transition moves a settlement along its lifecycle. Cancelling releases its
// items for future calculations.
func (s *SettlementService) Transition(ctx context.Context, id string, to models.SettlementStatus) (*models.Settlement, error) {
	if !to.IsValid() {
		return nil, ErrInvalidStatus
	}

	var settlement *models.Settlement
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		current, err := tx.GetSettlementForUpdate(ctx, id)
		if err != nil {
			return notFound(err, ErrSettlementNotFound)
		}
		if !current.Status.CanTransitionTo(to) {
			return fmt.Errorf("%s to %s: %w", current.Status, to, ErrInvalidTransition)
		}
		ok, err := tx.TransitionSettlement(ctx, id, to, s.now(), current.Status)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTransition
		}
		settlement, err = tx.GetSettlement(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("settlement status changed", "settlement_id", id, "status", to)
	return settlement, nil
}

// BatchTransition applies Transition to every id independently. Each record is
// all-or-nothing; a failure is reported in its result and does not affect the others.
func (s *SettlementService) BatchTransition(ctx context.Context, ids []string, to models.SettlementStatus) []models.SettlementTransitionResult {
	results := make([]models.SettlementTransitionResult, 0, len(ids))
	for _, id := range ids {
		result := models.SettlementTransitionResult{SettlementID: id}
		settlement, err := s.Transition(ctx, id, to)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Settlement = settlement
		}
		results = append(results, result)
	}
	return results
}

// UnsettledItems lists the seller's sold items not yet in an active settlement
func (s *SettlementService) UnsettledItems(ctx context.Context, sellerID, auctionID string) ([]models.Item, error) {
	var items []models.Item
	err := s.store.Transaction(ctx, func(tx store.Tx) error {
		if auctionID != "" {
			if _, err := tx.GetAuction(ctx, auctionID); err != nil {
				return notFound(err, ErrAuctionNotFound)
			}
		}
		var err error
		items, err = tx.ListUnsettledSoldItems(ctx, sellerID, auctionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
