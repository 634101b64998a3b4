package services

import (
	"errors"
	"fmt"

	"github.com/bidhall/bidhall-api/internal/store"
	"github.com/shopspring/decimal"
)

// Error classes. Every error returned by a service wraps exactly one of them.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("state conflict")
	ErrInvariant  = errors.New("invariant violated")
)

var (
	ErrAuctionNotFound    = fmt.Errorf("auction %w", ErrNotFound)
	ErrItemNotFound       = fmt.Errorf("item %w", ErrNotFound)
	ErrInvoiceNotFound    = fmt.Errorf("invoice %w", ErrNotFound)
	ErrSettlementNotFound = fmt.Errorf("settlement %w", ErrNotFound)

	ErrMissingReference      = fmt.Errorf("invoice id or number is required: %w", ErrValidation)
	ErrInvalidCommissionRate = fmt.Errorf("commission rate must be between 0 and 100: %w", ErrValidation)
	ErrInvalidAdjustment     = fmt.Errorf("adjustment type must be expense or deduction: %w", ErrValidation)
	ErrInvalidStatus         = fmt.Errorf("unknown status: %w", ErrValidation)
	ErrNoUnsettledItems      = fmt.Errorf("no unsettled sold items: %w", ErrValidation)

	ErrAuctionCancelled   = fmt.Errorf("auction is cancelled: %w", ErrConflict)
	ErrAuctionNotEnded    = fmt.Errorf("auction has not ended: %w", ErrConflict)
	ErrAuctionNotClosed   = fmt.Errorf("auction is not closed: %w", ErrConflict)
	ErrItemNotSold        = fmt.Errorf("item has no winning bid: %w", ErrConflict)
	ErrInvoiceNotPayable  = fmt.Errorf("invoice is cancelled: %w", ErrConflict)
	ErrInvoiceNotUnpaid   = fmt.Errorf("invoice is not unpaid: %w", ErrConflict)
	ErrInvalidTransition  = fmt.Errorf("status transition not allowed: %w", ErrConflict)
	ErrSettlementNotDraft = fmt.Errorf("settlement is not a draft: %w", ErrConflict)
	ErrItemAlreadySettled = fmt.Errorf("item already in an active settlement: %w", ErrConflict)

	ErrDuplicateInvoiceNumber = fmt.Errorf("duplicate invoice number: %w", ErrInvariant)
	ErrTotalsMismatch         = fmt.Errorf("invoice total does not match its lines: %w", ErrInvariant)
	ErrNegativeSales          = fmt.Errorf("settlement total sales is negative: %w", ErrInvariant)
)

// RejectionReason says why a bid was not admitted
type RejectionReason string

const (
	ReasonAuctionNotStarted RejectionReason = "AuctionNotStarted"
	ReasonAuctionClosed     RejectionReason = "AuctionClosed"
	ReasonBidTooLow         RejectionReason = "BidTooLow"
	ReasonItemNotFound      RejectionReason = "ItemNotFound"
	ReasonInvalidAmount     RejectionReason = "InvalidAmount"
)

// BidRejection is returned when a bid is refused. MinimumBid is set whenever the
// item is known so the caller can retry with a legal amount.
type BidRejection struct {
	Reason     RejectionReason
	MinimumBid decimal.NullDecimal
}

func (r *BidRejection) Error() string {
	if r.MinimumBid.Valid {
		return fmt.Sprintf("bid rejected: %s (minimum %s)", r.Reason, r.MinimumBid.Decimal.StringFixed(2))
	}
	return fmt.Sprintf("bid rejected: %s", r.Reason)
}

// Unwrap lets errors.Is match the rejection against its error class
func (r *BidRejection) Unwrap() error {
	switch r.Reason {
	case ReasonItemNotFound:
		return ErrNotFound
	case ReasonInvalidAmount:
		return ErrValidation
	default:
		return ErrConflict
	}
}

func reject(reason RejectionReason, minimum *decimal.Decimal) *BidRejection {
	r := &BidRejection{Reason: reason}
	if minimum != nil {
		r.MinimumBid = decimal.NewNullDecimal(*minimum)
	}
	return r
}

// notFound translates a store miss into the entity's not-found error
func notFound(err error, target error) error {
	if errors.Is(err, store.ErrNotFound) {
		return target
	}
	return err
}
