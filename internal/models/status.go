package models

// AuctionStatus represents the status of an auction
type AuctionStatus string

const (
	AuctionStatusUpcoming  AuctionStatus = "upcoming"
	AuctionStatusLive      AuctionStatus = "live"
	AuctionStatusClosed    AuctionStatus = "closed"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// InvoiceStatus represents the payment status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusUnpaid    InvoiceStatus = "unpaid"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// SettlementStatus represents the lifecycle of a seller payout statement
type SettlementStatus string

const (
	SettlementStatusDraft          SettlementStatus = "draft"
	SettlementStatusPendingPayment SettlementStatus = "pending_payment"
	SettlementStatusPaid           SettlementStatus = "paid"
	SettlementStatusCancelled      SettlementStatus = "cancelled"
)

// Allowed transitions per entity. Anything not listed is rejected.
var (
	auctionTransitions = map[AuctionStatus][]AuctionStatus{
		AuctionStatusUpcoming: {AuctionStatusLive, AuctionStatusClosed, AuctionStatusCancelled},
		AuctionStatusLive:     {AuctionStatusClosed, AuctionStatusCancelled},
	}

	invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
		InvoiceStatusUnpaid: {InvoiceStatusPaid, InvoiceStatusCancelled},
	}

	settlementTransitions = map[SettlementStatus][]SettlementStatus{
		SettlementStatusDraft:          {SettlementStatusPendingPayment, SettlementStatusCancelled},
		SettlementStatusPendingPayment: {SettlementStatusPaid, SettlementStatusCancelled},
	}
)

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

func sourcesOf[S comparable](table map[S][]S, to S) []S {
	var from []S
	for src, targets := range table {
		for _, next := range targets {
			if next == to {
				from = append(from, src)
			}
		}
	}
	return from
}

// CanTransitionTo reports whether the auction may move from s to next
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	return allowed(auctionTransitions, s, next)
}

// IsValid reports whether s is a known auction status
func (s AuctionStatus) IsValid() bool {
	switch s {
	case AuctionStatusUpcoming, AuctionStatusLive, AuctionStatusClosed, AuctionStatusCancelled:
		return true
	}
	return false
}

// AuctionSourcesOf lists every status that may legally transition into to
func AuctionSourcesOf(to AuctionStatus) []AuctionStatus {
	return sourcesOf(auctionTransitions, to)
}

// CanTransitionTo reports whether the invoice may move from s to next
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	return allowed(invoiceTransitions, s, next)
}

// CanTransitionTo reports whether the settlement may move from s to next
func (s SettlementStatus) CanTransitionTo(next SettlementStatus) bool {
	return allowed(settlementTransitions, s, next)
}

// IsValid reports whether s is a known settlement status
func (s SettlementStatus) IsValid() bool {
	switch s {
	case SettlementStatusDraft, SettlementStatusPendingPayment, SettlementStatusPaid, SettlementStatusCancelled:
		return true
	}
	return false
}

// SettlementSourcesOf lists every status that may legally transition into to
func SettlementSourcesOf(to SettlementStatus) []SettlementStatus {
	return sourcesOf(settlementTransitions, to)
}
