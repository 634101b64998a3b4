package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store. Transactions are fully serialised and
// work on a copy of the data that is swapped in only when fn succeeds.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	auctions         map[string]models.Auction
	items            map[string]models.Item
	bids             []models.Bid
	bidSeq           int64
	invoices         map[string]models.Invoice
	invoiceSeq       int64
	settlements      map[string]models.Settlement
	settledItems     map[string]string
	notifications    map[string]models.Notification
	notificationKeys map[string]string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memData{
			auctions:         make(map[string]models.Auction),
			items:            make(map[string]models.Item),
			invoices:         make(map[string]models.Invoice),
			settlements:      make(map[string]models.Settlement),
			settledItems:     make(map[string]string),
			notifications:    make(map[string]models.Notification),
			notificationKeys: make(map[string]string),
		},
	}
}

// Transaction executes fn against a private copy of the data
func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	// Check if the context is canceled or timed out
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&memTx{d: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (d *memData) clone() *memData {
	c := &memData{
		auctions:         make(map[string]models.Auction, len(d.auctions)),
		items:            make(map[string]models.Item, len(d.items)),
		bids:             append([]models.Bid(nil), d.bids...),
		bidSeq:           d.bidSeq,
		invoices:         make(map[string]models.Invoice, len(d.invoices)),
		invoiceSeq:       d.invoiceSeq,
		settlements:      make(map[string]models.Settlement, len(d.settlements)),
		settledItems:     make(map[string]string, len(d.settledItems)),
		notifications:    make(map[string]models.Notification, len(d.notifications)),
		notificationKeys: make(map[string]string, len(d.notificationKeys)),
	}
	for k, v := range d.auctions {
		c.auctions[k] = v
	}
	for k, v := range d.items {
		c.items[k] = v
	}
	for k, v := range d.invoices {
		c.invoices[k] = v
	}
	for k, v := range d.settlements {
		c.settlements[k] = v
	}
	for k, v := range d.settledItems {
		c.settledItems[k] = v
	}
	for k, v := range d.notifications {
		c.notifications[k] = v
	}
	for k, v := range d.notificationKeys {
		c.notificationKeys[k] = v
	}
	return c
}

// Stored values are never mutated in place: writers replace whole structs and
// readers get copies with their own slices.

func copyInvoice(inv models.Invoice) *models.Invoice {
	inv.LineItems = append([]models.LineItem(nil), inv.LineItems...)
	return &inv
}

func copySettlement(s models.Settlement) *models.Settlement {
	s.Items = append([]models.SettlementItem(nil), s.Items...)
	s.Adjustments = append(models.Adjustments(nil), s.Adjustments...)
	return &s
}

type memTx struct {
	d *memData
}

// Auctions

func (t *memTx) CreateAuction(ctx context.Context, auction *models.Auction) error {
	if _, exists := t.d.auctions[auction.ID]; exists {
		return ErrConflict
	}
	a := *auction
	a.Items = nil
	t.d.auctions[a.ID] = a
	return nil
}

func (t *memTx) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	a, ok := t.d.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (t *memTx) GetAuctionForUpdate(ctx context.Context, id string) (*models.Auction, error) {
	return t.GetAuction(ctx, id)
}

func (t *memTx) GetAuctionForShare(ctx context.Context, id string) (*models.Auction, error) {
	return t.GetAuction(ctx, id)
}

func (t *memTx) TransitionAuction(ctx context.Context, id string, to models.AuctionStatus, at time.Time, from ...models.AuctionStatus) (bool, error) {
	a, ok := t.d.auctions[id]
	if !ok {
		return false, ErrNotFound
	}
	if !containsStatus(from, a.Status) {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = at
	if to == models.AuctionStatusClosed {
		closedAt := at
		a.ClosedAt = &closedAt
	}
	t.d.auctions[id] = a
	return true, nil
}

func (t *memTx) ListAuctionsToOpen(ctx context.Context, now time.Time) ([]models.Auction, error) {
	return t.filterAuctions(func(a models.Auction) bool {
		return a.Status == models.AuctionStatusUpcoming && !now.Before(a.StartTime) && now.Before(a.EndTime)
	}), nil
}

func (t *memTx) ListAuctionsToClose(ctx context.Context, now time.Time) ([]models.Auction, error) {
	return t.filterAuctions(func(a models.Auction) bool {
		open := a.Status == models.AuctionStatusLive || a.Status == models.AuctionStatusUpcoming
		return open && !now.Before(a.EndTime)
	}), nil
}

func (t *memTx) filterAuctions(keep func(models.Auction) bool) []models.Auction {
	auctions := []models.Auction{}
	for _, a := range t.d.auctions {
		if keep(a) {
			auctions = append(auctions, a)
		}
	}
	sort.Slice(auctions, func(i, j int) bool {
		return auctions[i].EndTime.Before(auctions[j].EndTime)
	})
	return auctions
}

// Items

func (t *memTx) CreateItem(ctx context.Context, item *models.Item) error {
	if _, exists := t.d.items[item.ID]; exists {
		return ErrConflict
	}
	if _, ok := t.d.auctions[item.AuctionID]; !ok {
		return ErrNotFound
	}
	t.d.items[item.ID] = *item
	return nil
}

func (t *memTx) GetItem(ctx context.Context, id string) (*models.Item, error) {
	item, ok := t.d.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &item, nil
}

func (t *memTx) GetItemForUpdate(ctx context.Context, id string) (*models.Item, error) {
	return t.GetItem(ctx, id)
}

func (t *memTx) ListItemsByAuction(ctx context.Context, auctionID string) ([]models.Item, error) {
	return t.filterItems(func(i models.Item) bool { return i.AuctionID == auctionID }), nil
}

func (t *memTx) UpdateItemBidState(ctx context.Context, item *models.Item) error {
	stored, ok := t.d.items[item.ID]
	if !ok {
		return ErrNotFound
	}
	stored.CurrentBid = item.CurrentBid
	stored.CurrentBidderID = item.CurrentBidderID
	stored.BidCount = item.BidCount
	stored.ReserveMet = item.ReserveMet
	stored.UpdatedAt = item.UpdatedAt
	t.d.items[item.ID] = stored
	return nil
}

func (t *memTx) MarkItemSold(ctx context.Context, itemID string, price decimal.Decimal, at time.Time) error {
	item, ok := t.d.items[itemID]
	if !ok {
		return ErrNotFound
	}
	item.Sold = true
	if !item.SoldPrice.Valid {
		item.SoldPrice = decimal.NewNullDecimal(price)
	}
	item.UpdatedAt = at
	t.d.items[itemID] = item
	return nil
}

func (t *memTx) ListUnsettledSoldItems(ctx context.Context, sellerID, auctionID string) ([]models.Item, error) {
	return t.filterItems(func(i models.Item) bool {
		return t.unsettled(i) && i.SellerID == sellerID && (auctionID == "" || i.AuctionID == auctionID)
	}), nil
}

func (t *memTx) ListSellersWithUnsettledItems(ctx context.Context, auctionID string) ([]string, error) {
	seen := make(map[string]bool)
	sellers := []string{}
	for _, item := range t.filterItems(func(i models.Item) bool {
		return t.unsettled(i) && i.AuctionID == auctionID
	}) {
		if !seen[item.SellerID] {
			seen[item.SellerID] = true
			sellers = append(sellers, item.SellerID)
		}
	}
	sort.Strings(sellers)
	return sellers, nil
}

func (t *memTx) unsettled(i models.Item) bool {
	_, claimed := t.d.settledItems[i.ID]
	return i.Sold && !claimed
}

func (t *memTx) filterItems(keep func(models.Item) bool) []models.Item {
	items := []models.Item{}
	for _, item := range t.d.items {
		if keep(item) {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// Bids

func (t *memTx) InsertBid(ctx context.Context, bid *models.Bid) error {
	t.d.bidSeq++
	bid.Seq = t.d.bidSeq
	t.d.bids = append(t.d.bids, *bid)
	return nil
}

func (t *memTx) ListBidsByItem(ctx context.Context, itemID string) ([]models.Bid, error) {
	bids := []models.Bid{}
	for _, b := range t.d.bids {
		if b.ItemID == itemID {
			bids = append(bids, b)
		}
	}
	return bids, nil
}

func (t *memTx) ListBidsByAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	bids := []models.Bid{}
	for _, b := range t.d.bids {
		if b.AuctionID == auctionID {
			bids = append(bids, b)
		}
	}
	return bids, nil
}

// Invoices

func (t *memTx) NextInvoiceSequence(ctx context.Context) (int64, error) {
	t.d.invoiceSeq++
	return t.d.invoiceSeq, nil
}

func (t *memTx) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	if _, exists := t.d.invoices[invoice.ID]; exists {
		return ErrConflict
	}
	for _, existing := range t.d.invoices {
		if existing.InvoiceNumber == invoice.InvoiceNumber {
			return ErrConflict
		}
		if invoice.ItemID == nil && existing.ItemID == nil &&
			existing.AuctionID == invoice.AuctionID && existing.UserID == invoice.UserID {
			return ErrInvoiceExists
		}
	}
	t.d.invoices[invoice.ID] = *copyInvoice(*invoice)
	return nil
}

func (t *memTx) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	inv, ok := t.d.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyInvoice(inv), nil
}

func (t *memTx) GetInvoiceForUpdate(ctx context.Context, id string) (*models.Invoice, error) {
	return t.GetInvoice(ctx, id)
}

func (t *memTx) GetInvoiceByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	for _, inv := range t.d.invoices {
		if inv.InvoiceNumber == number {
			return copyInvoice(inv), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) GetInvoiceByExternalRef(ctx context.Context, ref string) (*models.Invoice, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	for _, inv := range t.d.invoices {
		for _, candidate := range []*string{inv.PaymentSessionID, inv.PaymentIntentID, inv.ExternalInvoiceID} {
			if candidate != nil && *candidate == ref {
				return copyInvoice(inv), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) ListInvoicesByAuction(ctx context.Context, auctionID string) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	for _, inv := range t.d.invoices {
		if inv.AuctionID == auctionID {
			invoices = append(invoices, *copyInvoice(inv))
		}
	}
	sort.Slice(invoices, func(i, j int) bool {
		return invoices[i].InvoiceNumber < invoices[j].InvoiceNumber
	})
	return invoices, nil
}

func (t *memTx) FindActiveInvoiceForItem(ctx context.Context, itemID string) (*models.Invoice, error) {
	for _, inv := range t.d.invoices {
		if inv.Status == models.InvoiceStatusCancelled {
			continue
		}
		if _, covers := inv.SoldLots()[itemID]; covers {
			return copyInvoice(inv), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) MarkInvoicePaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	inv, ok := t.d.invoices[id]
	if !ok {
		return false, ErrNotFound
	}
	if inv.Status != models.InvoiceStatusUnpaid {
		return false, nil
	}
	inv.Status = models.InvoiceStatusPaid
	inv.PaidAt = &paidAt
	inv.UpdatedAt = paidAt
	t.d.invoices[id] = inv
	return true, nil
}

func (t *memTx) TransitionInvoice(ctx context.Context, id string, to models.InvoiceStatus, at time.Time, from ...models.InvoiceStatus) (bool, error) {
	inv, ok := t.d.invoices[id]
	if !ok {
		return false, ErrNotFound
	}
	if !containsStatus(from, inv.Status) {
		return false, nil
	}
	inv.Status = to
	inv.UpdatedAt = at
	t.d.invoices[id] = inv
	return true, nil
}

func (t *memTx) SetPaymentRefs(ctx context.Context, id string, refs models.PaymentRefs, at time.Time) error {
	inv, ok := t.d.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.PaymentRefs = refs
	inv.UpdatedAt = at
	t.d.invoices[id] = inv
	return nil
}

// Settlements

func (t *memTx) CreateSettlement(ctx context.Context, settlement *models.Settlement) error {
	if _, exists := t.d.settlements[settlement.ID]; exists {
		return ErrConflict
	}
	for _, item := range settlement.Items {
		if _, claimed := t.d.settledItems[item.ItemID]; claimed {
			return ErrConflict
		}
	}
	for _, item := range settlement.Items {
		t.d.settledItems[item.ItemID] = settlement.ID
	}
	t.d.settlements[settlement.ID] = *copySettlement(*settlement)
	return nil
}

func (t *memTx) GetSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	s, ok := t.d.settlements[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySettlement(s), nil
}

func (t *memTx) GetSettlementForUpdate(ctx context.Context, id string) (*models.Settlement, error) {
	return t.GetSettlement(ctx, id)
}

func (t *memTx) UpdateSettlementAmounts(ctx context.Context, settlement *models.Settlement) error {
	stored, ok := t.d.settlements[settlement.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Adjustments = append(models.Adjustments(nil), settlement.Adjustments...)
	stored.TotalSales = settlement.TotalSales
	stored.Commission = settlement.Commission
	stored.AdjustmentsTotal = settlement.AdjustmentsTotal
	stored.NetPayout = settlement.NetPayout
	stored.UpdatedAt = settlement.UpdatedAt
	t.d.settlements[settlement.ID] = stored
	return nil
}

func (t *memTx) TransitionSettlement(ctx context.Context, id string, to models.SettlementStatus, at time.Time, from ...models.SettlementStatus) (bool, error) {
	s, ok := t.d.settlements[id]
	if !ok {
		return false, ErrNotFound
	}
	if !containsStatus(from, s.Status) {
		return false, nil
	}
	s.Status = to
	s.UpdatedAt = at
	if to == models.SettlementStatusPaid {
		paidAt := at
		s.PaidAt = &paidAt
	}
	if to == models.SettlementStatusCancelled {
		for _, item := range s.Items {
			if t.d.settledItems[item.ItemID] == id {
				delete(t.d.settledItems, item.ItemID)
			}
		}
	}
	t.d.settlements[id] = s
	return true, nil
}

// Notifications

func notificationKey(n models.Notification) string {
	return n.SubjectID + "|" + string(n.Kind)
}

func (t *memTx) EnqueueNotifications(ctx context.Context, notifications []models.Notification) error {
	for _, n := range notifications {
		key := notificationKey(n)
		if _, exists := t.d.notificationKeys[key]; exists {
			continue
		}
		t.d.notificationKeys[key] = n.ID
		t.d.notifications[n.ID] = n
	}
	return nil
}

func (t *memTx) ListNotificationsBySubject(ctx context.Context, subjectID string) ([]models.Notification, error) {
	list := []models.Notification{}
	for _, n := range t.d.notifications {
		if n.SubjectID == subjectID {
			list = append(list, n)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Kind < list[j].Kind })
	return list, nil
}

func (t *memTx) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	n, ok := t.d.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &n, nil
}

func (t *memTx) ClaimNotification(ctx context.Context, id string, at, staleBefore time.Time) (bool, error) {
	n, ok := t.d.notifications[id]
	if !ok {
		return false, ErrNotFound
	}
	claimable := n.Status == models.NotificationPending || n.Status == models.NotificationFailed ||
		(n.Status == models.NotificationSending && n.UpdatedAt.Before(staleBefore))
	if !claimable {
		return false, nil
	}
	n.Status = models.NotificationSending
	n.Attempts++
	n.UpdatedAt = at
	t.d.notifications[id] = n
	return true, nil
}

func (t *memTx) CompleteNotification(ctx context.Context, id string, status models.NotificationStatus, lastErr *string, at time.Time) error {
	n, ok := t.d.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.Status = status
	n.LastError = lastErr
	n.UpdatedAt = at
	t.d.notifications[id] = n
	return nil
}

func (t *memTx) ListRetryableNotifications(ctx context.Context, staleBefore time.Time, maxAttempts, limit int) ([]models.Notification, error) {
	list := []models.Notification{}
	for _, n := range t.d.notifications {
		if n.Attempts >= maxAttempts {
			continue
		}
		switch n.Status {
		case models.NotificationFailed:
			list = append(list, n)
		case models.NotificationPending, models.NotificationSending:
			if n.UpdatedAt.Before(staleBefore) {
				list = append(list, n)
			}
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func containsStatus[S comparable](set []S, s S) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
