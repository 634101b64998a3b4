package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bidhall/bidhall-api/internal/config"
	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/store"
	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(dur)
}

type published struct {
	Channel string
	Event   string
	Payload interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, channel, event string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{channel, event, payload})
	return p.err
}

func (p *fakePublisher) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	fail bool
}

func (n *fakeNotifier) Notify(_ context.Context, note models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("mailbox unavailable")
	}
	n.sent = append(n.sent, note)
	return nil
}

func (n *fakeNotifier) RequestDocument(ctx context.Context, note models.Notification) error {
	return n.Notify(ctx, note)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNotifier) setFail(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = fail
}

type fakeLookup struct {
	refs  map[string]models.InvoiceRef
	err   error
	calls int
}

func (l *fakeLookup) LookupInvoiceRef(_ context.Context, paymentIntentID string) (models.InvoiceRef, error) {
	l.calls++
	if l.err != nil {
		return models.InvoiceRef{}, l.err
	}
	return l.refs[paymentIntentID], nil
}

type fixture struct {
	ctx         context.Context
	store       *store.MemoryStore
	clock       *clock
	pub         *fakePublisher
	notifier    *fakeNotifier
	documents   *fakeNotifier
	lookup      *fakeLookup
	bids        *BidService
	auctions    *AuctionService
	invoices    *InvoiceService
	settlements *SettlementService
	dispatcher  *Dispatcher
	payments    *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	billing := config.BillingConfig{Currency: "USD", InvoicePrefix: "INV", DefaultCommissionRate: decimal.NewFromInt(10)}

	f := &fixture{
		ctx:       context.Background(),
		store:     store.NewMemoryStore(),
		clock:     &clock{t: t0},
		pub:       &fakePublisher{},
		notifier:  &fakeNotifier{},
		documents: &fakeNotifier{},
		lookup:    &fakeLookup{refs: map[string]models.InvoiceRef{}},
	}
	f.bids = NewBidService(f.store, f.pub, logger)
	f.bids.now = f.clock.Now
	f.invoices = NewInvoiceService(f.store, billing, logger)
	f.invoices.now = f.clock.Now
	f.auctions = NewAuctionService(f.store, f.invoices, f.pub, logger)
	f.auctions.now = f.clock.Now
	f.settlements = NewSettlementService(f.store, billing, logger)
	f.settlements.now = f.clock.Now
	f.dispatcher = NewDispatcher(f.store, f.notifier, f.documents, config.WorkerConfig{NotificationMaxAttempt: 3, DeliveryTimeout: 1}, logger)
	f.dispatcher.now = f.clock.Now
	f.payments = NewPaymentService(f.store, f.dispatcher, f.lookup, f.pub, logger, time.Second)
	f.payments.now = f.clock.Now
	return f
}

// auction creates an auction that runs from an hour before t0 to an hour after
func (f *fixture) auction(t *testing.T, id string, status models.AuctionStatus) {
	t.Helper()
	err := f.store.Transaction(f.ctx, func(tx store.Tx) error {
		return tx.CreateAuction(f.ctx, &models.Auction{
			ID:        id,
			Title:     "Auction " + id,
			Currency:  "USD",
			StartTime: t0.Add(-time.Hour),
			EndTime:   t0.Add(time.Hour),
			Status:    status,
			CreatedAt: t0,
			UpdatedAt: t0,
		})
	})
	assert.NoError(t, err)
}

type itemSpec struct {
	id, auction, seller         string
	base, premium, tax, reserve string
}

func (f *fixture) item(t *testing.T, lot itemSpec) {
	t.Helper()
	if lot.seller == "" {
		lot.seller = "seller-1"
	}
	if lot.premium == "" {
		lot.premium = "0"
	}
	if lot.tax == "" {
		lot.tax = "0"
	}
	item := &models.Item{
		ID:                   lot.id,
		AuctionID:            lot.auction,
		SellerID:             lot.seller,
		Title:                "Lot " + lot.id,
		BasePrice:            d(lot.base),
		BuyersPremiumPercent: d(lot.premium),
		TaxPercent:           d(lot.tax),
		CreatedAt:            f.clock.Now(),
		UpdatedAt:            f.clock.Now(),
	}
	if lot.reserve != "" {
		item.ReservePrice = decimal.NewNullDecimal(d(lot.reserve))
	}
	f.clock.Advance(time.Millisecond)
	err := f.store.Transaction(f.ctx, func(tx store.Tx) error {
		return tx.CreateItem(f.ctx, item)
	})
	assert.NoError(t, err)
}

func (f *fixture) bid(t *testing.T, itemID, bidder, amount string) {
	t.Helper()
	_, err := f.bids.PlaceBid(f.ctx, itemID, bidder, d(amount))
	assert.NoError(t, err)
	f.clock.Advance(time.Second)
}

func (f *fixture) getItem(t *testing.T, id string) *models.Item {
	t.Helper()
	var item *models.Item
	err := f.store.Transaction(f.ctx, func(tx store.Tx) error {
		var err error
		item, err = tx.GetItem(f.ctx, id)
		return err
	})
	assert.NoError(t, err)
	return item
}

func (f *fixture) notifications(t *testing.T, subjectID string) []models.Notification {
	t.Helper()
	var list []models.Notification
	err := f.store.Transaction(f.ctx, func(tx store.Tx) error {
		var err error
		list, err = tx.ListNotificationsBySubject(f.ctx, subjectID)
		return err
	})
	assert.NoError(t, err)
	return list
}

// closedAuction sets up an auction where buyer-1 won two lots (100 and 300 at
// 10% premium and 20% tax) and buyer-2 won one lot, then closes it
func (f *fixture) closedAuction(t *testing.T) *models.CloseResult {
	t.Helper()
	f.auction(t, "a1", models.AuctionStatusLive)
	f.item(t, itemSpec{id: "i1", auction: "a1", seller: "seller-1", base: "100", premium: "10", tax: "20"})
	f.item(t, itemSpec{id: "i2", auction: "a1", seller: "seller-1", base: "300", premium: "10", tax: "20"})
	f.item(t, itemSpec{id: "i3", auction: "a1", seller: "seller-2", base: "50", premium: "10", tax: "20"})
	f.bid(t, "i1", "buyer-1", "100")
	f.bid(t, "i2", "buyer-1", "300")
	f.bid(t, "i3", "buyer-2", "50")

	result, err := f.auctions.CloseAuction(f.ctx, "a1")
	assert.NoError(t, err)
	return result
}
