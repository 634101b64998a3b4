package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestCloseAuction_ConsolidatesPerBidder(t *testing.T) {
	f := newFixture(t)
	result := f.closedAuction(t)

	check.False(t, result.AlreadyClosed)
	check.Equal(t, models.AuctionStatusClosed, result.Auction.Status)
	check.True(t, result.Auction.ClosedAt != nil)
	assert.Equal(t, 2, len(result.Invoices))

	byUser := map[string]models.Invoice{}
	for _, inv := range result.Invoices {
		byUser[inv.UserID] = inv
	}

	first := byUser["buyer-1"]
	assert.Equal(t, 2, len(first.LineItems))
	check.Equal(t, "132.00", first.LineItems[0].LineTotal.StringFixed(2))
	check.Equal(t, "396.00", first.LineItems[1].LineTotal.StringFixed(2))
	check.Equal(t, "400.00", first.Subtotal.StringFixed(2))
	check.Equal(t, "40.00", first.PremiumTotal.StringFixed(2))
	check.Equal(t, "88.00", first.TaxTotal.StringFixed(2))
	check.Equal(t, "528.00", first.TotalAmount.StringFixed(2))
	check.Equal(t, models.InvoiceStatusUnpaid, first.Status)

	second := byUser["buyer-2"]
	assert.Equal(t, 1, len(second.LineItems))
	check.Equal(t, "66.00", second.TotalAmount.StringFixed(2))

	check.True(t, f.getItem(t, "i1").Sold)
	check.Equal(t, "300.00", f.getItem(t, "i2").SoldPrice.Decimal.StringFixed(2))
	check.Equal(t, 1, f.pub.count(EventAuctionClosed))
}

func TestCloseAuction_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	first := f.closedAuction(t)

	again, err := f.auctions.CloseAuction(f.ctx, "a1")
	assert.NoError(t, err)
	check.True(t, again.AlreadyClosed)
	assert.Equal(t, len(first.Invoices), len(again.Invoices))

	numbers := map[string]bool{}
	for _, inv := range first.Invoices {
		numbers[inv.InvoiceNumber] = true
	}
	for _, inv := range again.Invoices {
		check.True(t, numbers[inv.InvoiceNumber])
	}
	check.Equal(t, 2, len(again.WinnerSet.Winners))
	check.Equal(t, 1, f.pub.count(EventAuctionClosed))
}

func TestCloseAuction_ConcurrentClosesProduceOneInvoiceSet(t *testing.T) {
	f := newFixture(t)
	f.auction(t, "a1", models.AuctionStatusLive)
	f.item(t, itemSpec{id: "i1", auction: "a1", base: "100"})
	f.bid(t, "i1", "buyer-1", "100")

	var wg sync.WaitGroup
	results := make([]*models.CloseResult, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.auctions.CloseAuction(f.ctx, "a1")
			if err == nil {
				results[i] = res
			}
		}()
	}
	wg.Wait()

	fresh := 0
	for _, res := range results {
		assert.True(t, res != nil)
		assert.Equal(t, 1, len(res.Invoices))
		if !res.AlreadyClosed {
			fresh++
		}
	}
	check.Equal(t, 1, fresh)

	invoices, err := f.invoices.GenerateForAuction(f.ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, 1, len(invoices))
}

func TestCloseAuction_UnsoldAndReserveNotMet(t *testing.T) {
	f := newFixture(t)
	f.auction(t, "a1", models.AuctionStatusLive)
	f.item(t, itemSpec{id: "quiet", auction: "a1", base: "10"})
	f.item(t, itemSpec{id: "short", auction: "a1", base: "100", reserve: "500"})
	f.bid(t, "short", "buyer-1", "100")

	result, err := f.auctions.CloseAuction(f.ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, 0, len(result.Invoices))
	check.Equal(t, 0, len(result.WinnerSet.Winners))
	check.Equal(t, []string{"quiet"}, result.WinnerSet.Unsold)
	check.Equal(t, []string{"short"}, result.WinnerSet.ReserveNotMet)
	check.False(t, f.getItem(t, "short").Sold)
	check.Equal(t, models.AuctionStatusClosed, result.Auction.Status)
}

func TestCloseAuction_Refusals(t *testing.T) {
	f := newFixture(t)
	f.auction(t, "gone", models.AuctionStatusCancelled)
	f.auction(t, "soon", models.AuctionStatusUpcoming)

	_, err := f.auctions.CloseAuction(f.ctx, "gone")
	check.True(t, errors.Is(err, ErrAuctionCancelled))

	_, err = f.auctions.CloseAuction(f.ctx, "soon")
	check.True(t, errors.Is(err, ErrAuctionNotEnded))
	check.True(t, errors.Is(err, ErrConflict))

	_, err = f.auctions.CloseAuction(f.ctx, "nope")
	check.True(t, errors.Is(err, ErrAuctionNotFound))

	// an upcoming auction that was never opened can still be closed once its end passes
	f.clock.Advance(2 * time.Hour)
	result, err := f.auctions.CloseAuction(f.ctx, "soon")
	assert.NoError(t, err)
	check.Equal(t, models.AuctionStatusClosed, result.Auction.Status)
}

func TestCancelAuction(t *testing.T) {
	f := newFixture(t)
	f.auction(t, "a1", models.AuctionStatusLive)
	f.item(t, itemSpec{id: "i1", auction: "a1", base: "100"})
	f.bid(t, "i1", "buyer-1", "100")

	auction, err := f.auctions.CancelAuction(f.ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, models.AuctionStatusCancelled, auction.Status)
	check.Equal(t, 1, f.pub.count(EventAuctionCancelled))

	again, err := f.auctions.CancelAuction(f.ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, models.AuctionStatusCancelled, again.Status)
	check.Equal(t, 1, f.pub.count(EventAuctionCancelled))

	_, err = f.bids.PlaceBid(f.ctx, "i1", "buyer-2", d("200"))
	check.Equal(t, ReasonAuctionClosed, asRejection(t, err).Reason)

	_, err = f.auctions.CloseAuction(f.ctx, "a1")
	check.True(t, errors.Is(err, ErrAuctionCancelled))

	invoices, err := f.invoices.GenerateForAuction(f.ctx, "a1")
	check.True(t, errors.Is(err, ErrAuctionNotClosed))
	check.Equal(t, 0, len(invoices))
	check.False(t, f.getItem(t, "i1").Sold)
}

func TestCancelAuction_Refusals(t *testing.T) {
	f := newFixture(t)
	f.closedAuction(t)
	f.auction(t, "soon", models.AuctionStatusUpcoming)

	_, err := f.auctions.CancelAuction(f.ctx, "a1")
	check.True(t, errors.Is(err, ErrInvalidTransition))
	check.True(t, errors.Is(err, ErrConflict))

	_, err = f.auctions.CancelAuction(f.ctx, "nope")
	check.True(t, errors.Is(err, ErrAuctionNotFound))

	auction, err := f.auctions.CancelAuction(f.ctx, "soon")
	assert.NoError(t, err)
	check.Equal(t, models.AuctionStatusCancelled, auction.Status)

	// the scheduler neither opens nor closes a cancelled auction
	opened, err := f.auctions.OpenStartedAuctions(f.ctx)
	assert.NoError(t, err)
	check.Equal(t, 0, len(opened))

	f.clock.Advance(2 * time.Hour)
	closed, err := f.auctions.CloseEndedAuctions(f.ctx, 2)
	assert.NoError(t, err)
	check.Equal(t, 0, closed)
}

func TestResolveWinners_TieBreaks(t *testing.T) {
	auction := &models.Auction{ID: "a1", Currency: "USD"}
	items := []models.Item{
		{ID: "i1", AuctionID: "a1", BasePrice: d("10"), BuyersPremiumPercent: d("0"), TaxPercent: d("0")},
	}
	bids := []models.Bid{
		{ID: "late", ItemID: "i1", BidderID: "u2", Amount: d("20"), Seq: 3, CreatedAt: t0.Add(2 * time.Second)},
		{ID: "early", ItemID: "i1", BidderID: "u1", Amount: d("20"), Seq: 2, CreatedAt: t0.Add(time.Second)},
		{ID: "low", ItemID: "i1", BidderID: "u3", Amount: d("15"), Seq: 1, CreatedAt: t0},
	}

	ws := ResolveWinners(auction, items, bids)
	assert.Equal(t, []string{"u1"}, ws.Bidders())
	check.Equal(t, "early", ws.Winners["u1"][0].BidID)

	// same instant: the lower sequence wins
	bids[0].CreatedAt = bids[1].CreatedAt
	bids[0].Seq = 1
	ws = ResolveWinners(auction, items, bids)
	check.Equal(t, []string{"u2"}, ws.Bidders())
}

func TestWinners_RequiresClosedAuction(t *testing.T) {
	f := newFixture(t)
	f.auction(t, "a1", models.AuctionStatusLive)

	_, err := f.auctions.Winners(f.ctx, "a1")
	check.True(t, errors.Is(err, ErrAuctionNotClosed))

	_, err = f.auctions.CloseAuction(f.ctx, "a1")
	assert.NoError(t, err)
	ws, err := f.auctions.Winners(f.ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, 0, len(ws.Winners))
}

func TestScheduledLifecycle(t *testing.T) {
	f := newFixture(t)
	f.auction(t, "up", models.AuctionStatusUpcoming)
	f.auction(t, "live", models.AuctionStatusLive)
	f.item(t, itemSpec{id: "i1", auction: "live", base: "10"})
	f.bid(t, "i1", "buyer-1", "10")

	opened, err := f.auctions.OpenStartedAuctions(f.ctx)
	assert.NoError(t, err)
	check.Equal(t, []string{"up"}, opened)

	closed, err := f.auctions.CloseEndedAuctions(f.ctx, 2)
	assert.NoError(t, err)
	check.Equal(t, 0, closed)

	f.clock.Advance(time.Hour)
	closed, err = f.auctions.CloseEndedAuctions(f.ctx, 2)
	assert.NoError(t, err)
	check.Equal(t, 2, closed)

	closed, err = f.auctions.CloseEndedAuctions(f.ctx, 2)
	assert.NoError(t, err)
	check.Equal(t, 0, closed)

	ws, err := f.auctions.Winners(f.ctx, "live")
	assert.NoError(t, err)
	check.Equal(t, []string{"buyer-1"}, ws.Bidders())
}
