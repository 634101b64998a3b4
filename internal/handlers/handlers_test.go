package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bidhall/bidhall-api/internal/config"
	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/notify"
	"github.com/bidhall/bidhall-api/internal/services"
	"github.com/bidhall/bidhall-api/internal/store"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

type fakeVerifier struct {
	event *models.PaymentEvent
	err   error
}

func (v *fakeVerifier) VerifyAndParse([]byte, string) (*models.PaymentEvent, error) {
	return v.event, v.err
}

type api struct {
	t        *testing.T
	server   *httptest.Server
	store    *store.MemoryStore
	auth     *services.AuthService
	verifier *fakeVerifier
	admin    string
	alice    string
	bob      string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	billing := config.BillingConfig{Currency: "USD", InvoicePrefix: "INV", DefaultCommissionRate: decimal.NewFromInt(10)}
	st := store.NewMemoryStore()
	quiet := notify.NewLogNotifier(logger)

	invoices := services.NewInvoiceService(st, billing, logger)
	dispatcher := services.NewDispatcher(st, quiet, quiet, config.WorkerConfig{}, logger)
	a := &api{
		t:        t,
		store:    st,
		auth:     services.NewAuthService(config.AuthConfig{JWTSecret: "handler-test-secret", JWTExpiration: 1}),
		verifier: &fakeVerifier{},
	}
	router := NewRouter(Services{
		Auth:        a.auth,
		Bids:        services.NewBidService(st, nil, logger),
		Auctions:    services.NewAuctionService(st, invoices, nil, logger),
		Invoices:    invoices,
		Settlements: services.NewSettlementService(st, billing, logger),
		Payments:    services.NewPaymentService(st, dispatcher, nil, nil, logger, time.Second),
		Verifier:    a.verifier,
	}, []string{"*"}, logger)
	a.server = httptest.NewServer(router)
	t.Cleanup(a.server.Close)

	a.admin = a.token(models.Actor{UserID: "ops", Role: models.RoleAdmin})
	a.alice = a.token(models.Actor{UserID: "alice", Role: models.RoleBidder})
	a.bob = a.token(models.Actor{UserID: "bob"})
	return a
}

func (a *api) token(actor models.Actor) string {
	tok, err := a.auth.IssueToken(actor)
	assert.NoError(a.t, err)
	return tok.Token
}

// seed creates a live auction with one lot of base 100 at 10% premium and 20% tax
func (a *api) seed() {
	now := time.Now()
	err := a.store.Transaction(context.Background(), func(tx store.Tx) error {
		if err := tx.CreateAuction(context.Background(), &models.Auction{
			ID:        "a1",
			Title:     "Spring sale",
			Currency:  "USD",
			StartTime: now.Add(-time.Hour),
			EndTime:   now.Add(time.Hour),
			Status:    models.AuctionStatusLive,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		return tx.CreateItem(context.Background(), &models.Item{
			ID:                   "i1",
			AuctionID:            "a1",
			SellerID:             "seller-1",
			Title:                "Oak bureau",
			BasePrice:            decimal.NewFromInt(100),
			BuyersPremiumPercent: decimal.NewFromInt(10),
			TaxPercent:           decimal.NewFromInt(20),
			CreatedAt:            now,
			UpdatedAt:            now,
		})
	})
	assert.NoError(a.t, err)
}

func (a *api) do(method, path, token string, body interface{}) *http.Response {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		assert.NoError(a.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	assert.NoError(a.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	assert.NoError(a.t, err)
	a.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func amount(s string) map[string]string {
	return map[string]string{"amount": s}
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	resp := a.do("GET", "/health", "", nil)
	check.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPlaceBid(t *testing.T) {
	a := newAPI(t)
	a.seed()

	resp := a.do("POST", "/api/items/i1/bids", a.alice, amount("100"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	bid := decode[models.Bid](t, resp)
	check.Equal(t, "alice", bid.BidderID)
	check.True(t, bid.Amount.Equal(decimal.NewFromInt(100)))

	resp = a.do("POST", "/api/items/i1/bids", a.bob, amount("103"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	rejected := decode[errorResponse](t, resp)
	check.Equal(t, "BidTooLow", rejected.Reason)
	assert.NotNil(t, rejected.MinimumBid)
	check.True(t, rejected.MinimumBid.Decimal.Equal(decimal.NewFromInt(110)))

	resp = a.do("POST", "/api/items/i1/bids", a.bob, amount("0"))
	check.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = a.do("POST", "/api/items/nope/bids", a.bob, amount("10"))
	check.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = a.do("GET", "/api/items/i1/minimum-bid", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	quote := decode[models.MinimumBidQuote](t, resp)
	check.True(t, quote.MinimumBid.Equal(decimal.NewFromInt(110)))
	check.Equal(t, 1, quote.BidCount)
}

func TestAuthRequired(t *testing.T) {
	a := newAPI(t)
	a.seed()

	check.Equal(t, http.StatusUnauthorized, a.do("POST", "/api/items/i1/bids", "", amount("100")).StatusCode)
	check.Equal(t, http.StatusUnauthorized, a.do("POST", "/api/items/i1/bids", "garbage", amount("100")).StatusCode)
	check.Equal(t, http.StatusForbidden, a.do("POST", "/api/auctions/a1/close", a.alice, nil).StatusCode)
	check.Equal(t, http.StatusForbidden, a.do("POST", "/api/settlements", a.bob, nil).StatusCode)
}

func TestCloseInvoiceAndPay(t *testing.T) {
	a := newAPI(t)
	a.seed()
	assert.Equal(t, http.StatusCreated, a.do("POST", "/api/items/i1/bids", a.alice, amount("100")).StatusCode)

	resp := a.do("POST", "/api/auctions/a1/close", a.admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	closed := decode[models.CloseResult](t, resp)
	check.False(t, closed.AlreadyClosed)
	assert.Equal(t, 1, len(closed.Invoices))
	invoice := closed.Invoices[0]
	check.Equal(t, "alice", invoice.UserID)
	check.True(t, invoice.TotalAmount.Equal(decimal.NewFromInt(132)))

	resp = a.do("POST", "/api/auctions/a1/close", a.admin, nil)
	check.True(t, decode[models.CloseResult](t, resp).AlreadyClosed)

	resp = a.do("GET", "/api/auctions/a1/winners", a.admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	ws := decode[models.WinnerSet](t, resp)
	check.Equal(t, 1, len(ws.Winners["alice"]))

	resp = a.do("POST", "/api/auctions/a1/invoices", a.admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	check.Equal(t, 1, len(decode[[]models.Invoice](t, resp)))

	// owners and admins can read the invoice; other bidders cannot
	check.Equal(t, http.StatusOK, a.do("GET", "/api/invoices/"+invoice.ID, a.alice, nil).StatusCode)
	check.Equal(t, http.StatusOK, a.do("GET", "/api/invoices/"+invoice.ID, a.admin, nil).StatusCode)
	check.Equal(t, http.StatusNotFound, a.do("GET", "/api/invoices/"+invoice.ID, a.bob, nil).StatusCode)

	ref := models.InvoiceRef{InvoiceNumber: invoice.InvoiceNumber}
	resp = a.do("POST", "/api/invoices/reconcile", a.admin, ref)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	check.Equal(t, models.ReconcileApplied, decode[models.ReconcileResult](t, resp).Outcome)

	resp = a.do("POST", "/api/invoices/reconcile", a.admin, ref)
	check.Equal(t, models.ReconcileAlreadyApplied, decode[models.ReconcileResult](t, resp).Outcome)

	check.Equal(t, http.StatusBadRequest, a.do("POST", "/api/invoices/reconcile", a.admin, models.InvoiceRef{}).StatusCode)
	check.Equal(t, http.StatusConflict, a.do("POST", "/api/invoices/"+invoice.ID+"/cancel", a.admin, nil).StatusCode)
	check.Equal(t, http.StatusNotFound, a.do("POST", "/api/invoices/missing/cancel", a.admin, nil).StatusCode)
}

func TestCancelAuction(t *testing.T) {
	a := newAPI(t)
	a.seed()
	assert.Equal(t, http.StatusCreated, a.do("POST", "/api/items/i1/bids", a.alice, amount("100")).StatusCode)

	check.Equal(t, http.StatusForbidden, a.do("POST", "/api/auctions/a1/cancel", a.alice, nil).StatusCode)

	resp := a.do("POST", "/api/auctions/a1/cancel", a.admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	check.Equal(t, models.AuctionStatusCancelled, decode[models.Auction](t, resp).Status)

	check.Equal(t, http.StatusOK, a.do("POST", "/api/auctions/a1/cancel", a.admin, nil).StatusCode)
	check.Equal(t, http.StatusConflict, a.do("POST", "/api/auctions/a1/close", a.admin, nil).StatusCode)
	check.Equal(t, http.StatusNotFound, a.do("POST", "/api/auctions/missing/cancel", a.admin, nil).StatusCode)
}

func TestPaymentRefsAndItemInvoice(t *testing.T) {
	a := newAPI(t)
	a.seed()
	assert.Equal(t, http.StatusCreated, a.do("POST", "/api/items/i1/bids", a.alice, amount("100")).StatusCode)
	closed := decode[models.CloseResult](t, a.do("POST", "/api/auctions/a1/close", a.admin, nil))
	invoiceID := closed.Invoices[0].ID

	session := "cs_42"
	resp := a.do("POST", "/api/invoices/"+invoiceID+"/payment-refs", a.admin, models.PaymentRefs{PaymentSessionID: &session})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[models.Invoice](t, resp)
	assert.NotNil(t, updated.PaymentSessionID)
	check.Equal(t, "cs_42", *updated.PaymentSessionID)

	// the consolidated invoice already covers the item
	resp = a.do("POST", "/api/items/i1/invoice", a.admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	check.Equal(t, invoiceID, decode[models.Invoice](t, resp).ID)
}

func TestSettlementRoutes(t *testing.T) {
	a := newAPI(t)
	a.seed()
	assert.Equal(t, http.StatusCreated, a.do("POST", "/api/items/i1/bids", a.alice, amount("100")).StatusCode)
	assert.Equal(t, http.StatusOK, a.do("POST", "/api/auctions/a1/close", a.admin, nil).StatusCode)

	resp := a.do("GET", "/api/auctions/a1/sellers/seller-1/unsettled", a.admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	check.Equal(t, 1, len(decode[[]models.Item](t, resp)))

	resp = a.do("POST", "/api/settlements", a.admin, models.CalculateSettlementRequest{SellerID: "seller-1", AuctionID: "a1"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	settlement := decode[models.Settlement](t, resp)
	check.True(t, settlement.Commission.Equal(decimal.NewFromInt(10)))
	check.True(t, settlement.NetPayout.Equal(decimal.NewFromInt(90)))
	check.Equal(t, models.SettlementStatusDraft, settlement.Status)

	resp = a.do("POST", "/api/settlements", a.admin, models.CalculateSettlementRequest{SellerID: "seller-1", AuctionID: "a1"})
	check.Equal(t, http.StatusBadRequest, resp.StatusCode)

	adjustments := models.Adjustments{{Type: models.AdjustmentExpense, Amount: decimal.NewFromInt(15), Description: "shipping"}}
	resp = a.do("PUT", "/api/settlements/"+settlement.ID+"/adjustments", a.admin, adjustments)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	check.True(t, decode[models.Settlement](t, resp).NetPayout.Equal(decimal.NewFromInt(75)))

	resp = a.do("POST", "/api/settlements/"+settlement.ID+"/status", a.admin, statusRequest{Status: models.SettlementStatusPaid})
	check.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = a.do("POST", "/api/settlements/"+settlement.ID+"/status", a.admin, statusRequest{Status: models.SettlementStatusPendingPayment})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = a.do("POST", "/api/settlements/status", a.admin, statusRequest{IDs: []string{settlement.ID, "missing"}, Status: models.SettlementStatusPaid})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	results := decode[[]models.SettlementTransitionResult](t, resp)
	assert.Equal(t, 2, len(results))
	check.Equal(t, "", results[0].Error)
	check.NotEqual(t, "", results[1].Error)

	resp = a.do("GET", "/api/settlements/"+settlement.ID, a.admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	check.Equal(t, models.SettlementStatusPaid, decode[models.Settlement](t, resp).Status)

	resp = a.do("POST", "/api/auctions/a1/settlements", a.admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	check.Equal(t, 0, len(decode[[]models.Settlement](t, resp)))
}

func TestStripeWebhook(t *testing.T) {
	a := newAPI(t)
	a.seed()
	assert.Equal(t, http.StatusCreated, a.do("POST", "/api/items/i1/bids", a.alice, amount("100")).StatusCode)
	closed := decode[models.CloseResult](t, a.do("POST", "/api/auctions/a1/close", a.admin, nil))

	a.verifier.err = errors.New("bad signature")
	check.Equal(t, http.StatusBadRequest, a.do("POST", "/webhooks/stripe", "", map[string]string{}).StatusCode)

	a.verifier.err = nil
	resp := a.do("POST", "/webhooks/stripe", "", map[string]string{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	check.Equal(t, models.ReconcileIgnored, decode[models.ReconcileResult](t, resp).Outcome)

	a.verifier.event = &models.PaymentEvent{
		Provider:      "stripe",
		EventID:       "evt_1",
		Type:          "checkout.session.completed",
		Succeeded:     true,
		InvoiceNumber: closed.Invoices[0].InvoiceNumber,
	}
	resp = a.do("POST", "/webhooks/stripe", "", map[string]string{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[models.ReconcileResult](t, resp)
	check.Equal(t, models.ReconcileApplied, result.Outcome)
	assert.NotNil(t, result.Invoice)
	check.Equal(t, models.InvoiceStatusPaid, result.Invoice.Status)

	resp = a.do("POST", "/webhooks/stripe", "", map[string]string{})
	check.Equal(t, models.ReconcileAlreadyApplied, decode[models.ReconcileResult](t, resp).Outcome)
}

func TestRespondServiceError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := []struct {
		err    error
		status int
	}{
		{services.ErrAuctionNotFound, http.StatusNotFound},
		{services.ErrInvalidCommissionRate, http.StatusBadRequest},
		{services.ErrInvoiceNotUnpaid, http.StatusConflict},
		{services.ErrTotalsMismatch, http.StatusInternalServerError},
		{errors.New("connection reset"), http.StatusInternalServerError},
		{&services.BidRejection{Reason: services.ReasonAuctionClosed}, http.StatusConflict},
		{&services.BidRejection{Reason: services.ReasonInvalidAmount}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		respondServiceError(w, logger, tc.err)
		check.Equal(t, tc.status, w.Code)
		check.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "application/json"))
	}
}
