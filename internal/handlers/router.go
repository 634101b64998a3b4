package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bidhall/bidhall-api/internal/realtime"
	"github.com/bidhall/bidhall-api/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Services are the dependencies of the HTTP API. Verifier and Hub may be nil
// to leave the webhook and websocket routes unmounted.
type Services struct {
	Auth        *services.AuthService
	Bids        *services.BidService
	Auctions    *services.AuctionService
	Invoices    *services.InvoiceService
	Settlements *services.SettlementService
	Payments    *services.PaymentService
	Verifier    EventVerifier
	Hub         *realtime.Hub
}

// NewRouter builds the HTTP API
func NewRouter(svc Services, allowedOrigins []string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	if svc.Verifier != nil {
		r.Post("/webhooks/stripe", StripeWebhook(svc.Verifier, svc.Payments, logger))
	}
	if svc.Hub != nil {
		r.With(QueryTokenMiddleware(svc.Auth)).Get("/ws", ServeWs(svc.Hub))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/items/{id}/minimum-bid", GetMinimumBid(svc.Bids, logger))

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(svc.Auth))

			r.Post("/items/{id}/bids", PlaceBid(svc.Bids, logger))
			r.Get("/invoices/{id}", GetInvoice(svc.Invoices, logger))

			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)

				r.Post("/auctions/{id}/close", CloseAuction(svc.Auctions, logger))
				r.Post("/auctions/{id}/cancel", CancelAuction(svc.Auctions, logger))
				r.Get("/auctions/{id}/winners", GetWinners(svc.Auctions, logger))
				r.Post("/auctions/{id}/invoices", GenerateAuctionInvoices(svc.Invoices, logger))
				r.Post("/auctions/{id}/settlements", BulkCalculateSettlements(svc.Settlements, logger))
				r.Get("/auctions/{id}/sellers/{sellerId}/unsettled", GetUnsettledItems(svc.Settlements, logger))

				r.Post("/items/{id}/invoice", GenerateItemInvoice(svc.Invoices, logger))

				r.Post("/invoices/reconcile", ReconcilePayment(svc.Payments, logger))
				r.Post("/invoices/{id}/cancel", CancelInvoice(svc.Invoices, logger))
				r.Post("/invoices/{id}/payment-refs", AttachPaymentRefs(svc.Invoices, logger))

				r.Post("/settlements", CalculateSettlement(svc.Settlements, logger))
				r.Post("/settlements/status", BatchTransitionSettlements(svc.Settlements))
				r.Get("/settlements/{id}", GetSettlement(svc.Settlements, logger))
				r.Put("/settlements/{id}/adjustments", UpdateAdjustments(svc.Settlements, logger))
				r.Post("/settlements/{id}/status", TransitionSettlement(svc.Settlements, logger))
			})
		})
	})

	return r
}

// requestLogger logs one line per request
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
