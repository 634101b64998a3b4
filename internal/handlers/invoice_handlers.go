package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/services"
	"github.com/go-chi/chi/v5"
)

// GenerateAuctionInvoices handles invoice generation for a closed auction.
// Generating again returns the existing invoices.
func GenerateAuctionInvoices(invoiceService *services.InvoiceService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoices, err := invoiceService.GenerateForAuction(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, invoices)
	}
}

// GenerateItemInvoice handles the on-demand invoice of a single sold item
func GenerateItemInvoice(invoiceService *services.InvoiceService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoice, err := invoiceService.GenerateItemInvoice(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, invoice)
	}
}

// GetInvoice handles retrieving an invoice. Bidders may only read their own.
func GetInvoice(invoiceService *services.InvoiceService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		invoice, err := invoiceService.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		if !actor.IsAdmin() && invoice.UserID != actor.UserID {
			// do not reveal that the invoice exists
			respondError(w, http.StatusNotFound, services.ErrInvoiceNotFound.Error())
			return
		}
		respondJSON(w, http.StatusOK, invoice)
	}
}

// CancelInvoice handles cancelling an unpaid invoice
func CancelInvoice(invoiceService *services.InvoiceService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoice, err := invoiceService.CancelInvoice(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, invoice)
	}
}

// AttachPaymentRefs handles recording gateway identifiers on an invoice
func AttachPaymentRefs(invoiceService *services.InvoiceService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var refs models.PaymentRefs
		if err := decodeBody(r, &refs); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		invoice, err := invoiceService.AttachPaymentRefs(r.Context(), chi.URLParam(r, "id"), refs)
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, invoice)
	}
}

// ReconcilePayment handles a manual payment confirmation by invoice id or number
func ReconcilePayment(paymentService *services.PaymentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ref models.InvoiceRef
		if err := decodeBody(r, &ref); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		result, err := paymentService.Reconcile(r.Context(), ref)
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}
