package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/services"
)

// maxWebhookBody bounds the size of a gateway delivery
const maxWebhookBody = 65536

// EventVerifier authenticates a gateway delivery and normalises it. A nil
// event means the delivery carries nothing to reconcile.
type EventVerifier interface {
	VerifyAndParse(payload []byte, signature string) (*models.PaymentEvent, error)
}

// StripeWebhook handles payment events pushed by the gateway. Deliveries
// that verify but cannot be applied are acknowledged so they are not retried;
// transient failures answer 500 so the gateway redelivers.
func StripeWebhook(verifier EventVerifier, paymentService *services.PaymentService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "Failed to read body")
			return
		}

		event, err := verifier.VerifyAndParse(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			logger.Warn("rejected webhook delivery", "error", err)
			respondError(w, http.StatusBadRequest, "Invalid signature")
			return
		}
		if event == nil {
			respondJSON(w, http.StatusOK, models.ReconcileResult{Outcome: models.ReconcileIgnored})
			return
		}

		result, err := paymentService.HandleEvent(r.Context(), event)
		if err != nil {
			if errors.Is(err, services.ErrValidation) {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			logger.Error("failed to handle payment event", "event_id", event.EventID, "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}
