package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/services"
	"github.com/go-chi/chi/v5"
)

// statusRequest is the body of the settlement status endpoints
type statusRequest struct {
	IDs    []string                `json:"ids,omitempty"`
	Status models.SettlementStatus `json:"status"`
}

// CalculateSettlement handles a payout statement for one seller
func CalculateSettlement(settlementService *services.SettlementService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.CalculateSettlementRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		settlement, err := settlementService.CalculateSettlement(r.Context(), req)
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusCreated, settlement)
	}
}

// BulkCalculateSettlements handles payout statements for every seller of an auction
func BulkCalculateSettlements(settlementService *services.SettlementService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.BulkCalculateRequest
		if r.ContentLength != 0 {
			if err := decodeBody(r, &req); err != nil {
				respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}
		}

		settlements, err := settlementService.BulkCalculate(r.Context(), chi.URLParam(r, "id"), req.CommissionRate)
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, settlements)
	}
}

// GetSettlement handles retrieving a settlement
func GetSettlement(settlementService *services.SettlementService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settlement, err := settlementService.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, settlement)
	}
}

// UpdateAdjustments handles replacing the adjustments of a draft settlement
func UpdateAdjustments(settlementService *services.SettlementService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var adjustments models.Adjustments
		if err := decodeBody(r, &adjustments); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		settlement, err := settlementService.UpdateAdjustments(r.Context(), chi.URLParam(r, "id"), adjustments)
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, settlement)
	}
}

// TransitionSettlement handles a status change of one settlement
func TransitionSettlement(settlementService *services.SettlementService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		settlement, err := settlementService.Transition(r.Context(), chi.URLParam(r, "id"), req.Status)
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, settlement)
	}
}

// BatchTransitionSettlements handles a status change of many settlements.
// The response reports each record separately.
func BatchTransitionSettlements(settlementService *services.SettlementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if len(req.IDs) == 0 {
			respondError(w, http.StatusBadRequest, "ids are required")
			return
		}

		respondJSON(w, http.StatusOK, settlementService.BatchTransition(r.Context(), req.IDs, req.Status))
	}
}

// GetUnsettledItems handles listing a seller's sold items not yet settled
func GetUnsettledItems(settlementService *services.SettlementService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := settlementService.UnsettledItems(r.Context(), chi.URLParam(r, "sellerId"), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, items)
	}
}
