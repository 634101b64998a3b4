package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bidhall/bidhall-api/internal/services"
	"github.com/shopspring/decimal"
)

// errorResponse is the body of every failed request
type errorResponse struct {
	Error      string               `json:"error"`
	Reason     string               `json:"reason,omitempty"`
	MinimumBid *decimal.NullDecimal `json:"minimum_bid,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondServiceError maps a service error class to its HTTP status
func respondServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var rejection *services.BidRejection
	if errors.As(err, &rejection) {
		status := http.StatusConflict
		switch rejection.Reason {
		case services.ReasonInvalidAmount:
			status = http.StatusUnprocessableEntity
		case services.ReasonItemNotFound:
			status = http.StatusNotFound
		}
		body := errorResponse{Error: rejection.Error(), Reason: string(rejection.Reason)}
		if rejection.MinimumBid.Valid {
			body.MinimumBid = &rejection.MinimumBid
		}
		respondJSON(w, status, body)
		return
	}

	switch {
	case errors.Is(err, services.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvariant):
		logger.Error("invariant violated", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	default:
		logger.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
