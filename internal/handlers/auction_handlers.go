package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/services"
	"github.com/go-chi/chi/v5"
)

// PlaceBid handles a bid on an item by the authenticated bidder
func PlaceBid(bidService *services.BidService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		var req models.PlaceBidRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		bid, err := bidService.PlaceBid(r.Context(), chi.URLParam(r, "id"), actor.UserID, req.Amount)
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusCreated, bid)
	}
}

// GetMinimumBid handles the minimum acceptable bid query
func GetMinimumBid(bidService *services.BidService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quote, err := bidService.MinimumBid(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, quote)
	}
}

// CloseAuction handles closing an auction. Closing twice returns the stored result.
func CloseAuction(auctionService *services.AuctionService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := auctionService.CloseAuction(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

// CancelAuction handles administrative cancellation of an auction that has not closed
func CancelAuction(auctionService *services.AuctionService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auction, err := auctionService.CancelAuction(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, auction)
	}
}

// GetWinners handles the winner set query of a closed auction
func GetWinners(auctionService *services.AuctionService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := auctionService.Winners(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondServiceError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, ws)
	}
}
