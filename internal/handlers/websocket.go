package handlers

import (
	"net/http"

	"github.com/bidhall/bidhall-api/internal/realtime"
)

// ServeWs handles websocket upgrades. Anonymous clients may watch public
// channels; bidding and user channels need a token.
func ServeWs(hub *realtime.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := ""
		if actor, ok := ActorFromContext(r.Context()); ok {
			userID = actor.UserID
		}
		hub.Serve(w, r, userID)
	}
}
