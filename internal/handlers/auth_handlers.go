package handlers

import (
	"net/http"
	"strings"

	"github.com/bidhall/bidhall-api/internal/services"
)

// AuthMiddleware is a middleware for authenticating requests
func AuthMiddleware(authService *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			// Extract token from "Bearer <token>"
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			actor, err := authService.ValidateToken(parts[1])
			if err != nil {
				respondError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContextWithActor(r.Context(), actor)))
		})
	}
}

// QueryTokenMiddleware authenticates websocket upgrades, where browsers cannot
// set headers, from the token query parameter. A missing token leaves the
// request anonymous; an invalid one is refused.
func QueryTokenMiddleware(authService *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			actor, err := authService.ValidateToken(token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContextWithActor(r.Context(), actor)))
		})
	}
}

// RequireAdmin refuses requests whose actor is not an administrator. It must
// run after AuthMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !actor.IsAdmin() {
			respondError(w, http.StatusForbidden, "Administrator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
