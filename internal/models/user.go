package models

// Role is the coarse permission carried by an acting user's token
type Role string

const (
	RoleBidder Role = "bidder"
	RoleAdmin  Role = "admin"
)

// Actor is the acting user resolved from an access token.
// Identity and session management live outside this service.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// IsAdmin reports whether the actor may perform administrative operations
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// AuthToken represents an issued access token
type AuthToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}
