package services

import (
	"fmt"
	"time"

	"github.com/bidhall/bidhall-api/internal/config"
	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the JWT claims
type Claims struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// AuthService validates access tokens issued by the identity service
type AuthService struct {
	cfg config.AuthConfig
}

// NewAuthService creates a new AuthService
func NewAuthService(cfg config.AuthConfig) *AuthService {
	return &AuthService{
		cfg: cfg,
	}
}

// ValidateToken validates a JWT token and returns the acting user
func (s *AuthService) ValidateToken(tokenString string) (*models.Actor, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Check the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return []byte(s.cfg.JWTSecret), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no user")
	}

	role := claims.Role
	if role == "" {
		role = models.RoleBidder
	}

	return &models.Actor{UserID: claims.UserID, Role: role}, nil
}

// IssueToken signs a token for an actor. Used by operator tooling and tests;
// end-user sessions are issued by the identity service.
func (s *AuthService) IssueToken(actor models.Actor) (*models.AuthToken, error) {
	// Set expiration time
	now := time.Now()
	expiresAt := now.Add(time.Duration(s.cfg.JWTExpiration) * time.Hour)

	// Create claims
	claims := &Claims{
		UserID: actor.UserID,
		Role:   actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "bidhall-api",
			Subject:   actor.UserID,
		},
	}

	// Create token
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	// Sign token with secret key
	tokenString, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, err
	}

	return &models.AuthToken{
		Token:     tokenString,
		ExpiresAt: expiresAt.Unix(),
	}, nil
}
