package handlers

import (
	"context"

	"github.com/bidhall/bidhall-api/internal/models"
)

// Context keys
type contextKey string

const (
	// ActorKey is the key for the acting user in the context
	ActorKey contextKey = "actor"
)

// NewContextWithActor adds the acting user to the context
func NewContextWithActor(ctx context.Context, actor *models.Actor) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// ActorFromContext extracts the acting user from the context
func ActorFromContext(ctx context.Context) (*models.Actor, bool) {
	actor, ok := ctx.Value(ActorKey).(*models.Actor)
	return actor, ok && actor != nil
}
