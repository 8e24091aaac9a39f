package auth

import (
	"context"
	"time"

	"github.com/dukerupert/medguard/internal/model"
)

type contextKey struct{}

// AuthContext describes the caller of an authenticated request.
type AuthContext struct {
	UserID    string
	Email     string
	Name      string
	TokenID   string
	ExpiresAt time.Time
}

func (ac AuthContext) User() model.User {
	return model.User{ID: ac.UserID, Name: ac.Name, Email: ac.Email}
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.UserID
}
