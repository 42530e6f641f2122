package core

import (
	"context"

	"github.com/JonMunkholm/equipstat/internal/store"
)

type contextKey string

const ctxKeyUser contextKey = "user"

// ContextWithUser stores the authenticated user.
func ContextWithUser(ctx context.Context, u *store.User) context.Context {
	return context.WithValue(ctx, ctxKeyUser, u)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(ctxKeyUser).(*store.User)
	return u, ok && u != nil
}
