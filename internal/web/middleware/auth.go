package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/equipstat/internal/auth"
	"github.com/JonMunkholm/equipstat/internal/core"
	"github.com/JonMunkholm/equipstat/internal/logging"
	"github.com/JonMunkholm/equipstat/internal/store"
)

// TokenResolver turns a bearer token into its user. Satisfied by
// *auth.Authenticator.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*store.User, error)
}

// ErrorResponder writes an error response for err.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

// Authenticate requires an "Authorization: Bearer <token>" (or "Token
// <token>") header naming a live user. The user is stored with
// core.ContextWithUser and attached to the request's log fields.
func Authenticate(resolver TokenResolver, onError ErrorResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.TokenFromHeader(r.Header.Get("Authorization"))
			if !ok {
				onError(w, r, auth.ErrInvalidToken)
				return
			}

			user, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				slog.Warn("auth: token rejected",
					"path", r.URL.Path,
					"method", r.Method,
					"ip", ClientIP(r),
					"error", err,
				)
				onError(w, r, err)
				return
			}

			if f := requestFieldsFrom(r.Context()); f != nil {
				f.userID = user.ID
			}
			ctx := core.ContextWithUser(r.Context(), user)
			ctx = logging.ContextWithFields(ctx, "user_id", user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestFields carries values discovered deeper in the chain back up to
// the access logger.
type requestFields struct {
	userID int64
}

type requestFieldsKey struct{}

func withRequestFields(ctx context.Context, f *requestFields) context.Context {
	return context.WithValue(ctx, requestFieldsKey{}, f)
}

func requestFieldsFrom(ctx context.Context) *requestFields {
	f, _ := ctx.Value(requestFieldsKey{}).(*requestFields)
	return f
}
