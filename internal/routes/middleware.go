package routes

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type ctxKey int

const UserIDCtxKey ctxKey = iota

// UserHeader carries the identity set by the authenticating proxy.
const UserHeader = "X-User-ID"

func GetUserID(r *http.Request) string {
	userID, _ := r.Context().Value(UserIDCtxKey).(string)
	return userID
}

// UserCtx rejects requests without a user identity.
func (routes *Routes) UserCtx(next http.Handler) http.Handler {
	return routes.AppHandler(func(w http.ResponseWriter, r *http.Request) AppError {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			return &ErrUnauthorized{}
		}
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("user_id", userID)
		})
		ctx := context.WithValue(r.Context(), UserIDCtxKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
		return nil
	})
}

// RateLimitCtx stops users toggling too often. Toggles are let through
// when the limiter itself fails.
func (routes *Routes) RateLimitCtx(next http.Handler) http.Handler {
	return routes.AppHandler(func(w http.ResponseWriter, r *http.Request) AppError {
		if routes.limiter == nil {
			next.ServeHTTP(w, r)
			return nil
		}
		allowed, err := routes.limiter.Allow(r.Context(), GetUserID(r))
		if err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Rate limiter unavailable, allowing toggle")
			allowed = true
		}
		if !allowed {
			routes.metrics.Limited()
			return &ErrTooManyRequests{}
		}
		next.ServeHTTP(w, r)
		return nil
	})
}
