package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-cart/internal/domain/auth"
	"github.com/xenking/kart-cart/pkg/httpmiddleware"
)

// APIKeyHeader carries service keys.
const APIKeyHeader = "api_key"

// Authenticate resolves the caller from "Authorization: Bearer <jwt>" with
// tokens, or from the api_key header with keys, and stores the identity in
// the request context. Either resolver may be nil to disable its scheme.
func Authenticate(tokens, keys auth.Resolver) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				resolver   auth.Resolver
				credential string
			)
			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && tokens != nil {
				resolver, credential = tokens, strings.TrimSpace(token)
			} else if key := r.Header.Get(APIKeyHeader); key != "" && keys != nil {
				resolver, credential = keys, key
			}
			if resolver == nil {
				respondError(w, r, auth.ErrUnauthorized)
				return
			}

			who, err := resolver.Resolve(r.Context(), credential)
			if err != nil {
				zctx.From(r.Context()).Debug("Authentication failed", zap.Error(err))
				respondError(w, r, auth.ErrUnauthorized)
				return
			}

			ctx := auth.WithIdentity(r.Context(), who)
			ctx = zctx.With(ctx, zap.Int64("user_id", who.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitKey keys authenticated callers by user id and everybody else by
// client IP.
func RateLimitKey(r *http.Request) string {
	if who, ok := auth.FromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(who.UserID, 10)
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}
