package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/installment-engine/internal/domain"
	"github.com/segyhp/installment-engine/internal/ratelimit"
	customError "github.com/segyhp/installment-engine/pkg/errors"
	"github.com/segyhp/installment-engine/pkg/response"
)

type contextKey string

const identityKey contextKey = "identity"

// Authenticator resolves a bearer token to the calling identity.
type Authenticator interface {
	Authenticate(token string) (domain.Identity, error)
}

// WithIdentity returns a copy of ctx carrying the authenticated caller.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFrom returns the caller stored by AuthMiddleware.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	return identity, ok
}

// AuthMiddleware requires a valid bearer token in the Authorization header.
func AuthMiddleware(auth Authenticator, logger logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
				response.FromError(w, logger, customError.WrapUnauthenticated(nil))
				return
			}

			identity, err := auth.Authenticate(token)
			if err != nil {
				response.FromError(w, logger, customError.WrapUnauthenticated(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RateLimitMiddleware limits requests per authenticated caller. When the
// limiter itself fails the request is let through.
func RateLimitMiddleware(limiter ratelimit.Limiter, logger logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			decision, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				response.FromError(w, logger, customError.WrapRateLimited(decision.RetryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if identity, ok := IdentityFrom(r.Context()); ok {
		return "user:" + identity.UserID.String()
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return "ip:" + host
}
