package middleware

import (
	"errors"
	"net/http"

	"github.com/notewise/notewise/pkg/apperrors"
	"github.com/notewise/notewise/pkg/auth"
	"github.com/notewise/notewise/pkg/httputil"
	"github.com/notewise/notewise/pkg/observability"
)

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	verifier auth.Verifier
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(verifier auth.Verifier, logger *observability.Logger, metrics *observability.Metrics) *AuthMiddleware {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &AuthMiddleware{verifier: verifier, logger: logger, metrics: metrics}
}

// Handler wraps an HTTP handler with authentication. Verified claims and the
// user ID are placed on the request context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			m.reject(w, r, "missing", err)
			return
		}

		claims, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			reason := "invalid"
			var uerr *apperrors.UnauthenticatedError
			if errors.As(err, &uerr) && uerr.Reason == "token expired" {
				reason = "expired"
			}
			m.reject(w, r, reason, err)
			return
		}

		ctx := auth.WithClaims(r.Context(), claims)
		ctx = observability.WithUserID(ctx, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, reason string, err error) {
	m.metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
	observability.FromContextOr(r.Context(), m.logger).
		WithError(err).
		WithField("reason", reason).
		Debug("Rejected unauthenticated request")
	httputil.WriteUnauthorized(w, "authentication required")
}

// UserID returns the authenticated user ID, or "" outside AuthMiddleware
func UserID(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.UserID
	}
	return ""
}
