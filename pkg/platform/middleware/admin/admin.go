// Package admin guards administrative endpoints with bearer tokens.
package admin

import (
	"log/slog"
	"net/http"
	"strings"

	"trackgate/pkg/platform/httputil"
	"trackgate/pkg/requestcontext"
)

// RoleAdmin is the role claim required on administrative tokens.
const RoleAdmin = "admin"

// Claims is the subset of token claims the middleware needs.
type Claims struct {
	Subject string
	Role    string
}

// TokenValidator verifies a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// RequireAdmin rejects requests without a valid bearer token (401) and tokens
// whose role is not admin (403). The token subject becomes the request actor.
func RequireAdmin(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized admin access - missing token",
					"request_id", requestID,
				)
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{
					Error:            "unauthorized",
					ErrorDescription: "Missing or invalid Authorization header",
				})
				return
			}

			claims, err := validator.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized admin access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{
					Error:            "unauthorized",
					ErrorDescription: "Invalid or expired token",
				})
				return
			}

			if claims.Role != RoleAdmin {
				logger.WarnContext(ctx, "forbidden admin access - insufficient role",
					"log_type", "audit",
					"subject", claims.Subject,
					"role", claims.Role,
					"request_id", requestID,
				)
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{
					Error:            "forbidden",
					ErrorDescription: "admin role required",
				})
				return
			}

			ctx = requestcontext.WithActor(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
