package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/bugtracker/history-stack/common/httputil"
	"github.com/bugtracker/history-stack/common/tokens"
)

const claimsKey = contextKey("claims")

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	Validate(token string) (*tokens.Claims, error)
}

// Auth enforces bearer-token authentication and role checks.
type Auth struct {
	validator TokenValidator
}

func NewAuth(validator TokenValidator) *Auth {
	return &Auth{validator: validator}
}

// RequireRoles admits requests whose token carries at least one of roles.
// With no roles, any valid token is admitted.
func (a *Auth) RequireRoles(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteError(w, http.StatusUnauthorized, "Missing authorization header")
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				httputil.WriteError(w, http.StatusUnauthorized, "Invalid authorization header")
				return
			}

			claims, err := a.validator.Validate(token)
			if err != nil {
				httputil.WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			if len(roles) > 0 && !claims.HasAnyRole(roles...) {
				httputil.WriteError(w, http.StatusForbidden, "Insufficient role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		}
	}
}

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, claims *tokens.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the authenticated caller, or nil.
func ClaimsFromContext(ctx context.Context) *tokens.Claims {
	claims, _ := ctx.Value(claimsKey).(*tokens.Claims)
	return claims
}
