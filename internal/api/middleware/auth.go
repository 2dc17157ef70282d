package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/claimguard-jp/claimguard/internal/api"
	"github.com/claimguard-jp/claimguard/internal/domain"
)

type contextKey string

const (
	UserKey  contextKey = "user"
	OrgIDKey contextKey = "org_id"
)

// TokenValidator resolves a bearer token to its user.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*domain.User, error)
}

// TokenAuth authenticates requests with a bearer access token and puts
// the resolved user and organization on the request context.
func TokenAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			user, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				api.Error(w, http.StatusUnauthorized, "invalid access token")
				return
			}

			if ident := identityFrom(r.Context()); ident != nil {
				ident.set(user)
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			ctx = context.WithValue(ctx, OrgIDKey, user.OrgID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser returns the authenticated user from context, or nil.
func GetUser(ctx context.Context) *domain.User {
	user, _ := ctx.Value(UserKey).(*domain.User)
	return user
}

// GetOrgID returns the authenticated user's organization id from context.
func GetOrgID(ctx context.Context) string {
	orgID, _ := ctx.Value(OrgIDKey).(string)
	return orgID
}
