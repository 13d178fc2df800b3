package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/givepool/givepool/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// DonorIDKey is the context key for storing the authenticated donor ID.
	DonorIDKey contextKey = "donor_id"
	// EmailKey is the context key for storing the authenticated donor's email.
	EmailKey contextKey = "email"
	// AdminKey is the context key for the authenticated donor's admin flag.
	AdminKey contextKey = "admin"
)

// GetDonorID extracts the donor ID from the context.
// Returns empty string if not found.
func GetDonorID(ctx context.Context) string {
	donorID, _ := ctx.Value(DonorIDKey).(string)
	return donorID
}

// GetEmail extracts the donor email from the context.
// Returns empty string if not found.
func GetEmail(ctx context.Context) string {
	email, _ := ctx.Value(EmailKey).(string)
	return email
}

// IsAdmin reports whether the context belongs to an administrator.
func IsAdmin(ctx context.Context) bool {
	admin, _ := ctx.Value(AdminKey).(bool)
	return admin
}

// RequireAuth wraps a handler so it only serves requests carrying a valid
// Bearer token. The donor's ID, email, and admin flag are added to the
// request context.
func RequireAuth(jwtManager *auth.JWTManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := claimsFromRequest(jwtManager, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// RequireAdmin wraps a handler so it only serves administrators.
func RequireAdmin(jwtManager *auth.JWTManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := claimsFromRequest(jwtManager, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if !claims.Admin {
			http.Error(w, "administrator role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// OptionalAuth wraps a handler so a valid Bearer token enriches the context
// but requests without one still pass through. Useful for endpoints that are
// open to anyone, like triggering a settlement.
func OptionalAuth(jwtManager *auth.JWTManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, err := claimsFromRequest(jwtManager, r); err == nil {
			r = r.WithContext(withClaims(r.Context(), claims))
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFromRequest(jwtManager *auth.JWTManager, r *http.Request) (*auth.Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, auth.ErrMissingToken
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, auth.ErrInvalidToken
	}
	return jwtManager.Validate(parts[1])
}

func withClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, DonorIDKey, claims.DonorID)
	ctx = context.WithValue(ctx, EmailKey, claims.Email)
	ctx = context.WithValue(ctx, AdminKey, claims.Admin)
	return ctx
}
