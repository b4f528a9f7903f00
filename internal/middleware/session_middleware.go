package middleware

import (
	"context"
	"net/http"
	"strings"

	"llm_chat/internal/apperr"
	"llm_chat/internal/auth"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// ClaimsKey is the context key for the verified session claims
	ClaimsKey ContextKey = "sessionClaims"
	// UserIDKey is the context key for the authenticated user id
	UserIDKey ContextKey = "userID"
)

// tokenFromRequest reads the Authorization bearer token, falling back to the session cookie
func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func withClaims(r *http.Request, claims *auth.Claims) *http.Request {
	ctx := context.WithValue(r.Context(), ClaimsKey, claims)
	ctx = context.WithValue(ctx, UserIDKey, claims.UserID())
	return r.WithContext(ctx)
}

// RequireUser rejects requests without a valid session token
func RequireUser(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				apperr.Write(w, apperr.Newf(apperr.Unauthorized, apperr.SurfaceAuth, "Missing authentication token"), apperr.SurfaceAuth)
				return
			}

			claims, err := auth.ParseToken(secret, token)
			if err != nil {
				apperr.Write(w, apperr.Newf(apperr.Unauthorized, apperr.SurfaceAuth, "Invalid or expired token"), apperr.SurfaceAuth)
				return
			}

			next.ServeHTTP(w, withClaims(r, claims))
		})
	}
}

// OptionalUser attaches the user when a valid token is present and passes
// anonymous requests through. Invalid tokens are treated as anonymous.
func OptionalUser(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := tokenFromRequest(r); token != "" {
				if claims, err := auth.ParseToken(secret, token); err == nil {
					r = withClaims(r, claims)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims retrieves the session claims from the request context
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

// GetUserID retrieves the authenticated user id, empty for anonymous requests
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

// WithUserID returns a context carrying userID, for handlers invoked outside the middleware chain
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
