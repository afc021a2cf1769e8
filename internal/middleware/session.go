package middleware

import (
	"context"
	"net/http"

	"github.com/PaulBabatuyi/marketchat/internal/auth"
)

// SessionCookie is the name of the HttpOnly cookie carrying the session.
const SessionCookie = "session"

// CSRFHeader carries the anti-forgery token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// context key type for storing session claims in context
type claimsContextKey struct{}

// WithClaims attaches session claims to ctx.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts session claims from the context, if present.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*auth.Claims)
	return c, ok && c != nil
}

// RequireSession rejects requests without a valid session cookie with 401
// and attaches the session claims for the handlers behind it.
func RequireSession(j *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				WriteError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}
			claims, err := j.VerifyToken(cookie.Value)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireCSRF checks the anti-forgery header on unsafe methods. It must run
// after RequireSession. A missing or foreign token is a 403; the session
// itself is fine, so this is not a 401.
func RequireCSRF(j *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}
			token := r.Header.Get(CSRFHeader)
			if token == "" {
				WriteError(w, http.StatusForbidden, "missing csrf token")
				return
			}
			if err := j.VerifyCSRF(token, claims); err != nil {
				WriteError(w, http.StatusForbidden, "invalid csrf token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
