package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/laporketua/identity/internal/apperror"
	"github.com/laporketua/identity/internal/model"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue accepts any key. A plain string key could be read or
// shadowed by any package that knows the string. A package-private type can
// only be constructed here, so only this package reads or writes the
// principal.
type contextKey string

const principalKey contextKey = "principal"

// TokenCookie is the cookie name accepted as a fallback for browser clients.
const TokenCookie = "token"

// TokenValidator is the part of TokenService the middleware needs.
type TokenValidator interface {
	Validate(token string) (model.Principal, error)
}

// RequireAuth is a middleware that enforces authentication on protected
// routes.
//
// It reads the JWT from the Authorization header ("Bearer <jwt>"), falling
// back to the "token" cookie, validates it, and stores the resulting
// model.Principal in the request context. A missing or invalid token ends
// the request with 401.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractToken(r)
			if raw == "" {
				unauthorized(w, "authentication required")
				return
			}

			p, err := tokens.Validate(raw)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext retrieves the authenticated caller.
//
// Returns (Principal{}, false) when the request did not pass RequireAuth.
func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	return p, ok && p.ID > 0
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="laporketua"`)
	apperror.WriteResponse(w, http.StatusUnauthorized, apperror.Response{
		Error:   "unauthorized",
		Message: message,
	})
}
