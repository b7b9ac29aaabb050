package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/laporketua/identity/internal/auth"
	"github.com/laporketua/identity/internal/model"
	"github.com/laporketua/identity/internal/service"
	"github.com/laporketua/identity/internal/validation"
)

// Authenticator is the part of service.AuthService the handler needs.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*service.AuthResult, error)
	Me(ctx context.Context, caller model.Principal) (model.PublicUser, error)
}

// AuthHandler serves login, logout and the current-user endpoint.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLogin  → check credentials, return the token (body + cookie)
//   - HandleLogout → clear the cookie; the token itself stays valid until expiry
//   - HandleMe     → return the caller's public record
type AuthHandler struct {
	auth      Authenticator
	validate  *validation.Validator
	logger    *slog.Logger
	cookieTTL time.Duration
	secure    bool
}

// NewAuthHandler creates an AuthHandler. cookieTTL should equal the token
// lifetime; secure marks the cookie HTTPS-only.
func NewAuthHandler(a Authenticator, validate *validation.Validator, logger *slog.Logger, cookieTTL time.Duration, secure bool) *AuthHandler {
	return &AuthHandler{
		auth:      a,
		validate:  validate,
		logger:    logger,
		cookieTTL: cookieTTL,
		secure:    secure,
	}
}

type loginRequest struct {
	Email    string `json:"email"    validate:"required"`
	Password string `json:"password" validate:"required"`
}

// HandleLogin exchanges email + password for a token.
//
// HTTP: POST /api/auth/login
// REQUEST BODY: {"email": "budi@x.com", "password": "..."}
// RESPONSE:     {"success":true,"message":"Login berhasil","data":{"token":"...","user":{...}}}
//
// The token is returned in the body for mobile clients and also set as an
// HttpOnly cookie for the web client. RequireAuth accepts either.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	// HttpOnly = JavaScript cannot read this cookie (XSS protection).
	// SameSite=Lax = not sent on cross-site POSTs.
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    result.Token,
		Path:     "/",
		MaxAge:   int(h.cookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	writeOK(w, http.StatusOK, "Login berhasil", result)
}

// HandleLogout acknowledges a logout.
//
// HTTP: POST /api/auth/logout
//
// STATELESS LOGOUT:
// There is no session table, so nothing is revoked server-side. The cookie
// is cleared and mobile clients drop their copy of the token; a copied token
// stays valid until it expires.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // tells the browser to delete the cookie immediately
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	writeOK(w, http.StatusOK, "Logout berhasil. Silakan hapus token dari client side.", nil)
}

// HandleMe returns the currently authenticated user.
//
// HTTP: GET /api/auth/me
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r, h.logger)
	if !ok {
		return
	}

	me, err := h.auth.Me(r.Context(), caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeOK(w, http.StatusOK, "Data user berhasil diambil", me)
}

// principal fetches the caller placed in the context by auth.RequireAuth.
// On a protected route it is always there; if it is not, the route was
// wired without RequireAuth and the request is refused.
func principal(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (model.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		logger.ErrorContext(r.Context(), "protected route reached without a principal",
			slog.String("path", r.URL.Path),
		)
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "authentication required",
		})
		return model.Principal{}, false
	}
	return p, true
}
