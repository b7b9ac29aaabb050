// Package auth issues session tokens and guards routes that need them.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. Client POSTs email + password to /api/auth/login
//  2. The auth service looks the user up, verifies the bcrypt hash and asks
//     TokenService for a signed JWT carrying {id, email, roles}
//  3. Client sends the token back as "Authorization: Bearer <jwt>"
//  4. RequireAuth validates it and puts a model.Principal in the context
//  5. Route gates and services authorize from that Principal alone
//
// WHY JWT?
// Verification needs only the secret, never a database lookup, so there is no
// session table to keep consistent. The price is staleness: a role change
// becomes visible when the user next logs in, at the latest when the token
// expires.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"id":7,"email":"budi@x.com","roles":["teknisi"],"sub":"7","jti":"...","exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"github.com/laporketua/identity/internal/model"
)

const (
	issuer = "laporketua"

	// DefaultTokenTTL is used when NewTokenService receives a zero TTL.
	DefaultTokenTTL = 24 * time.Hour
)

// ErrTokenExpired is returned by Validate for a well-formed but expired token.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService handles JWT creation and validation.
//
// The same HMAC secret signs and verifies, so it must stay private and be
// identical on every instance serving the API.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret and token
// lifetime. The secret should be at least 32 bytes of random data in
// production, e.g. JWT_SECRET=$(openssl rand -hex 32).
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL reports the lifetime of tokens issued by Generate.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// claims is the JWT payload.
//
// id, email and roles are the application claims every request is
// authorized from. "sub" repeats the id as a string because that is where
// generic JWT tooling looks for it. "jti" is a unique xid per token so log
// lines about a token can be correlated without printing the token.
type claims struct {
	UserID int64    `json:"id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// Generate signs a token for p with the service's configured lifetime.
func (s *TokenService) Generate(p model.Principal) (string, error) {
	return s.GenerateWithDuration(p, s.ttl)
}

// GenerateWithDuration signs a token for p that expires after d.
// Tests use a negative d to produce already-expired tokens.
func (s *TokenService) GenerateWithDuration(p model.Principal, d time.Duration) (string, error) {
	if p.ID <= 0 {
		return "", errors.New("auth: principal has no user id")
	}

	now := time.Now()
	c := claims{
		UserID: p.ID,
		Email:  p.Email,
		Roles:  p.Roles.Names(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        xid.New().String(),
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string and returns the caller it
// describes.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Algorithm is HS256 (no "none", no RS/HS confusion)
//   - Issuer matches
//   - Token has an expiry and it is in the future
//
// Role names outside the catalog are dropped rather than rejected; a token
// minted before a role was retired simply loses that role.
func (s *TokenService) Validate(tokenStr string) (model.Principal, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Principal{}, ErrTokenExpired
		}
		return model.Principal{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return model.Principal{}, errors.New("auth: invalid token claims")
	}
	if c.UserID <= 0 || c.Subject != strconv.FormatInt(c.UserID, 10) {
		return model.Principal{}, errors.New("auth: token subject does not match user id")
	}

	return model.Principal{
		ID:    c.UserID,
		Email: c.Email,
		Roles: model.RoleSetFromNames(c.Roles),
	}, nil
}
