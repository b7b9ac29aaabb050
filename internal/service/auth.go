// Package service holds the authentication and provisioning business logic.
//
// AuthService is the business logic layer for authentication. It sits between
// the HTTP handlers and the repository/auth utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → IdentityRepository (DB)
//	                   ↘ PasswordService (bcrypt)
//	                   ↘ TokenService (JWT)
//
// KEY RESPONSIBILITIES:
//   - Exchange email + password for a signed token carrying {id, email, roles}
//   - Keep "no such account" and "wrong password" indistinguishable
//   - Resolve the caller's own public record for /api/auth/me
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/laporketua/identity/internal/apperror"
	"github.com/laporketua/identity/internal/auth"
	"github.com/laporketua/identity/internal/metrics"
	"github.com/laporketua/identity/internal/model"
	"github.com/laporketua/identity/internal/repository"
)

// AuthService handles the authentication business logic.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.IdentityRepository → user lookups with roles
//   - passwords  *auth.PasswordService         → bcrypt verification
//   - tokens     *auth.TokenService            → JWT issuance
//   - logger     *slog.Logger                  → structured logging
type AuthService struct {
	users     repository.IdentityRepository
	passwords *auth.PasswordService
	tokens    *auth.TokenService
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.IdentityRepository,
	passwords *auth.PasswordService,
	tokens *auth.TokenService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		passwords: passwords,
		tokens:    tokens,
		logger:    logger,
	}
}

// AuthResult is returned by Authenticate. It bundles the signed token and
// the public user record so the handler can respond in one step.
type AuthResult struct {
	Token string           `json:"token"`
	User  model.PublicUser `json:"user"`
}

// Authenticate verifies email and password and issues a token.
//
// The email is matched exactly. An unknown email and a wrong password both
// fail with apperror.InvalidCredentials, carrying the same message, and both
// cost one bcrypt comparison (see auth.PasswordService.DummyHash).
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			metrics.LoginAttemptsTotal.WithLabelValues(metrics.LoginError).Inc()
			return nil, fmt.Errorf("service/auth: looking up user: %w", err)
		}

		// Burn the same bcrypt time as a real comparison; the result is
		// irrelevant.
		_ = s.passwords.Verify(s.passwords.DummyHash(), password)

		metrics.LoginAttemptsTotal.WithLabelValues(metrics.LoginInvalidCredentials).Inc()
		s.logger.InfoContext(ctx, "login rejected", slog.String("reason", "unknown email"))
		return nil, apperror.InvalidCredentials()
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			// A corrupt stored digest. Still answer "invalid credentials" to
			// the client, but log it loudly.
			s.logger.ErrorContext(ctx, "stored password hash unusable",
				slog.Int64("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.LoginInvalidCredentials).Inc()
		s.logger.InfoContext(ctx, "login rejected",
			slog.Int64("userID", user.ID),
			slog.String("reason", "password mismatch"),
		)
		return nil, apperror.InvalidCredentials()
	}

	token, err := s.tokens.Generate(model.Principal{
		ID:    user.ID,
		Email: user.Email,
		Roles: user.Roles,
	})
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.LoginError).Inc()
		return nil, fmt.Errorf("service/auth: generating token for user %d: %w", user.ID, err)
	}

	metrics.LoginAttemptsTotal.WithLabelValues(metrics.LoginSuccess).Inc()
	s.logger.InfoContext(ctx, "user authenticated",
		slog.Int64("userID", user.ID),
		slog.Any("roles", user.Roles.Names()),
	)

	return &AuthResult{
		Token: token,
		User:  user.Public(),
	}, nil
}

// Me returns the caller's current public record.
//
// Roles come from storage, not from the token, so the response shows a role
// change even while the caller's token still carries the old set.
func (s *AuthService) Me(ctx context.Context, caller model.Principal) (model.PublicUser, error) {
	user, err := s.users.GetUserByID(ctx, caller.ID)
	if err != nil {
		return model.PublicUser{}, fmt.Errorf("service/auth: fetching user %d: %w", caller.ID, err)
	}
	return user.Public(), nil
}
