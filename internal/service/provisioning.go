package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/laporketua/identity/internal/apperror"
	"github.com/laporketua/identity/internal/auth"
	"github.com/laporketua/identity/internal/authz"
	"github.com/laporketua/identity/internal/metrics"
	"github.com/laporketua/identity/internal/model"
	"github.com/laporketua/identity/internal/repository"
	"github.com/laporketua/identity/internal/validation"
)

// Operation names, used as the "operation" metric label.
const (
	opCreateUser       = "create_user"
	opDeleteUser       = "delete_user"
	opUpdateTechnician = "update_technician"
	opGetOwnProfile    = "get_own_profile"
	opUpdateOwnProfile = "update_own_profile"
	opListTechnicians  = "list_technicians"
	opSeedAdmin        = "seed_admin"
)

// temporaryPasswordLength and temporaryPasswordAlphabet describe passwords
// generated for accounts created without one.
const (
	temporaryPasswordLength   = 8
	temporaryPasswordAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// ProvisioningService creates, updates, lists and deletes user accounts.
//
// AUTHORIZATION FIRST:
// Every operation evaluates the caller's token claims before anything else.
// A denied call returns apperror.ErrForbidden without a single repository
// call, so a forbidden request cannot leave a trace in storage.
type ProvisioningService struct {
	users     repository.IdentityRepository
	passwords *auth.PasswordService
	validate  *validation.Validator
	logger    *slog.Logger

	// generatePassword produces temporary passwords. Tests replace it.
	generatePassword func() (string, error)
}

func NewProvisioningService(
	users repository.IdentityRepository,
	passwords *auth.PasswordService,
	validate *validation.Validator,
	logger *slog.Logger,
) *ProvisioningService {
	return &ProvisioningService{
		users:            users,
		passwords:        passwords,
		validate:         validate,
		logger:           logger,
		generatePassword: TemporaryPassword,
	}
}

// CreateUserInput is the body of POST /api/users. Profile fields sit at the
// top level of the JSON object and only matter when roles include teknisi.
type CreateUserInput struct {
	Name     string   `json:"name"     validate:"required"`
	Email    string   `json:"email"    validate:"required,mailshape"`
	Password string   `json:"password" validate:"omitempty,maxbytes=72"`
	Roles    []string `json:"roles"    validate:"min=1"`
	model.ProfileFields
}

// CreateUserResult carries the new account. TemporaryPassword is set only
// when the input had no password, and is never available again.
type CreateUserResult struct {
	User              *model.UserDetail
	TemporaryPassword string
}

// UpdateTechnicianInput is the body of PUT /api/users/teknisi/{id}.
// Name and Email are honored for admin callers only; blank values count as
// absent. Profile fields are always fully replaced.
type UpdateTechnicianInput struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	model.ProfileFields
}

// CreateUser provisions a user with roles and an optional technician
// profile. Requires the admin role.
//
// VALIDATION ORDER:
//  1. caller is admin            → Forbidden
//  2. name, email, roles present → ValidationFailed
//  3. every role in the catalog  → InvalidRole
//  4. repository transaction     → EmailAlreadyExists, or the stored user
func (s *ProvisioningService) CreateUser(ctx context.Context, caller model.Principal, in CreateUserInput) (res *CreateUserResult, err error) {
	defer func() { observe(opCreateUser, err) }()

	if err := authz.Require(caller, model.RoleAdmin); err != nil {
		return nil, err
	}

	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	roles, unknown, ok := model.ParseRoleSet(in.Roles)
	if !ok {
		return nil, apperror.InvalidRole(unknown)
	}

	password := in.Password
	var temporary string
	if password == "" {
		temporary, err = s.generatePassword()
		if err != nil {
			return nil, fmt.Errorf("service/provisioning: generating temporary password: %w", err)
		}
		password = temporary
	}

	user, err := s.users.CreateUserWithRolesAndProfile(ctx, repository.NewUser{
		Name:     in.Name,
		Email:    in.Email,
		Password: password,
		Roles:    roles.Slice(),
		Profile:  in.ProfileFields,
	})
	if err != nil {
		return nil, fmt.Errorf("service/provisioning: creating user: %w", err)
	}

	s.logger.InfoContext(ctx, "user created",
		slog.Int64("userID", user.ID),
		slog.Int64("by", caller.ID),
		slog.Any("roles", user.Roles.Names()),
		slog.Bool("temporaryPassword", temporary != ""),
	)

	return &CreateUserResult{User: user, TemporaryPassword: temporary}, nil
}

// DeleteUser removes a user with its roles and profile. Requires the admin
// role.
func (s *ProvisioningService) DeleteUser(ctx context.Context, caller model.Principal, targetID int64) (err error) {
	defer func() { observe(opDeleteUser, err) }()

	if err := authz.Require(caller, model.RoleAdmin); err != nil {
		return err
	}

	if err := s.users.DeleteUserCascade(ctx, targetID); err != nil {
		return fmt.Errorf("service/provisioning: deleting user %d: %w", targetID, err)
	}

	s.logger.InfoContext(ctx, "user deleted",
		slog.Int64("userID", targetID),
		slog.Int64("by", caller.ID),
	)
	return nil
}

// UpdateTechnician replaces a technician's profile fields. An admin may
// update anyone and may also change name and email; anyone else may update
// only their own record, and their name/email values are ignored.
func (s *ProvisioningService) UpdateTechnician(ctx context.Context, caller model.Principal, targetID int64, in UpdateTechnicianInput) (user *model.UserDetail, err error) {
	defer func() { observe(opUpdateTechnician, err) }()

	if err := authz.RequireSelfOrRole(caller, targetID, model.RoleAdmin); err != nil {
		return nil, err
	}

	var patch repository.IdentityPatch
	if authz.Allows(caller.Roles, model.RoleAdmin) {
		patch, err = s.identityPatch(in)
		if err != nil {
			return nil, err
		}
	} else if nonBlank(in.Name) != nil || nonBlank(in.Email) != nil {
		s.logger.DebugContext(ctx, "ignoring name/email change from non-admin",
			slog.Int64("userID", targetID),
		)
	}

	user, err = s.users.UpdateTechnician(ctx, targetID, patch, in.ProfileFields)
	if err != nil {
		return nil, fmt.Errorf("service/provisioning: updating technician %d: %w", targetID, err)
	}

	s.logger.InfoContext(ctx, "technician updated",
		slog.Int64("userID", targetID),
		slog.Int64("by", caller.ID),
		slog.Bool("identityChanged", !patch.IsEmpty()),
	)
	return user, nil
}

func (s *ProvisioningService) identityPatch(in UpdateTechnicianInput) (repository.IdentityPatch, error) {
	patch := repository.IdentityPatch{
		Name:  nonBlank(in.Name),
		Email: nonBlank(in.Email),
	}
	if patch.Email != nil {
		if err := s.validate.Email(*patch.Email); err != nil {
			return repository.IdentityPatch{}, err
		}
	}
	return patch, nil
}

// GetOwnTechnicianProfile returns the caller's own record. Requires the
// teknisi role. A technician without a profile row still gets their record,
// with a nil Profile.
func (s *ProvisioningService) GetOwnTechnicianProfile(ctx context.Context, caller model.Principal) (user *model.UserDetail, err error) {
	defer func() { observe(opGetOwnProfile, err) }()

	if err := authz.Require(caller, model.RoleTechnician); err != nil {
		return nil, err
	}

	user, err = s.users.GetUserByID(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("service/provisioning: fetching own profile: %w", err)
	}
	return user, nil
}

// UpdateOwnTechnicianProfile replaces the caller's own profile fields.
// Requires the teknisi role; fails with NotFound when the caller has no
// profile row.
func (s *ProvisioningService) UpdateOwnTechnicianProfile(ctx context.Context, caller model.Principal, fields model.ProfileFields) (user *model.UserDetail, err error) {
	defer func() { observe(opUpdateOwnProfile, err) }()

	if err := authz.Require(caller, model.RoleTechnician); err != nil {
		return nil, err
	}

	profile, err := s.users.UpdateTechnicianProfile(ctx, caller.ID, fields)
	if err != nil {
		return nil, fmt.Errorf("service/provisioning: updating own profile: %w", err)
	}

	user, err = s.users.GetUserByID(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("service/provisioning: fetching own profile: %w", err)
	}
	user.Profile = profile

	s.logger.InfoContext(ctx, "own technician profile updated", slog.Int64("userID", caller.ID))
	return user, nil
}

// ListTechnicians returns every user holding the teknisi role. Requires the
// admin role.
func (s *ProvisioningService) ListTechnicians(ctx context.Context, caller model.Principal) (users []model.UserDetail, err error) {
	defer func() { observe(opListTechnicians, err) }()

	if err := authz.Require(caller, model.RoleAdmin); err != nil {
		return nil, err
	}

	users, err = s.users.ListUsersWithRole(ctx, model.RoleTechnician)
	if err != nil {
		return nil, fmt.Errorf("service/provisioning: listing technicians: %w", err)
	}
	return users, nil
}

// SeedAdmin makes sure an admin account exists for email. A new account
// gets the admin role; an existing one gets its password reset to password.
// Running it twice leaves one account behind.
//
// There is no caller: this runs from the seed command, outside any request.
func (s *ProvisioningService) SeedAdmin(ctx context.Context, name, email, password string) (user *model.UserDetail, err error) {
	defer func() { observe(opSeedAdmin, err) }()

	if err := s.validate.Email(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "admin password must not be empty")
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		hash, err := s.passwords.Hash(password)
		if err != nil {
			return nil, fmt.Errorf("service/provisioning: hashing admin password: %w", err)
		}
		if err := s.users.SetPasswordHash(ctx, existing.ID, hash); err != nil {
			return nil, fmt.Errorf("service/provisioning: resetting admin password: %w", err)
		}
		if !existing.Roles.Has(model.RoleAdmin) {
			s.logger.WarnContext(ctx, "seed account exists without the admin role",
				slog.Int64("userID", existing.ID),
			)
		}
		s.logger.InfoContext(ctx, "admin password reset", slog.Int64("userID", existing.ID))
		return existing, nil

	case errors.Is(err, apperror.ErrNotFound):
		user, err = s.users.CreateUserWithRolesAndProfile(ctx, repository.NewUser{
			Name:     name,
			Email:    email,
			Password: password,
			Roles:    []model.Role{model.RoleAdmin},
		})
		if err != nil {
			return nil, fmt.Errorf("service/provisioning: creating admin: %w", err)
		}
		s.logger.InfoContext(ctx, "admin created", slog.Int64("userID", user.ID))
		return user, nil

	default:
		return nil, fmt.Errorf("service/provisioning: looking up admin: %w", err)
	}
}

// TemporaryPassword returns 8 random characters from [0-9a-z], drawn from
// crypto/rand.
func TemporaryPassword() (string, error) {
	limit := big.NewInt(int64(len(temporaryPasswordAlphabet)))
	buf := make([]byte, temporaryPasswordLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = temporaryPasswordAlphabet[n.Int64()]
	}
	return string(buf), nil
}

func nonBlank(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func observe(operation string, err error) {
	result := "success"
	if err != nil {
		result = apperror.Code(err)
	}
	metrics.ProvisioningOperationsTotal.WithLabelValues(operation, result).Inc()
}
