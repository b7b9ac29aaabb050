// Package repository defines the storage contract of the identity backend.
//
// Services depend on IdentityRepository, never on a concrete database. The
// sqlite and postgres sub-packages implement it; tests substitute fakes.
package repository

import (
	"context"

	"github.com/laporketua/identity/internal/model"
)

// PasswordHasher turns a plaintext password into a one-way salted digest.
// The repository hashes inside the provisioning transaction, so it receives
// the hasher at construction.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
}

// NewUser is the input of CreateUserWithRolesAndProfile.
// Profile is applied only when Roles contains the technician role and at
// least one profile field is non-blank.
type NewUser struct {
	Name     string
	Email    string
	Password string
	Roles    []model.Role
	Profile  model.ProfileFields
}

// IdentityPatch optionally changes a user's name and email.
// Nil fields are left untouched.
type IdentityPatch struct {
	Name  *string
	Email *string
}

func (p IdentityPatch) IsEmpty() bool { return p.Name == nil && p.Email == nil }

type IdentityRepository interface {
	// CreateUserWithRolesAndProfile inserts a user, its role links and its
	// optional technician profile in one transaction. A taken email fails
	// with apperror.ErrEmailExists; a role missing from the roles table
	// fails with apperror.ErrValidation. Nothing is stored on failure.
	CreateUserWithRolesAndProfile(ctx context.Context, u NewUser) (*model.UserDetail, error)

	// DeleteUserCascade removes the user's role links, profile and user row
	// in one transaction. apperror.ErrNotFound if the user does not exist.
	DeleteUserCascade(ctx context.Context, userID int64) error

	// UpdateTechnicianProfile fully replaces the profile fields.
	// apperror.ErrNotFound if the user has no profile.
	UpdateTechnicianProfile(ctx context.Context, userID int64, fields model.ProfileFields) (*model.TechnicianProfile, error)

	// UpdateTechnician applies patch to the user row and replaces the
	// profile fields in one transaction.
	UpdateTechnician(ctx context.Context, userID int64, patch IdentityPatch, fields model.ProfileFields) (*model.UserDetail, error)

	GetUserByID(ctx context.Context, id int64) (*model.UserDetail, error)
	// GetUserByEmail matches the email exactly and includes the password hash.
	GetUserByEmail(ctx context.Context, email string) (*model.UserDetail, error)
	GetTechnicianProfile(ctx context.Context, userID int64) (*model.TechnicianProfile, error)
	ListUsersWithRole(ctx context.Context, role model.Role) ([]model.UserDetail, error)

	// SetPasswordHash replaces a user's stored digest.
	SetPasswordHash(ctx context.Context, userID int64, hash string) error

	Ping(ctx context.Context) error
	Close() error
}
