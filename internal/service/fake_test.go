package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/laporketua/identity/internal/apperror"
	"github.com/laporketua/identity/internal/auth"
	"github.com/laporketua/identity/internal/model"
	"github.com/laporketua/identity/internal/repository"
	"github.com/laporketua/identity/internal/validation"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeRepo is an in-memory repository.IdentityRepository.
//
// It counts every call so tests can prove that a forbidden operation never
// reached storage. failWith, when set, is returned by every method.
type fakeRepo struct {
	mu       sync.Mutex
	hasher   repository.PasswordHasher
	users    map[int64]*model.UserDetail
	nextID   int64
	calls    int
	failWith error
}

var _ repository.IdentityRepository = (*fakeRepo)(nil)

func newFakeRepo(hasher repository.PasswordHasher) *fakeRepo {
	return &fakeRepo{
		hasher: hasher,
		users:  make(map[int64]*model.UserDetail),
		nextID: 1,
	}
}

// put stores a user directly, bypassing the call counter.
func (f *fakeRepo) put(t *testing.T, id int64, name, email, password string, profile *model.TechnicianProfile, roles ...model.Role) {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	if err != nil {
		t.Fatalf("hashing seed password: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &model.UserDetail{
		User:    model.User{ID: id, Name: name, Email: email, PasswordHash: hash, CreatedAt: time.Now()},
		Roles:   model.NewRoleSet(roles...),
		Profile: profile,
	}
	if id >= f.nextID {
		f.nextID = id + 1
	}
}

func (f *fakeRepo) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRepo) enter() error {
	f.calls++
	return f.failWith
}

func clone(u *model.UserDetail) *model.UserDetail {
	c := *u
	if u.Profile != nil {
		p := *u.Profile
		c.Profile = &p
	}
	return &c
}

func (f *fakeRepo) CreateUserWithRolesAndProfile(ctx context.Context, u repository.NewUser) (*model.UserDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return nil, err
	}
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return nil, apperror.EmailAlreadyExists(u.Email)
		}
	}
	hash, err := f.hasher.Hash(u.Password)
	if err != nil {
		return nil, err
	}

	id := f.nextID
	f.nextID++
	d := &model.UserDetail{
		User:  model.User{ID: id, Name: u.Name, Email: u.Email, PasswordHash: hash, CreatedAt: time.Now()},
		Roles: model.NewRoleSet(u.Roles...),
	}
	if d.Roles.Has(model.RoleTechnician) && !u.Profile.IsEmpty() {
		n := u.Profile.Normalized()
		d.Profile = &model.TechnicianProfile{UserID: id, Phone: n.Phone, WorkArea: n.WorkArea, Address: n.Address, Coordinates: n.Coordinates}
	}
	f.users[id] = d
	return clone(d), nil
}

func (f *fakeRepo) DeleteUserCascade(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return err
	}
	if _, ok := f.users[userID]; !ok {
		return apperror.NotFound("user", userID)
	}
	delete(f.users, userID)
	return nil
}

func (f *fakeRepo) UpdateTechnicianProfile(ctx context.Context, userID int64, fields model.ProfileFields) (*model.TechnicianProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return nil, err
	}
	u, ok := f.users[userID]
	if !ok || u.Profile == nil {
		return nil, apperror.NotFound("technician profile", userID)
	}
	n := fields.Normalized()
	u.Profile.Phone, u.Profile.WorkArea, u.Profile.Address, u.Profile.Coordinates = n.Phone, n.WorkArea, n.Address, n.Coordinates
	p := *u.Profile
	return &p, nil
}

func (f *fakeRepo) UpdateTechnician(ctx context.Context, userID int64, patch repository.IdentityPatch, fields model.ProfileFields) (*model.UserDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return nil, err
	}
	u, ok := f.users[userID]
	if !ok || u.Profile == nil {
		return nil, apperror.NotFound("technician profile", userID)
	}
	if patch.Email != nil {
		for id, other := range f.users {
			if id != userID && other.Email == *patch.Email {
				return nil, apperror.EmailAlreadyExists(*patch.Email)
			}
		}
		u.Email = *patch.Email
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	n := fields.Normalized()
	u.Profile.Phone, u.Profile.WorkArea, u.Profile.Address, u.Profile.Coordinates = n.Phone, n.WorkArea, n.Address, n.Coordinates
	return clone(u), nil
}

func (f *fakeRepo) GetUserByID(ctx context.Context, id int64) (*model.UserDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return nil, err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return clone(u), nil
}

func (f *fakeRepo) GetUserByEmail(ctx context.Context, email string) (*model.UserDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return nil, err
	}
	for _, u := range f.users {
		if u.Email == email {
			return clone(u), nil
		}
	}
	return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "user not found"}
}

func (f *fakeRepo) GetTechnicianProfile(ctx context.Context, userID int64) (*model.TechnicianProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return nil, err
	}
	u, ok := f.users[userID]
	if !ok || u.Profile == nil {
		return nil, apperror.NotFound("technician profile", userID)
	}
	p := *u.Profile
	return &p, nil
}

func (f *fakeRepo) ListUsersWithRole(ctx context.Context, role model.Role) ([]model.UserDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return nil, err
	}
	out := []model.UserDetail{}
	for id := int64(1); id < f.nextID; id++ {
		if u, ok := f.users[id]; ok && u.Roles.Has(role) {
			out = append(out, *clone(u))
		}
	}
	return out, nil
}

func (f *fakeRepo) SetPasswordHash(ctx context.Context, userID int64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return err
	}
	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeRepo) Ping(ctx context.Context) error { return nil }
func (f *fakeRepo) Close() error                   { return nil }

// harness wires both services over one fake repository, the way server.go
// wires them over a real one.
type harness struct {
	repo      *fakeRepo
	auth      *AuthService
	provision *ProvisioningService
	tokens    *auth.TokenService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	passwords := auth.NewPasswordServiceForTest()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo := newFakeRepo(passwords)
	return &harness{
		repo:      repo,
		auth:      NewAuthService(repo, passwords, tokens, logger),
		provision: NewProvisioningService(repo, passwords, validation.New(), logger),
		tokens:    tokens,
	}
}

func admin(id int64) model.Principal {
	return model.Principal{ID: id, Email: "admin@laporketua.com", Roles: model.NewRoleSet(model.RoleAdmin)}
}

func technician(id int64) model.Principal {
	return model.Principal{ID: id, Email: "teknisi@laporketua.com", Roles: model.NewRoleSet(model.RoleTechnician)}
}

func strPtr(s string) *string { return &s }
