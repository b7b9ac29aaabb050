package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laporketua/identity/internal/apperror"
	"github.com/laporketua/identity/internal/auth"
	"github.com/laporketua/identity/internal/handler"
	"github.com/laporketua/identity/internal/model"
	"github.com/laporketua/identity/internal/service"
	"github.com/laporketua/identity/internal/validation"
)

// =========================================================================
// MOCKS AND HELPERS
// =========================================================================

// MockAuth implements handler.Authenticator.
type MockAuth struct {
	CapturedEmail string
	ReturnResult  *service.AuthResult
	ReturnUser    model.PublicUser
	ReturnErr     error
}

func (m *MockAuth) Authenticate(ctx context.Context, email, password string) (*service.AuthResult, error) {
	m.CapturedEmail = email
	return m.ReturnResult, m.ReturnErr
}

func (m *MockAuth) Me(ctx context.Context, caller model.Principal) (model.PublicUser, error) {
	return m.ReturnUser, m.ReturnErr
}

// MockProvisioner implements handler.Provisioner. Each method records its
// arguments and returns the configured values.
type MockProvisioner struct {
	CapturedCaller model.Principal
	CapturedID     int64
	CapturedCreate service.CreateUserInput
	CapturedUpdate service.UpdateTechnicianInput
	CapturedFields model.ProfileFields

	ReturnCreate *service.CreateUserResult
	ReturnUser   *model.UserDetail
	ReturnList   []model.UserDetail
	ReturnErr    error
}

func (m *MockProvisioner) CreateUser(ctx context.Context, caller model.Principal, in service.CreateUserInput) (*service.CreateUserResult, error) {
	m.CapturedCaller, m.CapturedCreate = caller, in
	return m.ReturnCreate, m.ReturnErr
}

func (m *MockProvisioner) DeleteUser(ctx context.Context, caller model.Principal, targetID int64) error {
	m.CapturedCaller, m.CapturedID = caller, targetID
	return m.ReturnErr
}

func (m *MockProvisioner) UpdateTechnician(ctx context.Context, caller model.Principal, targetID int64, in service.UpdateTechnicianInput) (*model.UserDetail, error) {
	m.CapturedCaller, m.CapturedID, m.CapturedUpdate = caller, targetID, in
	return m.ReturnUser, m.ReturnErr
}

func (m *MockProvisioner) GetOwnTechnicianProfile(ctx context.Context, caller model.Principal) (*model.UserDetail, error) {
	m.CapturedCaller = caller
	return m.ReturnUser, m.ReturnErr
}

func (m *MockProvisioner) UpdateOwnTechnicianProfile(ctx context.Context, caller model.Principal, fields model.ProfileFields) (*model.UserDetail, error) {
	m.CapturedCaller, m.CapturedFields = caller, fields
	return m.ReturnUser, m.ReturnErr
}

func (m *MockProvisioner) ListTechnicians(ctx context.Context, caller model.Principal) ([]model.UserDetail, error) {
	m.CapturedCaller = caller
	return m.ReturnList, m.ReturnErr
}

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var adminCaller = model.Principal{ID: 1, Email: "admin@laporketua.com", Roles: model.NewRoleSet(model.RoleAdmin)}

// userRouter mounts the user handler on the real paths so chi fills {id}.
func userRouter(p handler.Provisioner) http.Handler {
	h := handler.NewUserHandler(p, testLogger)
	r := chi.NewRouter()
	r.Post("/api/users", h.HandleCreate)
	r.Delete("/api/users/{id}", h.HandleDelete)
	r.Get("/api/users/teknisi", h.HandleListTechnicians)
	r.Put("/api/users/teknisi/{id}", h.HandleUpdateTechnician)
	r.Get("/api/users/me/teknisi", h.HandleGetOwnProfile)
	r.Put("/api/users/me/teknisi", h.HandleUpdateOwnProfile)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, caller *model.Principal) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), *caller))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body), "body: %s", rr.Body.String())
	return body
}

// =========================================================================
// AUTH HANDLER TESTS
// =========================================================================

func TestAuthHandler_HandleLogin(t *testing.T) {
	t.Run("valid credentials", func(t *testing.T) {
		mock := &MockAuth{ReturnResult: &service.AuthResult{
			Token: "jwt-token",
			User:  model.PublicUser{ID: 7, Name: "Budi", Email: "budi@x.com", Roles: model.NewRoleSet(model.RoleTechnician)},
		}}
		h := handler.NewAuthHandler(mock, validation.New(), testLogger, time.Hour, false)

		rr := do(t, http.HandlerFunc(h.HandleLogin), http.MethodPost, "/api/auth/login",
			`{"email":"budi@x.com","password":"rahasia"}`, nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "budi@x.com", mock.CapturedEmail)

		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, auth.TokenCookie, cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)

		body := decode(t, rr)
		assert.Equal(t, true, body["success"])
		data := body["data"].(map[string]any)
		assert.Equal(t, "jwt-token", data["token"])
		user := data["user"].(map[string]any)
		assert.Equal(t, []any{"teknisi"}, user["roles"])
		assert.NotContains(t, user, "passwordHash")
	})

	t.Run("invalid credentials is 401", func(t *testing.T) {
		mock := &MockAuth{ReturnErr: apperror.InvalidCredentials()}
		h := handler.NewAuthHandler(mock, validation.New(), testLogger, time.Hour, false)

		rr := do(t, http.HandlerFunc(h.HandleLogin), http.MethodPost, "/api/auth/login",
			`{"email":"budi@x.com","password":"salah"}`, nil)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		body := decode(t, rr)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "invalid_credentials", body["error"])
	})

	t.Run("missing password is 400 before the service", func(t *testing.T) {
		mock := &MockAuth{}
		h := handler.NewAuthHandler(mock, validation.New(), testLogger, time.Hour, false)

		rr := do(t, http.HandlerFunc(h.HandleLogin), http.MethodPost, "/api/auth/login",
			`{"email":"budi@x.com"}`, nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, mock.CapturedEmail)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		h := handler.NewAuthHandler(&MockAuth{}, validation.New(), testLogger, time.Hour, false)
		rr := do(t, http.HandlerFunc(h.HandleLogin), http.MethodPost, "/api/auth/login", `{"email":`, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAuthHandler_HandleLogout(t *testing.T) {
	h := handler.NewAuthHandler(&MockAuth{}, validation.New(), testLogger, time.Hour, false)
	rr := do(t, http.HandlerFunc(h.HandleLogout), http.MethodPost, "/api/auth/logout", "", &adminCaller)

	assert.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestAuthHandler_HandleMe(t *testing.T) {
	mock := &MockAuth{ReturnUser: model.PublicUser{ID: 1, Name: "Admin", Roles: model.NewRoleSet(model.RoleAdmin)}}
	h := handler.NewAuthHandler(mock, validation.New(), testLogger, time.Hour, false)

	rr := do(t, http.HandlerFunc(h.HandleMe), http.MethodGet, "/api/auth/me", "", &adminCaller)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, http.HandlerFunc(h.HandleMe), http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// =========================================================================
// USER HANDLER TESTS
// =========================================================================

func TestUserHandler_HandleCreate(t *testing.T) {
	t.Run("temporary password is returned at top level", func(t *testing.T) {
		mock := &MockProvisioner{ReturnCreate: &service.CreateUserResult{
			User: &model.UserDetail{
				User:  model.User{ID: 7, Name: "Budi", Email: "budi@x.com", PasswordHash: "$2a$secret"},
				Roles: model.NewRoleSet(model.RoleTechnician),
			},
			TemporaryPassword: "a1b2c3d4",
		}}

		rr := do(t, userRouter(mock), http.MethodPost, "/api/users",
			`{"name":"Budi","email":"budi@x.com","roles":["teknisi"],"phone":"08123","area_kerja":"Bandung"}`, &adminCaller)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.NotContains(t, rr.Body.String(), "$2a$secret")

		body := decode(t, rr)
		assert.Equal(t, "a1b2c3d4", body["temporaryPassword"])
		assert.Equal(t, float64(7), body["data"].(map[string]any)["id"])

		// Profile fields are read from the top level of the body.
		assert.Equal(t, "08123", mock.CapturedCreate.Phone)
		assert.Equal(t, "Bandung", mock.CapturedCreate.WorkArea)
		assert.Equal(t, []string{"teknisi"}, mock.CapturedCreate.Roles)
	})

	t.Run("supplied password means no temporaryPassword key", func(t *testing.T) {
		mock := &MockProvisioner{ReturnCreate: &service.CreateUserResult{
			User: &model.UserDetail{User: model.User{ID: 8}, Roles: model.NewRoleSet(model.RoleAdmin)},
		}}
		rr := do(t, userRouter(mock), http.MethodPost, "/api/users",
			`{"name":"A","email":"a@x.com","password":"pw","roles":["admin"]}`, &adminCaller)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.NotContains(t, decode(t, rr), "temporaryPassword")
	})
}

func TestUserHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"forbidden", apperror.Forbidden("requires role: admin"), http.StatusForbidden, "forbidden"},
		{"email taken", apperror.EmailAlreadyExists("budi@x.com"), http.StatusConflict, "email_already_exists"},
		{"invalid role", apperror.InvalidRole("supervisor"), http.StatusBadRequest, "validation_error"},
		{"not found", apperror.NotFound("user", 9), http.StatusNotFound, "not_found"},
		{"storage failure", errors.New("sqlite: disk I/O error"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockProvisioner{ReturnErr: tt.err}
			rr := do(t, userRouter(mock), http.MethodPost, "/api/users",
				`{"name":"Budi","email":"budi@x.com","roles":["teknisi"]}`, &adminCaller)

			assert.Equal(t, tt.wantStatus, rr.Code)
			body := decode(t, rr)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantKind, body["error"])
			assert.NotContains(t, body["message"], "sqlite")
		})
	}
}

func TestUserHandler_HandleDelete(t *testing.T) {
	mock := &MockProvisioner{}
	rr := do(t, userRouter(mock), http.MethodDelete, "/api/users/8", "", &adminCaller)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(8), mock.CapturedID)
	assert.Equal(t, adminCaller.ID, mock.CapturedCaller.ID)
}

func TestUserHandler_BadPathID(t *testing.T) {
	for _, path := range []string{"/api/users/abc", "/api/users/0", "/api/users/-3"} {
		mock := &MockProvisioner{}
		rr := do(t, userRouter(mock), http.MethodDelete, path, "", &adminCaller)

		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
		assert.Zero(t, mock.CapturedID, "service must not be called for %s", path)
	}
}

func TestUserHandler_HandleUpdateTechnician(t *testing.T) {
	mock := &MockProvisioner{ReturnUser: &model.UserDetail{
		User:    model.User{ID: 7, Name: "Budi"},
		Roles:   model.NewRoleSet(model.RoleTechnician),
		Profile: &model.TechnicianProfile{UserID: 7, Phone: "0899"},
	}}

	rr := do(t, userRouter(mock), http.MethodPut, "/api/users/teknisi/7",
		`{"name":"Budi S","phone":"0899","alamat":"Jl. Asia Afrika"}`, &adminCaller)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(7), mock.CapturedID)
	require.NotNil(t, mock.CapturedUpdate.Name)
	assert.Equal(t, "Budi S", *mock.CapturedUpdate.Name)
	require.NotNil(t, mock.CapturedUpdate.Address)
	assert.Equal(t, "Jl. Asia Afrika", *mock.CapturedUpdate.Address)

	data := decode(t, rr)["data"].(map[string]any)
	assert.Equal(t, "0899", data["phone"])
}

func TestUserHandler_HandleGetOwnProfile_NullFields(t *testing.T) {
	tech := model.Principal{ID: 7, Roles: model.NewRoleSet(model.RoleTechnician)}
	mock := &MockProvisioner{ReturnUser: &model.UserDetail{
		User:  model.User{ID: 7, Name: "Budi"},
		Roles: model.NewRoleSet(model.RoleTechnician),
	}}

	rr := do(t, userRouter(mock), http.MethodGet, "/api/users/me/teknisi", "", &tech)

	assert.Equal(t, http.StatusOK, rr.Code)
	data := decode(t, rr)["data"].(map[string]any)
	assert.Contains(t, data, "phone")
	assert.Nil(t, data["phone"])
	assert.Nil(t, data["koordinat"])
	assert.Equal(t, int64(7), mock.CapturedCaller.ID)
}

func TestUserHandler_HandleUpdateOwnProfile(t *testing.T) {
	tech := model.Principal{ID: 7, Roles: model.NewRoleSet(model.RoleTechnician)}
	mock := &MockProvisioner{ReturnUser: &model.UserDetail{
		User:    model.User{ID: 7},
		Profile: &model.TechnicianProfile{UserID: 7, Phone: "0899"},
	}}

	rr := do(t, userRouter(mock), http.MethodPut, "/api/users/me/teknisi", `{"phone":"0899","koordinat":"-6.9,107.6"}`, &tech)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "0899", mock.CapturedFields.Phone)
	require.NotNil(t, mock.CapturedFields.Coordinates)
}

func TestUserHandler_HandleListTechnicians(t *testing.T) {
	mock := &MockProvisioner{ReturnList: []model.UserDetail{
		{User: model.User{ID: 7, Name: "Budi"}, Roles: model.NewRoleSet(model.RoleTechnician)},
		{User: model.User{ID: 9, Name: "Sari"}, Roles: model.NewRoleSet(model.RoleTechnician)},
	}}

	rr := do(t, userRouter(mock), http.MethodGet, "/api/users/teknisi", "", &adminCaller)

	assert.Equal(t, http.StatusOK, rr.Code)
	data := decode(t, rr)["data"].([]any)
	assert.Len(t, data, 2)
}
