package authz

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laporketua/identity/internal/apperror"
	"github.com/laporketua/identity/internal/auth"
	"github.com/laporketua/identity/internal/model"
)

var (
	admin      = model.Principal{ID: 1, Email: "admin@laporketua.com", Roles: model.NewRoleSet(model.RoleAdmin)}
	technician = model.Principal{ID: 7, Email: "budi@x.com", Roles: model.NewRoleSet(model.RoleTechnician)}
	both       = model.Principal{ID: 9, Email: "both@x.com", Roles: model.NewRoleSet(model.RoleAdmin, model.RoleTechnician)}
	nobody     = model.Principal{ID: 11, Email: "none@x.com", Roles: model.NewRoleSet()}
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name     string
		caller   []string
		required []string
		want     bool
	}{
		{"technician on admin route", []string{"teknisi"}, []string{"admin"}, false},
		{"admin+technician on admin route", []string{"admin", "teknisi"}, []string{"admin"}, true},
		{"case-insensitive", []string{"ADMIN"}, []string{"admin"}, true},
		{"OR semantics", []string{"teknisi"}, []string{"admin", "teknisi"}, true},
		{"no caller roles", nil, []string{"admin"}, false},
		{"no required roles", []string{"admin"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Authorize(tt.caller, tt.required); got != tt.want {
				t.Errorf("Authorize(%v, %v) = %v, want %v", tt.caller, tt.required, got, tt.want)
			}
		})
	}
}

func TestSelfOrRole(t *testing.T) {
	tests := []struct {
		name    string
		caller  model.Principal
		ownerID int64
		want    bool
	}{
		{"technician on own profile", technician, 7, true},
		{"technician on another profile", technician, 8, false},
		{"admin on any profile", admin, 8, true},
		{"admin+technician on another profile", both, 8, true},
		{"roleless caller on own id", nobody, 11, true},
		{"zero-value caller", model.Principal{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelfOrRole(tt.caller, tt.ownerID, model.RoleAdmin); got != tt.want {
				t.Errorf("SelfOrRole(id=%d, owner=%d) = %v, want %v", tt.caller.ID, tt.ownerID, got, tt.want)
			}
		})
	}
}

func TestRequire(t *testing.T) {
	assert.NoError(t, Require(admin, model.RoleAdmin))

	err := Require(technician, model.RoleAdmin)
	assert.True(t, errors.Is(err, apperror.ErrForbidden), "got %v", err)
	assert.Equal(t, "requires role: admin", err.Error())

	err = RequireSelfOrRole(technician, 8, model.RoleAdmin)
	assert.True(t, errors.Is(err, apperror.ErrForbidden))
	assert.NoError(t, RequireSelfOrRole(technician, 7, model.RoleAdmin))
}

func TestRequireRoles(t *testing.T) {
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})
	gate := RequireRoles(model.RoleAdmin)(next)

	tests := []struct {
		name       string
		principal  *model.Principal
		wantStatus int
	}{
		{"admin passes", &admin, http.StatusOK},
		{"technician is forbidden", &technician, http.StatusForbidden},
		{"no principal is forbidden", nil, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached = false
			req := httptest.NewRequest(http.MethodPost, "/api/users", nil)
			if tt.principal != nil {
				req = req.WithContext(auth.WithPrincipal(req.Context(), *tt.principal))
			}
			rec := httptest.NewRecorder()
			gate.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantStatus == http.StatusOK, reached, "handler reached")
		})
	}
}

func TestRequireRoles_ForbiddenBody(t *testing.T) {
	gate := RequireRoles(model.RoleAdmin, model.RoleTechnician)(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/users/teknisi", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), nobody))
	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body apperror.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperror.Response{
		Success: false,
		Error:   "forbidden",
		Message: "requires role: admin or teknisi",
	}, body)
}
