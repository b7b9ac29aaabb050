package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/laporketua/identity/internal/apperror"
	"github.com/laporketua/identity/internal/model"
	"github.com/laporketua/identity/internal/service"
)

// Provisioner is the part of service.ProvisioningService the handler needs.
type Provisioner interface {
	CreateUser(ctx context.Context, caller model.Principal, in service.CreateUserInput) (*service.CreateUserResult, error)
	DeleteUser(ctx context.Context, caller model.Principal, targetID int64) error
	UpdateTechnician(ctx context.Context, caller model.Principal, targetID int64, in service.UpdateTechnicianInput) (*model.UserDetail, error)
	GetOwnTechnicianProfile(ctx context.Context, caller model.Principal) (*model.UserDetail, error)
	UpdateOwnTechnicianProfile(ctx context.Context, caller model.Principal, fields model.ProfileFields) (*model.UserDetail, error)
	ListTechnicians(ctx context.Context, caller model.Principal) ([]model.UserDetail, error)
}

// UserHandler serves the user-management routes under /api/users.
//
// Route gates (authz.RequireRoles) have already run when these methods are
// called; the service checks authorization again, per operation.
type UserHandler struct {
	users  Provisioner
	logger *slog.Logger
}

func NewUserHandler(users Provisioner, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// createdUser is the data of a 201 from HandleCreate.
type createdUser struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Roles     model.RoleSet `json:"roles"`
	CreatedAt time.Time     `json:"createdAt"`
}

// HandleCreate provisions a new user.
//
// HTTP: POST /api/users
// REQUEST BODY:
//
//	{"name":"Budi","email":"budi@x.com","roles":["teknisi"],
//	 "phone":"08123","area_kerja":"Bandung","alamat":null,"koordinat":null}
//
// Without "password" the response carries a one-time "temporaryPassword".
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r, h.logger)
	if !ok {
		return
	}

	var in service.CreateUserInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.users.CreateUser(r.Context(), caller, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	u := res.User
	writeJSON(w, http.StatusCreated, Envelope{
		Success: true,
		Message: "User berhasil dibuat",
		Data: createdUser{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			Roles:     u.Roles,
			CreatedAt: u.CreatedAt,
		},
		TemporaryPassword: res.TemporaryPassword,
	})
}

// HandleDelete removes a user with its roles and profile.
//
// HTTP: DELETE /api/users/{id}
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r, h.logger)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.users.DeleteUser(r.Context(), caller, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeOK(w, http.StatusOK, "User berhasil dihapus", nil)
}

// HandleListTechnicians returns every technician with profile columns.
//
// HTTP: GET /api/users/teknisi
func (h *UserHandler) HandleListTechnicians(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r, h.logger)
	if !ok {
		return
	}

	users, err := h.users.ListTechnicians(r.Context(), caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	views := make([]model.TechnicianView, len(users))
	for i := range users {
		views[i] = users[i].TechnicianView()
	}
	writeOK(w, http.StatusOK, "Data teknisi berhasil diambil", views)
}

// HandleUpdateTechnician replaces a technician's profile; admins may also
// rename or re-email the account.
//
// HTTP: PUT /api/users/teknisi/{id}
func (h *UserHandler) HandleUpdateTechnician(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r, h.logger)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var in service.UpdateTechnicianInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.users.UpdateTechnician(r.Context(), caller, id, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeOK(w, http.StatusOK, "Data teknisi berhasil diperbarui", user.TechnicianView())
}

// HandleGetOwnProfile returns the calling technician's record.
//
// HTTP: GET /api/users/me/teknisi
func (h *UserHandler) HandleGetOwnProfile(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r, h.logger)
	if !ok {
		return
	}

	user, err := h.users.GetOwnTechnicianProfile(r.Context(), caller)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeOK(w, http.StatusOK, "Data profil teknisi berhasil diambil", user.TechnicianView())
}

// HandleUpdateOwnProfile replaces the calling technician's profile.
//
// HTTP: PUT /api/users/me/teknisi
func (h *UserHandler) HandleUpdateOwnProfile(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r, h.logger)
	if !ok {
		return
	}

	var fields model.ProfileFields
	if err := decodeJSON(w, r, &fields); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.users.UpdateOwnTechnicianProfile(r.Context(), caller, fields)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeOK(w, http.StatusOK, "Data profil teknisi berhasil diperbarui", user.TechnicianView())
}

// pathID parses the {id} URL parameter as a positive integer.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("id", "id must be a positive integer")
	}
	return id, nil
}
