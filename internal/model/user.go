// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// User is the root identity entity. UserRole rows and the optional
// TechnicianProfile are owned by it and never outlive it.
//
// WHY PasswordHash HAS json:"-"?
// The struct travels through services and handlers. Tagging the hash out of
// JSON means no response can ever carry it, even by accident.
type User struct {
	ID           int64     `json:"id"        db:"id"`
	Name         string    `json:"name"      db:"name"`
	Email        string    `json:"email"     db:"email"` // unique, matched exactly (case-sensitive)
	PasswordHash string    `json:"-"         db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// UserRole links one user to one role. (UserID, RoleID) is unique.
type UserRole struct {
	UserID int64 `db:"user_id"`
	RoleID int64 `db:"role_id"`
}

// RoleRecord is a row of the roles reference table.
type RoleRecord struct {
	ID   int64 `db:"id"`
	Name Role  `db:"name"`
}

// TechnicianProfile is the one-to-one operational extension of a technician.
// Address and Coordinates are nullable; Phone and WorkArea are never null
// but may be empty.
type TechnicianProfile struct {
	UserID      int64     `json:"userId"     db:"user_id"`
	Phone       string    `json:"phone"      db:"phone"`
	WorkArea    string    `json:"area_kerja" db:"work_area"`
	Address     *string   `json:"alamat"     db:"address"`
	Coordinates *string   `json:"koordinat"  db:"coordinates"`
	CreatedAt   time.Time `json:"createdAt"  db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt"  db:"updated_at"`
}

// ProfileFields is the writable part of a TechnicianProfile as it arrives
// from a caller. Blank strings count as absent.
type ProfileFields struct {
	Phone       string  `json:"phone"`
	WorkArea    string  `json:"area_kerja"`
	Address     *string `json:"alamat"`
	Coordinates *string `json:"koordinat"`
}

// Normalized applies the full-replace rules: blank phone/area become "",
// blank address/coordinates become nil.
func (f ProfileFields) Normalized() ProfileFields {
	return ProfileFields{
		Phone:       strings.TrimSpace(f.Phone),
		WorkArea:    strings.TrimSpace(f.WorkArea),
		Address:     nullIfBlank(f.Address),
		Coordinates: nullIfBlank(f.Coordinates),
	}
}

// IsEmpty reports whether no field carries a non-blank value.
func (f ProfileFields) IsEmpty() bool {
	n := f.Normalized()
	return n.Phone == "" && n.WorkArea == "" && n.Address == nil && n.Coordinates == nil
}

func nullIfBlank(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// UserDetail is a user joined with its roles and optional profile. This is
// the shape every repository lookup returns.
type UserDetail struct {
	User
	Roles   RoleSet            `json:"roles"`
	Profile *TechnicianProfile `json:"profile,omitempty"`
}

// PublicUser is what leaves the process: identity and roles, no hash.
type PublicUser struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Email string  `json:"email"`
	Roles RoleSet `json:"roles"`
}

func (d *UserDetail) Public() PublicUser {
	return PublicUser{ID: d.ID, Name: d.Name, Email: d.Email, Roles: d.Roles}
}

// TechnicianView flattens a technician and its profile for API responses.
// Profile columns are null when the technician has no profile row.
type TechnicianView struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Roles       RoleSet   `json:"roles"`
	Phone       *string   `json:"phone"`
	WorkArea    *string   `json:"area_kerja"`
	Address     *string   `json:"alamat"`
	Coordinates *string   `json:"koordinat"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (d *UserDetail) TechnicianView() TechnicianView {
	v := TechnicianView{
		ID:        d.ID,
		Name:      d.Name,
		Email:     d.Email,
		Roles:     d.Roles,
		CreatedAt: d.CreatedAt,
	}
	if p := d.Profile; p != nil {
		phone, area := p.Phone, p.WorkArea
		v.Phone = &phone
		v.WorkArea = &area
		v.Address = p.Address
		v.Coordinates = p.Coordinates
	}
	return v
}

// Principal is the authenticated caller, rebuilt from token claims on every
// request.
type Principal struct {
	ID    int64
	Email string
	Roles RoleSet
}
