package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/laporketua/identity/internal/apperror"
)

type loginRequest struct {
	Email    string `json:"email"    validate:"required"`
	Password string `json:"password" validate:"required"`
}

type signupRequest struct {
	Name  string   `json:"name"  validate:"required"`
	Email string   `json:"email" validate:"required,mailshape"`
	Roles []string `json:"roles" validate:"min=1"`
}

func TestIsEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"budi@x.com", true},
		{"a.b+c@sub.domain.id", true},
		{"budi@x", false},
		{"budi x@x.com", false},
		{"budi@@x.com", false},
		{"@x.com", false},
		{"budi@x.", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsEmail(tt.email); got != tt.want {
			t.Errorf("IsEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}

func TestStruct_Valid(t *testing.T) {
	v := New()
	err := v.Struct(signupRequest{Name: "Budi", Email: "budi@x.com", Roles: []string{"teknisi"}})
	if err != nil {
		t.Fatalf("Struct() error = %v", err)
	}
}

func TestStruct_ReportsJSONFieldName(t *testing.T) {
	v := New()

	err := v.Struct(loginRequest{Email: "budi@x.com"})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("Struct() error = %v, want ErrValidation", err)
	}

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("Struct() error is %T, want *AppError", err)
	}
	if appErr.Field != "password" {
		t.Errorf("Field = %q, want %q", appErr.Field, "password")
	}
	if appErr.Message != "password is required" {
		t.Errorf("Message = %q", appErr.Message)
	}
}

func TestStruct_EmailShape(t *testing.T) {
	v := New()
	err := v.Struct(signupRequest{Name: "Budi", Email: "not-an-email", Roles: []string{"teknisi"}})

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Field != "email" {
		t.Fatalf("Struct() error = %v, want validation failure on email", err)
	}
}

func TestStruct_EmptyRoles(t *testing.T) {
	v := New()
	err := v.Struct(signupRequest{Name: "Budi", Email: "budi@x.com"})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("Struct() error = %v, want ErrValidation", err)
	}
}

type passwordRequest struct {
	Password string `json:"password" validate:"omitempty,maxbytes=72"`
}

func TestStruct_MaxBytes(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"empty", "", false},
		{"72 ascii bytes", strings.Repeat("a", 72), false},
		{"73 ascii bytes", strings.Repeat("a", 73), true},
		{"24 euro signs is 72 bytes", strings.Repeat("€", 24), false},
		{"30 euro signs is 90 bytes", strings.Repeat("€", 30), true},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(passwordRequest{Password: tt.password})
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Struct() error = %v", err)
				}
				return
			}

			var appErr *apperror.AppError
			if !errors.As(err, &appErr) || appErr.Field != "password" {
				t.Fatalf("Struct() error = %v, want validation failure on password", err)
			}
			if appErr.Message != "password must be at most 72 bytes" {
				t.Errorf("Message = %q", appErr.Message)
			}
		})
	}
}

func TestEmail(t *testing.T) {
	v := New()
	if err := v.Email("budi@x.com"); err != nil {
		t.Errorf("Email(valid) = %v", err)
	}
	if err := v.Email("budi"); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Email(invalid) = %v, want ErrValidation", err)
	}
}
