// Package validation wraps go-playground/validator for request and input
// structs and turns its errors into apperror validation failures.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/laporketua/identity/internal/apperror"
)

// EmailTag is the struct tag for the accepted email shape.
const EmailTag = "mailshape"

// MaxBytesTag limits a string by its encoded length. The built-in max tag
// counts runes, which lets multi-byte passwords past bcrypt's 72-byte limit.
const MaxBytesTag = "maxbytes"

// emailShape is the only email rule: local@domain.tld with no whitespace
// and exactly one "@". Deliverability is never checked.
var emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Validator validates structs tagged with `validate:"..."`.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator with the mailshape rule registered. Field names in
// messages come from the json tag when there is one.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	// RegisterValidation only fails for an empty tag or a nil func.
	_ = v.RegisterValidation(EmailTag, func(fl validator.FieldLevel) bool {
		return emailShape.MatchString(fl.Field().String())
	})

	_ = v.RegisterValidation(MaxBytesTag, func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			panic(fmt.Sprintf("validation: bad %s param %q", MaxBytesTag, fl.Param()))
		}
		return len(fl.Field().String()) <= limit
	})

	return &Validator{v: v}
}

// Struct validates s. The first failing field becomes an
// apperror.ValidationFailed carrying that field's name; all failures are
// listed in the message.
func (val *Validator) Struct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return fmt.Errorf("validation: %w", err)
	}

	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fieldError(fe))
	}
	return apperror.ValidationFailed(ve[0].Field(), strings.Join(msgs, "; "))
}

// Email checks the email shape alone.
func (val *Validator) Email(email string) error {
	if !IsEmail(email) {
		return apperror.ValidationFailed("email", "email must look like name@domain.tld")
	}
	return nil
}

// IsEmail reports whether email has the accepted shape.
func IsEmail(email string) bool {
	return emailShape.MatchString(email)
}

func fieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case EmailTag:
		return field + " must look like name@domain.tld"
	case "min":
		return fmt.Sprintf("%s must have at least %s item(s)", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case MaxBytesTag:
		return fmt.Sprintf("%s must be at most %s bytes", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}
