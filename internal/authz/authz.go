// Package authz decides whether a caller may perform an operation.
//
// Every decision is a pure function of the caller's token claims (id and
// roles) and the operation's requirement. Nothing here touches storage, so a
// denied request is rejected before any repository work can start.
//
// TWO MODES:
//   - role mode: the caller needs ANY one of the required roles (OR, not AND)
//   - self-or-role mode: the caller holds one of the privileged roles, OR the
//     caller's id equals the id of the resource owner
package authz

import (
	"net/http"
	"strings"

	"github.com/laporketua/identity/internal/apperror"
	"github.com/laporketua/identity/internal/auth"
	"github.com/laporketua/identity/internal/model"
)

// Authorize reports whether callerRoles and requiredRoles share at least one
// name, compared case-insensitively.
//
//	Authorize([]string{"teknisi"}, []string{"admin"})          == false
//	Authorize([]string{"ADMIN", "teknisi"}, []string{"admin"}) == true
func Authorize(callerRoles, requiredRoles []string) bool {
	for _, have := range callerRoles {
		for _, want := range requiredRoles {
			if strings.EqualFold(strings.TrimSpace(have), strings.TrimSpace(want)) {
				return true
			}
		}
	}
	return false
}

// Allows is Authorize over already-normalized roles.
func Allows(caller model.RoleSet, required ...model.Role) bool {
	return caller.HasAny(required...)
}

// SelfOrRole grants access when the caller holds one of roles or is the
// owner of the resource.
func SelfOrRole(caller model.Principal, ownerID int64, roles ...model.Role) bool {
	if Allows(caller.Roles, roles...) {
		return true
	}
	return caller.ID > 0 && caller.ID == ownerID
}

// Require returns a Forbidden error unless the caller holds one of roles.
func Require(caller model.Principal, roles ...model.Role) error {
	if Allows(caller.Roles, roles...) {
		return nil
	}
	return apperror.Forbidden(requirement(roles))
}

// RequireSelfOrRole returns a Forbidden error unless SelfOrRole grants
// access.
func RequireSelfOrRole(caller model.Principal, ownerID int64, roles ...model.Role) error {
	if SelfOrRole(caller, ownerID, roles...) {
		return nil
	}
	return apperror.Forbidden("you may only access your own profile")
}

// RequireRoles is the route-level gate. It must run after auth.RequireAuth.
// A request without a principal, or whose principal holds none of roles,
// gets 403 and never reaches the handler.
func RequireRoles(roles ...model.Role) func(http.Handler) http.Handler {
	msg := requirement(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok || !Allows(p.Roles, roles...) {
				apperror.WriteResponse(w, http.StatusForbidden, apperror.Response{
					Error:   apperror.Code(apperror.ErrForbidden),
					Message: msg,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requirement(roles []model.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return "requires role: " + strings.Join(names, " or ")
}
