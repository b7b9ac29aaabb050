package model

import (
	"encoding/json"
	"slices"
	"strings"
)

// Role is a permission class from the fixed role catalog.
//
// Role names arrive from many places (request bodies, the roles table, token
// claims) and in any letter case. They are parsed into a Role once, at the
// edge, so the rest of the code compares canonical values only.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "teknisi"
)

// Catalog lists every role the system knows, in display order.
var Catalog = []Role{RoleAdmin, RoleTechnician}

// ParseRole maps a role name to its canonical Role, ignoring case and
// surrounding whitespace.
func ParseRole(name string) (Role, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, r := range Catalog {
		if string(r) == n {
			return r, true
		}
	}
	return "", false
}

func (r Role) String() string { return string(r) }

// RoleSet is a normalized set of roles. The zero value is an empty set.
type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// ParseRoleSet parses every name in names. Duplicates collapse. The first
// name outside the catalog is returned as unknown with ok=false.
func ParseRoleSet(names []string) (set RoleSet, unknown string, ok bool) {
	set = make(RoleSet, len(names))
	for _, n := range names {
		r, found := ParseRole(n)
		if !found {
			return nil, n, false
		}
		set[r] = struct{}{}
	}
	return set, "", true
}

// RoleSetFromNames keeps the catalog roles in names and drops the rest.
// Used for token claims, where a stale or foreign role name must not
// grant anything.
func RoleSetFromNames(names []string) RoleSet {
	set := make(RoleSet, len(names))
	for _, n := range names {
		if r, ok := ParseRole(n); ok {
			set[r] = struct{}{}
		}
	}
	return set
}

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// HasAny reports whether s and roles share at least one member.
func (s RoleSet) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Slice returns the roles in catalog order.
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, len(s))
	for _, r := range Catalog {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Names returns the role names in catalog order.
func (s RoleSet) Names() []string {
	roles := s.Slice()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// Equal reports whether both sets hold exactly the same roles.
func (s RoleSet) Equal(other RoleSet) bool {
	return slices.Equal(s.Slice(), other.Slice())
}

// MarshalJSON renders the set as a sorted array of names.
func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON accepts an array of role names; names outside the catalog
// are dropped.
func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = RoleSetFromNames(names)
	return nil
}
