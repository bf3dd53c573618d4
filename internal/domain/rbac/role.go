package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// Role is one of the fixed account roles. Values are the canonical
// upper-case names carried in token claims.
type Role string

const (
	RoleAdmin          Role = "ADMIN"
	RoleProjectManager Role = "PROJECT_MANAGER"
	RoleTeamLead       Role = "TEAM_LEAD"
	RoleDeveloper      Role = "DEVELOPER"
	RoleQA             Role = "QA"
	RoleTeamMember     Role = "TEAM_MEMBER"
)

const legacyRolePrefix = "ROLE_"

var ErrUnknownRole = errors.New("unknown role")

var knownRoles = map[Role]struct{}{
	RoleAdmin:          {},
	RoleProjectManager: {},
	RoleTeamLead:       {},
	RoleDeveloper:      {},
	RoleQA:             {},
	RoleTeamMember:     {},
}

// AllRoles returns every known role, most privileged first.
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleProjectManager, RoleTeamLead, RoleDeveloper, RoleQA, RoleTeamMember}
}

// ParseRole is the single place where role strings become Roles. It accepts
// any casing, surrounding whitespace, dashes and the legacy "ROLE_" prefix.
func ParseRole(s string) (Role, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.TrimPrefix(name, legacyRolePrefix)
	r := Role(name)
	if _, ok := knownRoles[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

func (r Role) String() string { return string(r) }

// RoleSet is a deduplicated, order-preserving list of roles.
type RoleSet []Role

// NewRoleSet builds a set from roles, dropping duplicates.
func NewRoleSet(roles ...Role) RoleSet {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[Role]struct{}, len(roles))
	set := make(RoleSet, 0, len(roles))
	for _, r := range roles {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		set = append(set, r)
	}
	return set
}

// ParseRoles canonicalizes raw role names. Unknown names are returned
// separately so the caller can decide whether they are fatal.
func ParseRoles(raw []string) (RoleSet, []string) {
	roles := make([]Role, 0, len(raw))
	var unknown []string
	for _, s := range raw {
		r, err := ParseRole(s)
		if err != nil {
			unknown = append(unknown, s)
			continue
		}
		roles = append(roles, r)
	}
	return NewRoleSet(roles...), unknown
}

func (s RoleSet) Has(role Role) bool {
	for _, r := range s {
		if r == role {
			return true
		}
	}
	return false
}

// HasAny reports whether s and roles intersect.
func (s RoleSet) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Strings returns the canonical names, suitable for token claims.
func (s RoleSet) Strings() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}
	return out
}
