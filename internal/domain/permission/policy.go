package permission

import (
	"context"
	"fmt"

	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
)

// RolePolicy consults only the static role table.
type RolePolicy struct{}

func NewRolePolicy() RolePolicy { return RolePolicy{} }

func (RolePolicy) Decide(_ context.Context, req Request) (bool, error) {
	return rbac.Allowed(req.Action, req.Principal.Roles), nil
}

// MembershipPolicy requires the role table to allow the action and, for
// project and task scoped requests that name a resource, the principal to
// belong to that resource. ADMIN skips the lookup.
type MembershipPolicy struct {
	roles  Policy
	lookup MembershipLookup
}

func NewMembershipPolicy(roles Policy, lookup MembershipLookup) *MembershipPolicy {
	return &MembershipPolicy{roles: roles, lookup: lookup}
}

func (p *MembershipPolicy) Decide(ctx context.Context, req Request) (bool, error) {
	allowed, err := p.roles.Decide(ctx, req)
	if err != nil || !allowed {
		return false, err
	}
	if req.Principal.HasRole(rbac.RoleAdmin) || req.ResourceID == "" {
		return true, nil
	}

	var member bool
	switch req.ResourceType {
	case ResourceProject:
		member, err = p.lookup.IsProjectMember(ctx, req.ResourceID, req.Principal.Subject)
	case ResourceTask:
		member, err = p.lookup.IsTaskParticipant(ctx, req.ResourceID, req.Principal.Subject)
	default:
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	return member, nil
}
