package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/astro-web3/projecthub-auth/internal/domain/identity"
	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
)

type ResourceType string

const (
	ResourceProject ResourceType = "project"
	ResourceTask    ResourceType = "task"
	ResourceSystem  ResourceType = "system"
)

var (
	// ErrUnauthorized is returned, wrapped in a *DeniedError, when an
	// authenticated principal lacks permission.
	ErrUnauthorized     = errors.New("unauthorized")
	ErrLookupFailed     = errors.New("permission lookup failed")
	ErrUnknownResource  = errors.New("unknown resource type")
	ErrUnsupportedScope = errors.New("action does not apply to resource type")
)

// Request is a single permission question. ResourceID may be empty for
// actions that are not scoped to one resource.
type Request struct {
	Principal    identity.Principal
	Action       rbac.Action
	ResourceType ResourceType
	ResourceID   string
}

// DeniedError names the refused action and resource. Both are safe to show
// to the caller.
type DeniedError struct {
	Action       rbac.Action
	ResourceType ResourceType
	ResourceID   string
	// RequiredRoles is for logs only; it never reaches the caller.
	RequiredRoles []rbac.Role
}

func (e *DeniedError) Error() string {
	if e.ResourceID == "" {
		return fmt.Sprintf("not permitted to %s on %s", e.Action, e.ResourceType)
	}
	return fmt.Sprintf("not permitted to %s on %s %s", e.Action, e.ResourceType, e.ResourceID)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrUnauthorized
}

// Policy decides a permission request. An error means the decision could not
// be made; callers treat it as a denial.
type Policy interface {
	Decide(ctx context.Context, req Request) (bool, error)
}

// MembershipLookup answers relationship questions owned by the project
// service.
type MembershipLookup interface {
	IsProjectMember(ctx context.Context, projectID, subject string) (bool, error)
	IsTaskParticipant(ctx context.Context, taskID, subject string) (bool, error)
}

// ParseResourceType accepts the lower-case resource names.
func ParseResourceType(s string) (ResourceType, error) {
	switch rt := ResourceType(s); rt {
	case ResourceProject, ResourceTask, ResourceSystem:
		return rt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, s)
	}
}

// ResourceTypeOf returns the resource type an action is scoped to.
func ResourceTypeOf(action rbac.Action) (ResourceType, bool) {
	switch action {
	case rbac.ActionEditProject, rbac.ActionViewProject:
		return ResourceProject, true
	case rbac.ActionEditTask, rbac.ActionViewTask, rbac.ActionAssignTask:
		return ResourceTask, true
	case rbac.ActionManageUsers, rbac.ActionAccessAdmin:
		return ResourceSystem, true
	default:
		return "", false
	}
}
