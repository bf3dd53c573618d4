package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// Action is a permission-guarded operation.
type Action string

const (
	ActionEditProject Action = "EDIT_PROJECT"
	ActionViewProject Action = "VIEW_PROJECT"
	ActionEditTask    Action = "EDIT_TASK"
	ActionViewTask    Action = "VIEW_TASK"
	ActionAssignTask  Action = "ASSIGN_TASK"
	ActionManageUsers Action = "MANAGE_USERS"
	ActionAccessAdmin Action = "ACCESS_ADMIN"
)

var ErrUnknownAction = errors.New("unknown action")

// grants lists the minimal roles granting each action. ADMIN is not listed:
// it satisfies every action through Allowed.
var grants = map[Action][]Role{
	ActionEditProject: {RoleProjectManager},
	ActionViewProject: {RoleProjectManager, RoleTeamLead, RoleDeveloper, RoleQA, RoleTeamMember},
	ActionEditTask:    {RoleProjectManager, RoleTeamLead, RoleDeveloper, RoleQA},
	ActionViewTask:    {RoleProjectManager, RoleTeamLead, RoleDeveloper, RoleQA, RoleTeamMember},
	ActionAssignTask:  {RoleProjectManager, RoleTeamLead},
	ActionManageUsers: {},
	ActionAccessAdmin: {},
}

// ParseAction accepts EDIT_PROJECT, edit-project, Edit_Project and so on.
func ParseAction(s string) (Action, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "-", "_")
	a := Action(name)
	if _, ok := grants[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

func (a Action) String() string { return string(a) }

// Allowed reports whether any of roles grants action. Unknown actions and
// empty role sets are denied.
func Allowed(action Action, roles RoleSet) bool {
	granted, ok := grants[action]
	if !ok {
		return false
	}
	if roles.Has(RoleAdmin) {
		return true
	}
	return roles.HasAny(granted...)
}

// GrantingRoles returns the roles that grant action, ADMIN included.
func GrantingRoles(action Action) []Role {
	granted, ok := grants[action]
	if !ok {
		return nil
	}
	out := make([]Role, 0, len(granted)+1)
	out = append(out, RoleAdmin)
	return append(out, granted...)
}
