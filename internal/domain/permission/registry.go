package permission

import (
	"fmt"

	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
)

// Registry holds one evaluator per resource type, all sharing a policy.
type Registry struct {
	evaluators map[ResourceType]Evaluator
}

func NewRegistry(policy Policy) *Registry {
	return &Registry{evaluators: map[ResourceType]Evaluator{
		ResourceProject: NewProjectEvaluator(policy),
		ResourceTask:    NewTaskEvaluator(policy),
		ResourceSystem:  NewSystemEvaluator(policy),
	}}
}

func (r *Registry) For(rt ResourceType) (Evaluator, error) {
	e, ok := r.evaluators[rt]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, rt)
	}
	return e, nil
}

// ForAction returns the evaluator whose resource type scopes action.
func (r *Registry) ForAction(action rbac.Action) (Evaluator, ResourceType, error) {
	rt, ok := ResourceTypeOf(action)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", rbac.ErrUnknownAction, action)
	}
	e, err := r.For(rt)
	return e, rt, err
}
