package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/astro-web3/projecthub-auth/internal/domain/identity"
	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	"github.com/astro-web3/projecthub-auth/pkg/metrics"
)

// Evaluator is the single choke point handlers call before touching a
// resource. The policy behind it can change without touching call sites.
type Evaluator interface {
	Check(ctx context.Context, p identity.Principal, action rbac.Action, resourceID string) bool
	Require(ctx context.Context, p identity.Principal, action rbac.Action, resourceID string) error
}

type resourceEvaluator struct {
	resource ResourceType
	policy   Policy
}

func NewProjectEvaluator(policy Policy) Evaluator {
	return &resourceEvaluator{resource: ResourceProject, policy: policy}
}

func NewTaskEvaluator(policy Policy) Evaluator {
	return &resourceEvaluator{resource: ResourceTask, policy: policy}
}

func NewSystemEvaluator(policy Policy) Evaluator {
	return &resourceEvaluator{resource: ResourceSystem, policy: policy}
}

func (e *resourceEvaluator) Check(ctx context.Context, p identity.Principal, action rbac.Action, resourceID string) bool {
	allowed, err := e.decide(ctx, p, action, resourceID)
	if err != nil {
		logger.WarnContext(ctx, "permission check failed",
			slog.String("subject", p.Subject),
			slog.String("action", action.String()),
			slog.String("resource_type", string(e.resource)),
			slog.String("resource_id", resourceID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return allowed
}

func (e *resourceEvaluator) Require(ctx context.Context, p identity.Principal, action rbac.Action, resourceID string) error {
	allowed, err := e.decide(ctx, p, action, resourceID)
	if errors.Is(err, ErrLookupFailed) {
		logger.ErrorContext(ctx, "permission lookup failed",
			slog.String("subject", p.Subject),
			slog.String("action", action.String()),
			slog.String("resource_type", string(e.resource)),
			slog.String("resource_id", resourceID),
			slog.String("error", err.Error()),
		)
		return err
	}
	if err == nil && allowed {
		return nil
	}

	denied := &DeniedError{
		Action:        action,
		ResourceType:  e.resource,
		ResourceID:    resourceID,
		RequiredRoles: rbac.GrantingRoles(action),
	}
	logger.WarnContext(ctx, "permission denied",
		slog.String("subject", p.Subject),
		slog.String("action", action.String()),
		slog.String("resource_type", string(e.resource)),
		slog.String("resource_id", resourceID),
		slog.Any("roles", p.Roles.Strings()),
		slog.Any("required_roles", denied.RequiredRoles),
	)
	return denied
}

func (e *resourceEvaluator) decide(ctx context.Context, p identity.Principal, action rbac.Action, resourceID string) (bool, error) {
	if scope, ok := ResourceTypeOf(action); !ok || scope != e.resource {
		metrics.ObserveDecision(string(e.resource), action.String(), false)
		return false, fmt.Errorf("%w: %s on %s", ErrUnsupportedScope, action, e.resource)
	}
	if p.IsZero() {
		metrics.ObserveDecision(string(e.resource), action.String(), false)
		return false, nil
	}

	allowed, err := e.policy.Decide(ctx, Request{
		Principal:    p,
		Action:       action,
		ResourceType: e.resource,
		ResourceID:   resourceID,
	})
	metrics.ObserveDecision(string(e.resource), action.String(), allowed && err == nil)
	return allowed, err
}
