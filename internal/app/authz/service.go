package authz

import (
	"context"
	"errors"

	"github.com/astro-web3/projecthub-auth/internal/domain/identity"
	"github.com/astro-web3/projecthub-auth/internal/domain/permission"
	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
	"github.com/astro-web3/projecthub-auth/internal/domain/session"
	"github.com/astro-web3/projecthub-auth/internal/domain/token"
	"github.com/astro-web3/projecthub-auth/pkg/metrics"
	"github.com/astro-web3/projecthub-auth/pkg/tracer"
	"go.opentelemetry.io/otel/attribute"
)

// Service answers the two questions transports ask: who is calling, and
// may they do this.
type Service interface {
	Authenticate(ctx context.Context, accessToken string) (identity.Principal, error)
	Check(ctx context.Context, p identity.Principal, action rbac.Action, resourceID string) (bool, error)
	Require(ctx context.Context, p identity.Principal, action rbac.Action, resourceID string) error
}

type service struct {
	sessions  session.Service
	evaluator *permission.Registry
}

func NewService(sessions session.Service, evaluator *permission.Registry) Service {
	return &service{
		sessions:  sessions,
		evaluator: evaluator,
	}
}

func (s *service) Authenticate(ctx context.Context, accessToken string) (identity.Principal, error) {
	ctx, span := tracer.Start(ctx, "app.authz.Authenticate")
	defer span.End()

	span.SetAttributes(attribute.String("token.prefix", tokenPrefix(accessToken)))

	p, err := s.sessions.Authenticate(ctx, accessToken)
	if err != nil {
		result := validationResult(err)
		metrics.ObserveTokenValidation(result)
		span.SetAttributes(attribute.String("token.result", result))
		return identity.Principal{}, err
	}

	metrics.ObserveTokenValidation("valid")
	span.SetAttributes(
		attribute.String("token.result", "valid"),
		attribute.StringSlice("principal.roles", p.Roles.Strings()),
	)
	return p, nil
}

func (s *service) Check(ctx context.Context, p identity.Principal, action rbac.Action, resourceID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "app.authz.Check")
	defer span.End()

	e, rt, err := s.evaluator.ForAction(action)
	if err != nil {
		return false, err
	}
	allowed := e.Check(ctx, p, action, resourceID)
	span.SetAttributes(
		attribute.String("authz.action", action.String()),
		attribute.String("authz.resource_type", string(rt)),
		attribute.Bool("authz.allowed", allowed),
	)
	return allowed, nil
}

func (s *service) Require(ctx context.Context, p identity.Principal, action rbac.Action, resourceID string) error {
	ctx, span := tracer.Start(ctx, "app.authz.Require")
	defer span.End()

	e, rt, err := s.evaluator.ForAction(action)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("authz.action", action.String()),
		attribute.String("authz.resource_type", string(rt)),
	)

	err = e.Require(ctx, p, action, resourceID)
	span.SetAttributes(attribute.Bool("authz.allowed", err == nil))
	if err != nil && !errors.Is(err, permission.ErrUnauthorized) {
		span.RecordError(err)
	}
	return err
}

func validationResult(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrSignature):
		return "bad_signature"
	case errors.Is(err, token.ErrWrongKind):
		return "wrong_kind"
	case errors.Is(err, token.ErrMalformedToken):
		return "malformed"
	default:
		return "error"
	}
}

const tokenPrefixLength = 8

func tokenPrefix(raw string) string {
	if len(raw) > tokenPrefixLength {
		return raw[:tokenPrefixLength] + "..."
	}
	return "***"
}
