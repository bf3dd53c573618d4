package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/astro-web3/projecthub-auth/internal/domain/session"
	"github.com/astro-web3/projecthub-auth/internal/domain/token"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	"github.com/astro-web3/projecthub-auth/pkg/metrics"
	"github.com/astro-web3/projecthub-auth/pkg/tracer"
	"go.opentelemetry.io/otel/attribute"
)

// Service exposes the session lifecycle to transports with tracing and
// metrics around the domain service.
type Service struct {
	domainService session.Service
}

func NewService(domainService session.Service) *Service {
	return &Service{domainService: domainService}
}

func (s *Service) Login(ctx context.Context, email, password string) (*session.Session, error) {
	ctx, span := tracer.Start(ctx, "app.session.Login")
	defer span.End()

	sess, err := s.domainService.Login(ctx, session.Credentials{Email: email, Password: password})
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		metrics.ObserveLogin("invalid_credentials")
		span.SetAttributes(attribute.String("session.result", "invalid_credentials"))
		return nil, err
	case err != nil:
		metrics.ObserveLogin("error")
		span.RecordError(err)
		logger.ErrorContext(ctx, "login failed", slog.String("error", err.Error()))
		return nil, err
	}

	metrics.ObserveLogin("success")
	span.SetAttributes(attribute.String("session.result", "success"))
	logger.InfoContext(ctx, "login succeeded", slog.String("subject", sess.Principal.Subject))
	return sess, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (*session.Session, error) {
	ctx, span := tracer.Start(ctx, "app.session.Refresh")
	defer span.End()

	sess, err := s.domainService.Refresh(ctx, refreshToken)
	if err != nil {
		if !errors.Is(err, token.ErrInvalidToken) {
			span.RecordError(err)
			logger.ErrorContext(ctx, "refresh failed", slog.String("error", err.Error()))
		}
		return nil, err
	}

	logger.InfoContext(ctx, "session refreshed", slog.String("subject", sess.Principal.Subject))
	return sess, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	ctx, span := tracer.Start(ctx, "app.session.Logout")
	defer span.End()

	if err := s.domainService.Logout(ctx, refreshToken); err != nil {
		if !errors.Is(err, token.ErrInvalidToken) {
			span.RecordError(err)
			logger.ErrorContext(ctx, "logout failed", slog.String("error", err.Error()))
		}
		return err
	}
	return nil
}
