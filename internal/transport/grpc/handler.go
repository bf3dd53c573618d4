package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/astro-web3/projecthub-auth/internal/app/authz"
	"github.com/astro-web3/projecthub-auth/internal/domain/identity"
	"github.com/astro-web3/projecthub-auth/internal/domain/permission"
	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
	"github.com/astro-web3/projecthub-auth/internal/domain/session"
	"github.com/astro-web3/projecthub-auth/internal/domain/token"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	"github.com/astro-web3/projecthub-auth/pkg/tracer"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/protobuf/types/known/structpb"
)

type SessionService interface {
	Login(ctx context.Context, email, password string) (*session.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*session.Session, error)
	Logout(ctx context.Context, refreshToken string) error
}

type Handler struct {
	sessions SessionService
	authz    authz.Service
	now      func() time.Time
}

func NewHandler(sessions SessionService, authzService authz.Service) AuthServiceHandler {
	return &Handler{sessions: sessions, authz: authzService, now: time.Now}
}

func (h *Handler) Login(ctx context.Context, req *request) (*response, error) {
	ctx, span := tracer.Start(ctx, "transport.grpc.Login")
	defer span.End()

	email, password := field(req.Msg, "email"), field(req.Msg, "password")
	if email == "" || password == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("email and password are required"))
	}

	sess, err := h.sessions.Login(ctx, email, password)
	if err != nil {
		return nil, connectError(ctx, err)
	}
	return h.sessionResponse(sess)
}

func (h *Handler) Refresh(ctx context.Context, req *request) (*response, error) {
	ctx, span := tracer.Start(ctx, "transport.grpc.Refresh")
	defer span.End()

	raw := field(req.Msg, "refreshToken")
	if raw == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("refreshToken is required"))
	}

	sess, err := h.sessions.Refresh(ctx, raw)
	if err != nil {
		return nil, connectError(ctx, err)
	}
	return h.sessionResponse(sess)
}

func (h *Handler) Logout(ctx context.Context, req *request) (*response, error) {
	ctx, span := tracer.Start(ctx, "transport.grpc.Logout")
	defer span.End()

	raw := field(req.Msg, "refreshToken")
	if raw == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("refreshToken is required"))
	}
	if err := h.sessions.Logout(ctx, raw); err != nil {
		return nil, connectError(ctx, err)
	}
	return connect.NewResponse(&structpb.Struct{}), nil
}

// Check authenticates the Authorization header and answers whether the caller
// may perform action on resourceId. A denial is an answer, not an error.
func (h *Handler) Check(ctx context.Context, req *request) (*response, error) {
	ctx, span := tracer.Start(ctx, "transport.grpc.Check")
	defer span.End()

	raw, ok := bearer(req.Header().Get("Authorization"))
	if !ok {
		span.SetAttributes(attribute.Bool("authz.missing_header", true))
		logger.WarnContext(ctx, "missing authorization header")
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("authentication required"))
	}

	p, err := h.authz.Authenticate(ctx, raw)
	if err != nil {
		return nil, connectError(ctx, err)
	}
	setAuditUser(ctx, p.Subject)

	action, err := rbac.ParseAction(field(req.Msg, "action"))
	if err != nil {
		return nil, connectError(ctx, err)
	}
	resourceID := field(req.Msg, "resourceId")

	allowed, err := h.authz.Check(ctx, p, action, resourceID)
	if err != nil {
		return nil, connectError(ctx, err)
	}
	span.SetAttributes(attribute.Bool("authz.allowed", allowed))

	out, err := structpb.NewStruct(map[string]any{
		"allowed": allowed,
		"subject": p.Subject,
		"action":  action.String(),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

func (h *Handler) sessionResponse(sess *session.Session) (*response, error) {
	now := h.now()
	out, err := structpb.NewStruct(map[string]any{
		"accessToken":      sess.AccessToken,
		"refreshToken":     sess.RefreshToken,
		"tokenType":        "Bearer",
		"expiresIn":        seconds(sess.AccessExpiresAt.Sub(now)),
		"refreshExpiresIn": seconds(sess.RefreshExpiresAt.Sub(now)),
		"principal":        principalValue(sess.Principal),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("encode session: %w", err))
	}
	return connect.NewResponse(out), nil
}

func principalValue(p identity.Principal) map[string]any {
	roles := make([]any, 0, len(p.Roles))
	for _, r := range p.Roles.Strings() {
		roles = append(roles, r)
	}
	out := map[string]any{"subject": p.Subject, "roles": roles}
	if p.AccountID != nil {
		out["accountId"] = float64(*p.AccountID)
	}
	return out
}

func seconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d.Round(time.Second) / time.Second)
}

func field(msg *structpb.Struct, name string) string {
	if msg == nil {
		return ""
	}
	return strings.TrimSpace(msg.GetFields()[name].GetStringValue())
}

func bearer(header string) (string, bool) {
	scheme, credential, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	credential = strings.TrimSpace(credential)
	return credential, credential != ""
}

// connectError maps domain errors onto connect codes with the same
// disclosure rules as the HTTP envelope.
func connectError(ctx context.Context, err error) error {
	var denied *permission.DeniedError

	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		return connect.NewError(connect.CodeUnauthenticated, errors.New("invalid email or password"))
	case errors.Is(err, token.ErrInvalidToken):
		return connect.NewError(connect.CodeUnauthenticated, errors.New("invalid or expired token"))
	case errors.As(err, &denied):
		return connect.NewError(connect.CodePermissionDenied, errors.New(denied.Error()))
	case errors.Is(err, permission.ErrLookupFailed):
		return connect.NewError(connect.CodeUnavailable, errors.New("permission lookup unavailable"))
	case errors.Is(err, rbac.ErrUnknownAction), errors.Is(err, permission.ErrUnknownResource):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		logger.ErrorContext(ctx, "rpc failed", slog.String("error", err.Error()))
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
}
