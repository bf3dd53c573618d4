package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/app/authz"
	"github.com/astro-web3/projecthub-auth/internal/domain/identity"
	"github.com/astro-web3/projecthub-auth/internal/domain/permission"
	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
	"github.com/astro-web3/projecthub-auth/internal/domain/session"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	"github.com/astro-web3/projecthub-auth/pkg/tracer"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// SessionService is the session lifecycle as seen by transports.
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

func NewHandler(sessions SessionService, authzService authz.Service) *Handler {
	return &Handler{sessions: sessions, authz: authzService, now: time.Now}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type requireRequest struct {
	Action     string `json:"action" binding:"required"`
	ResourceID string `json:"resourceId"`
}

type PrincipalResponse struct {
	Subject   string   `json:"subject"`
	Roles     []string `json:"roles"`
	AccountID *int64   `json:"accountId,omitempty"`
}

type TokenResponse struct {
	AccessToken      string            `json:"accessToken"`
	RefreshToken     string            `json:"refreshToken"`
	TokenType        string            `json:"tokenType"`
	ExpiresIn        int64             `json:"expiresIn"`
	RefreshExpiresIn int64             `json:"refreshExpiresIn"`
	Principal        PrincipalResponse `json:"principal"`
}

type CheckResponse struct {
	Allowed      bool   `json:"allowed"`
	Action       string `json:"action"`
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId,omitempty"`
}

func (h *Handler) Login(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.Login")
	defer span.End()

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "email and password are required")
		return
	}

	sess, err := h.sessions.Login(ctx, req.Email, req.Password)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	respond(c, http.StatusOK, h.tokenResponse(sess))
}

func (h *Handler) Refresh(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.Refresh")
	defer span.End()

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "refreshToken is required")
		return
	}

	sess, err := h.sessions.Refresh(ctx, req.RefreshToken)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	respond(c, http.StatusOK, h.tokenResponse(sess))
}

func (h *Handler) Logout(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.Logout")
	defer span.End()

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "refreshToken is required")
		return
	}

	if err := h.sessions.Logout(ctx, req.RefreshToken); err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Me(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, CodeAccessDenied, "authentication required")
		return
	}
	respond(c, http.StatusOK, principalResponse(p))
}

// Check answers whether the caller may perform action on a resource without
// failing the request.
func (h *Handler) Check(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.Check")
	defer span.End()

	p, ok := principalFrom(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, CodeAccessDenied, "authentication required")
		return
	}

	action, rt, err := parseActionScope(c.Query("action"), c.Query("resourceType"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	resourceID := c.Query("resourceId")

	allowed, err := h.authz.Check(ctx, p, action, resourceID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	span.SetAttributes(attribute.Bool("authz.allowed", allowed))

	respond(c, http.StatusOK, CheckResponse{
		Allowed:      allowed,
		Action:       action.String(),
		ResourceType: string(rt),
		ResourceID:   resourceID,
	})
}

// Require returns 204 when the caller may perform the action, otherwise the
// 403 envelope naming the action and resource.
func (h *Handler) Require(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.Require")
	defer span.End()

	p, ok := principalFrom(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, CodeAccessDenied, "authentication required")
		return
	}

	var req requireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, "action is required")
		return
	}
	action, err := rbac.ParseAction(req.Action)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	if err := h.authz.Require(ctx, p, action, req.ResourceID); err != nil {
		abortWithServiceError(c, err)
		return
	}
	logger.DebugContext(ctx, "permission granted",
		slog.String("action", action.String()),
		slog.String("resource_id", req.ResourceID),
	)
	c.Status(http.StatusNoContent)
}

// parseActionScope parses action and, when given, checks it belongs to the
// named resource type.
func parseActionScope(rawAction, rawType string) (rbac.Action, permission.ResourceType, error) {
	action, err := rbac.ParseAction(rawAction)
	if err != nil {
		return "", "", err
	}
	rt, ok := permission.ResourceTypeOf(action)
	if !ok {
		return "", "", permission.ErrUnknownResource
	}
	if rawType == "" {
		return action, rt, nil
	}

	want, err := permission.ParseResourceType(rawType)
	if err != nil {
		return "", "", err
	}
	if want != rt {
		return "", "", permission.ErrUnsupportedScope
	}
	return action, rt, nil
}

func (h *Handler) tokenResponse(sess *session.Session) TokenResponse {
	now := h.now()
	return TokenResponse{
		AccessToken:      sess.AccessToken,
		RefreshToken:     sess.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        secondsUntil(sess.AccessExpiresAt, now),
		RefreshExpiresIn: secondsUntil(sess.RefreshExpiresAt, now),
		Principal:        principalResponse(sess.Principal),
	}
}

func principalResponse(p identity.Principal) PrincipalResponse {
	return PrincipalResponse{
		Subject:   p.Subject,
		Roles:     p.Roles.Strings(),
		AccountID: p.AccountID,
	}
}

func secondsUntil(t, now time.Time) int64 {
	if d := t.Sub(now); d > 0 {
		return int64(d.Round(time.Second) / time.Second)
	}
	return 0
}
