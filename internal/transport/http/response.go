package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/domain/permission"
	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
	"github.com/astro-web3/projecthub-auth/internal/domain/session"
	"github.com/astro-web3/projecthub-auth/internal/domain/token"
	"github.com/gin-gonic/gin"
)

const (
	CodeAccessDenied       = "ACCESS_DENIED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeRateLimited        = "RATE_LIMITED"
	CodeUnavailable        = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

type SuccessResponse struct {
	Success bool  `json:"success"`
	Data    any   `json:"data"`
	Meta    *Meta `json:"meta,omitempty"`
}

type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   APIError `json:"error"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Meta struct {
	Timestamp time.Time `json:"timestamp"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, SuccessResponse{
		Success: true,
		Data:    data,
		Meta:    &Meta{Timestamp: time.Now().UTC()},
	})
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Success: false,
		Error:   APIError{Code: code, Message: message},
	})
}

// abortWithServiceError maps domain errors onto the envelope. Credential and
// token failures get fixed messages so callers cannot tell causes apart;
// permission denials name the action and resource.
func abortWithServiceError(c *gin.Context, err error) {
	var denied *permission.DeniedError

	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		abortWithError(c, http.StatusUnauthorized, CodeInvalidCredentials, "invalid email or password")
	case errors.Is(err, token.ErrInvalidToken):
		abortWithError(c, http.StatusUnauthorized, CodeInvalidToken, "invalid or expired token")
	case errors.As(err, &denied):
		abortWithError(c, http.StatusForbidden, CodeUnauthorized, denied.Error())
	case errors.Is(err, permission.ErrUnauthorized):
		abortWithError(c, http.StatusForbidden, CodeUnauthorized, "not permitted")
	case errors.Is(err, permission.ErrLookupFailed):
		_ = c.Error(err)
		abortWithError(c, http.StatusServiceUnavailable, CodeUnavailable, "permission lookup unavailable")
	case errors.Is(err, rbac.ErrUnknownAction), errors.Is(err, permission.ErrUnknownResource),
		errors.Is(err, permission.ErrUnsupportedScope):
		abortWithError(c, http.StatusBadRequest, CodeBadRequest, err.Error())
	default:
		_ = c.Error(err)
		abortWithError(c, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
