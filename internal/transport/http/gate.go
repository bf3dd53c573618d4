package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/astro-web3/projecthub-auth/internal/domain/identity"
	"github.com/astro-web3/projecthub-auth/internal/domain/token"
	"github.com/astro-web3/projecthub-auth/internal/pathmatch"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	"github.com/gin-gonic/gin"
)

type authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (identity.Principal, error)
}

// authGate rejects requests without a valid access token before any handler
// runs and attaches the principal to the request context. Public paths and
// CORS preflights pass through untouched.
func authGate(authn authenticator, public *pathmatch.Set) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions || public.Match(c.Request.URL.Path) {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			logger.InfoContext(ctx, "request rejected at gate", slog.String("reason", "missing_bearer"))
			abortWithError(c, http.StatusUnauthorized, CodeAccessDenied, "authentication required")
			return
		}

		p, err := authn.Authenticate(ctx, raw)
		switch {
		case errors.Is(err, token.ErrInvalidToken):
			logger.InfoContext(ctx, "request rejected at gate", slog.String("reason", "invalid_token"))
			abortWithError(c, http.StatusUnauthorized, CodeInvalidToken, "invalid or expired token")
			return
		case err != nil:
			logger.ErrorContext(ctx, "token authentication failed", slog.String("error", err.Error()))
			abortWithServiceError(c, err)
			return
		}

		c.Request = c.Request.WithContext(identity.WithPrincipal(ctx, p))
		c.Next()
	}
}

// bearerToken extracts the credential from "Bearer <token>". The scheme is
// case-insensitive; anything else is treated as absent.
func bearerToken(header string) (string, bool) {
	scheme, credential, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	credential = strings.TrimSpace(credential)
	if credential == "" || strings.ContainsAny(credential, " \t") {
		return "", false
	}
	return credential, true
}

func principalFrom(c *gin.Context) (identity.Principal, bool) {
	return identity.FromContext(c.Request.Context())
}
