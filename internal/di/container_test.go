package di

import (
	"context"
	"testing"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/config"
	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
	"github.com/astro-web3/projecthub-auth/internal/domain/session"
	"github.com/astro-web3/projecthub-auth/internal/infra/auditsink"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.SigningSecret = "0123456789abcdef0123456789abcdef"
	cfg.Auth.Issuer = "projecthub"
	cfg.Auth.AccessTTL = time.Minute
	cfg.Auth.RefreshTTL = time.Hour
	cfg.Auth.PublicPaths = []string{"/healthz", "/api/auth/login"}
	cfg.Secrets.Provider = config.SecretsFromConfig
	cfg.Secrets.SigningSecretName = "signing"
	cfg.Audit.Mask = "[MASKED]"
	cfg.Audit.MaxBodyBytes = 4096
	cfg.Audit.IncludePaths = []string{"/api/**"}
	cfg.Database.SeedAccounts = []config.SeedAccount{
		{Email: "A@B.com", Password: "pm-password", Roles: []string{"PROJECT_MANAGER", "WIZARD"}, Active: true},
	}
	return cfg
}

func TestBuildInMemory(t *testing.T) {
	ctx := context.Background()
	c, err := Build(ctx, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close(ctx)) })

	_, async := c.AuditSink.(*auditsink.AsyncSink)
	require.False(t, async)
	require.True(t, c.PublicPaths.Match("/api/auth/login"))
	require.False(t, c.AuditFilter.ShouldAudit("/healthz"))

	sess, err := c.Sessions.Login(ctx, "a@b.com", "pm-password")
	require.NoError(t, err)
	require.True(t, sess.Principal.HasRole(rbac.RoleProjectManager))

	p, err := c.Authz.Authenticate(ctx, sess.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "a@b.com", p.Subject)
	require.NoError(t, c.Authz.Require(ctx, p, rbac.ActionEditProject, "42"))

	_, err = c.Sessions.Login(ctx, "a@b.com", "wrong")
	require.ErrorIs(t, err, session.ErrInvalidCredentials)
}

func TestBuildEnabledAuditUsesAsyncSink(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.Sink = config.AuditSinkStdout
	cfg.Audit.BufferSize = 8

	c, err := Build(ctx, cfg)
	require.NoError(t, err)
	_, async := c.AuditSink.(*auditsink.AsyncSink)
	require.True(t, async)
	require.NoError(t, c.Close(ctx))
}

func TestBuildRejectsShortSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.SigningSecret = "short"

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "at least 32 bytes")
}

func TestBuildRejectsBadPublicPath(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.PublicPaths = []string{"/api/["}

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "auth.public_paths")
}

func TestBuildRejectsBadTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TrustedProxies = []string{"proxy.internal"}

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "server.trusted_proxies")
}

func TestBuildLoginLimiter(t *testing.T) {
	ctx := context.Background()
	c, err := Build(ctx, testConfig())
	require.NoError(t, err)
	require.Nil(t, c.LoginLimiter)
	require.NoError(t, c.Close(ctx))

	cfg := testConfig()
	cfg.Auth.LoginRateLimit.PerSecond = 1
	cfg.Auth.LoginRateLimit.Burst = 3
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8"}
	c, err = Build(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, c.LoginLimiter)
	require.Len(t, c.TrustedProxies, 1)
	require.NoError(t, c.Close(ctx))
}
