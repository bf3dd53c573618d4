package di

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"time"

	authzapp "github.com/astro-web3/projecthub-auth/internal/app/authz"
	sessionapp "github.com/astro-web3/projecthub-auth/internal/app/session"
	"github.com/astro-web3/projecthub-auth/internal/config"
	"github.com/astro-web3/projecthub-auth/internal/domain/audit"
	"github.com/astro-web3/projecthub-auth/internal/domain/permission"
	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
	"github.com/astro-web3/projecthub-auth/internal/domain/session"
	"github.com/astro-web3/projecthub-auth/internal/domain/token"
	"github.com/astro-web3/projecthub-auth/internal/infra/accountstore"
	"github.com/astro-web3/projecthub-auth/internal/infra/auditsink"
	"github.com/astro-web3/projecthub-auth/internal/infra/cache"
	"github.com/astro-web3/projecthub-auth/internal/infra/membership"
	"github.com/astro-web3/projecthub-auth/internal/infra/secrets"
	"github.com/astro-web3/projecthub-auth/internal/pathmatch"
	"github.com/astro-web3/projecthub-auth/internal/ratelimit"
	httpclient "github.com/astro-web3/projecthub-auth/pkg/http"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// Container holds the wired services shared by the HTTP and connect
// transports.
type Container struct {
	Config      *config.Config
	Sessions    *sessionapp.Service
	Authz       authzapp.Service
	AuditSink   audit.Sink
	AuditFilter *audit.Filter
	Redactor    *audit.Redactor
	PublicPaths *pathmatch.Set

	// LoginLimiter is shared by every transport that accepts credentials.
	// Nil when login limiting is disabled.
	LoginLimiter   *ratelimit.Limiter
	TrustedProxies []netip.Prefix

	closers []func(context.Context) error
}

type accountSeeder interface {
	session.AccountStore
	Seed(ctx context.Context, accounts []session.Account) error
}

// Build wires the container from configuration. Every backing store has an
// in-process fallback so an empty config still yields a working service.
func Build(ctx context.Context, cfg *config.Config) (_ *Container, err error) {
	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	secret, err := signingSecret(ctx, cfg)
	if err != nil {
		return nil, err
	}
	codec, err := token.NewCodec([]byte(secret), cfg.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("create token codec: %w", err)
	}

	accounts, err := c.accountStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	revocations, err := c.revocationStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewService(codec, accounts, revocations, session.Config{
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create session service: %w", err)
	}

	c.Sessions = sessionapp.NewService(sessions)
	c.Authz = authzapp.NewService(sessions, permission.NewRegistry(policy(cfg)))

	if c.PublicPaths, err = pathmatch.Compile(cfg.Auth.PublicPaths); err != nil {
		return nil, fmt.Errorf("auth.public_paths: %w", err)
	}
	if c.TrustedProxies, err = ratelimit.ParseTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("server.trusted_proxies: %w", err)
	}
	c.LoginLimiter = ratelimit.New(cfg.Auth.LoginRateLimit.PerSecond, cfg.Auth.LoginRateLimit.Burst)

	if err = c.auditPipeline(ctx, cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i](ctx))
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

func signingSecret(ctx context.Context, cfg *config.Config) (string, error) {
	var source secrets.Source
	name := cfg.Secrets.SigningSecretName

	switch cfg.Secrets.Provider {
	case config.SecretsKeyVault:
		kv, err := secrets.NewKeyVault(cfg.Secrets.VaultURL)
		if err != nil {
			return "", err
		}
		source = kv
	default:
		source = secrets.Static{name: cfg.Auth.SigningSecret}
	}

	secret, err := source.Secret(ctx, name)
	if err != nil {
		return "", fmt.Errorf("load signing secret: %w", err)
	}
	if err := config.ValidateSigningSecret(secret); err != nil {
		return "", err
	}
	return secret, nil
}

func (c *Container) accountStore(ctx context.Context, cfg *config.Config) (session.AccountStore, error) {
	var store accountSeeder

	if cfg.Database.DSN == "" {
		logger.WarnContext(ctx, "database.dsn not set, using in-memory account store")
		store = accountstore.NewMemoryStore()
	} else {
		db, err := accountstore.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		c.onClose(func(context.Context) error { return db.Close() })

		if err := accountstore.Migrate(ctx, db); err != nil {
			return nil, err
		}
		store = accountstore.NewPostgresStore(db)
	}

	seed, err := seedAccounts(ctx, cfg.Database.SeedAccounts)
	if err != nil {
		return nil, err
	}
	if len(seed) > 0 {
		if err := store.Seed(ctx, seed); err != nil {
			return nil, fmt.Errorf("seed accounts: %w", err)
		}
		logger.InfoContext(ctx, "seed accounts applied", slog.Int("count", len(seed)))
	}
	return store, nil
}

func seedAccounts(ctx context.Context, in []config.SeedAccount) ([]session.Account, error) {
	out := make([]session.Account, 0, len(in))
	for _, a := range in {
		hash := a.PasswordHash
		if hash == "" {
			h, err := bcrypt.GenerateFromPassword([]byte(a.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("hash seed password for %s: %w", a.Email, err)
			}
			hash = string(h)
		}

		roles, unknown := rbac.ParseRoles(a.Roles)
		if len(unknown) > 0 {
			logger.WarnContext(ctx, "seed account has unknown roles",
				slog.String("email", a.Email),
				slog.Any("roles", unknown),
			)
		}

		out = append(out, session.Account{
			Email:        a.Email,
			PasswordHash: hash,
			Roles:        roles,
			Active:       a.Active,
		})
	}
	return out, nil
}

func (c *Container) revocationStore(ctx context.Context, cfg *config.Config) (session.RevocationStore, error) {
	if cfg.Redis.URL == "" {
		logger.WarnContext(ctx, "redis.url not set, refresh-token revocations are kept in memory")
		return cache.NewMemoryRevocationStore(time.Now), nil
	}

	client, err := cache.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	c.onClose(func(context.Context) error { return client.Close() })
	return cache.NewRedisRevocationStore(client), nil
}

func policy(cfg *config.Config) permission.Policy {
	roles := permission.NewRolePolicy()
	if cfg.Membership.BaseURL == "" {
		return roles
	}

	httpclient.Init(httpclient.Options{Timeout: cfg.Membership.Timeout})
	lookup := membership.NewClient(cfg.Membership.BaseURL, cfg.Membership.Timeout, cfg.Membership.ServiceToken)
	return permission.NewMembershipPolicy(roles, lookup)
}

func (c *Container) auditPipeline(ctx context.Context, cfg *config.Config) error {
	c.Redactor = audit.NewRedactor(cfg.Audit.Mask, cfg.Audit.MaxBodyBytes)

	filter, err := audit.NewFilter(cfg.Audit.IncludePaths, cfg.Audit.ExcludePaths)
	if err != nil {
		return fmt.Errorf("audit paths: %w", err)
	}
	c.AuditFilter = filter

	if !cfg.Audit.Enabled {
		c.AuditSink = audit.Discard
		return nil
	}

	var writer auditsink.LineWriter
	switch cfg.Audit.Sink {
	case config.AuditSinkS3:
		s3cfg := auditsink.S3Config{
			Bucket:          cfg.Audit.S3.Bucket,
			Region:          cfg.Audit.S3.Region,
			Endpoint:        cfg.Audit.S3.Endpoint,
			AccessKeyID:     cfg.Audit.S3.AccessKeyID,
			SecretAccessKey: cfg.Audit.S3.SecretAccessKey,
			Prefix:          cfg.Audit.S3.Prefix,
			BatchSize:       cfg.Audit.S3.BatchSize,
			FlushInterval:   cfg.Audit.S3.FlushInterval,
		}
		client, err := auditsink.NewS3Client(ctx, s3cfg)
		if err != nil {
			return err
		}
		if writer, err = auditsink.NewS3Writer(client, s3cfg); err != nil {
			return err
		}
	default:
		writer = auditsink.NewStreamWriter(os.Stdout)
	}

	sink := auditsink.NewAsyncSink(writer, cfg.Audit.BufferSize)
	c.onClose(sink.Close)
	c.AuditSink = sink
	return nil
}
