package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/domain/identity"
	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
	"github.com/astro-web3/projecthub-auth/internal/domain/token"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the email is unknown so that a miss
// costs the same as a wrong password.
//
//nolint:gochecknoglobals // computed once at startup
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("projecthub-timing-equalizer"), bcrypt.DefaultCost)

type Service interface {
	Login(ctx context.Context, creds Credentials) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	Logout(ctx context.Context, refreshToken string) error
	Authenticate(ctx context.Context, accessToken string) (identity.Principal, error)
}

type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type service struct {
	codec       *token.Codec
	accounts    AccountStore
	revocations RevocationStore
	cfg         Config
	now         func() time.Time
}

func NewService(codec *token.Codec, accounts AccountStore, revocations RevocationStore, cfg Config) (Service, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("session: token ttls must be positive")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, errors.New("session: access ttl must be shorter than refresh ttl")
	}
	return &service{
		codec:       codec,
		accounts:    accounts,
		revocations: revocations,
		cfg:         cfg,
		now:         time.Now,
	}, nil
}

// NewServiceWithClock is NewService with an explicit time source for the
// revocation bookkeeping. The codec keeps its own clock.
func NewServiceWithClock(
	codec *token.Codec,
	accounts AccountStore,
	revocations RevocationStore,
	cfg Config,
	now func() time.Time,
) (Service, error) {
	svc, err := NewService(codec, accounts, revocations, cfg)
	if err != nil {
		return nil, err
	}
	if now != nil {
		svc.(*service).now = now
	}
	return svc, nil
}

func (s *service) Login(ctx context.Context, creds Credentials) (*Session, error) {
	email := normalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(creds.Password))
		logger.InfoContext(ctx, "login rejected", slog.String("reason", "unknown_account"))
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(creds.Password)) != nil {
		logger.InfoContext(ctx, "login rejected", slog.String("reason", "password_mismatch"))
		return nil, ErrInvalidCredentials
	}
	if !account.Active {
		logger.InfoContext(ctx, "login rejected", slog.String("reason", "inactive_account"))
		return nil, ErrInvalidCredentials
	}

	return s.issuePair(account)
}

func (s *service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		return nil, err
	}

	// Roles are resolved from the account, not copied from the old token,
	// so a role change or deactivation takes effect on the next refresh.
	account, err := s.accounts.FindByEmail(ctx, claims.Subject)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return nil, fmt.Errorf("%w: account no longer exists", token.ErrInvalidToken)
	case err != nil:
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if !account.Active {
		return nil, fmt.Errorf("%w: account inactive", token.ErrInvalidToken)
	}
	if !s.codec.IsValidFor(refreshToken, account.Email) {
		return nil, token.ErrSubjectMismatch
	}

	replayed, err := s.revocations.Consume(ctx, claims.ID, claims.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	if replayed {
		logger.WarnContext(ctx, "revoked refresh token presented",
			slog.String("subject", claims.Subject),
			slog.String("token_id", claims.ID),
		)
		return nil, fmt.Errorf("%w: refresh token revoked", token.ErrInvalidToken)
	}
	return s.issuePair(account)
}

// Logout revokes the refresh token. It is idempotent: already revoked or
// already expired tokens succeed, only structurally invalid or forged
// tokens fail.
func (s *service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.codec.Parse(refreshToken)
	if err != nil {
		return err
	}
	if claims.Kind != token.KindRefresh {
		return token.ErrWrongKind
	}
	if claims.ExpiredAt(s.now()) {
		return nil
	}
	if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	logger.InfoContext(ctx, "session logged out", slog.String("subject", claims.Subject))
	return nil
}

func (s *service) Authenticate(_ context.Context, accessToken string) (identity.Principal, error) {
	claims, err := s.codec.Verify(accessToken, token.KindAccess)
	if err != nil {
		return identity.Principal{}, err
	}
	return PrincipalFromClaims(claims)
}

func (s *service) issuePair(account *Account) (*Session, error) {
	custom := map[string]any{
		ClaimRoles:     account.Roles.Strings(),
		ClaimAccountID: account.ID,
	}
	if len(account.Roles) > 0 {
		custom[ClaimRole] = account.Roles[0].String()
	}

	access, accessClaims, err := s.codec.Issue(account.Email, token.KindAccess, custom, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshClaims, err := s.codec.Issue(account.Email, token.KindRefresh, custom, s.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	accountID := account.ID
	return &Session{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt,
		RefreshExpiresAt: refreshClaims.ExpiresAt,
		Principal: identity.Principal{
			Subject:   account.Email,
			Roles:     account.Roles,
			AccountID: &accountID,
		},
	}, nil
}

// PrincipalFromClaims turns verified claims into a Principal. Role names
// are canonicalized here and nowhere else; unknown names are dropped.
func PrincipalFromClaims(claims *token.Claims) (identity.Principal, error) {
	raw, ok := claims.Strings(ClaimRoles)
	if !ok {
		if single, ok := claims.String(ClaimRole); ok {
			raw = []string{single}
		}
	}
	roles, _ := rbac.ParseRoles(raw)

	p := identity.Principal{
		Subject: claims.Subject,
		Roles:   roles,
	}
	if id, ok := claims.Int64(ClaimAccountID); ok {
		p.AccountID = &id
	}
	return p, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
