package session

import (
	"context"
	"errors"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/domain/identity"
	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
)

var (
	// ErrInvalidCredentials never says which of email or password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")
)

// Claim names written into every token by the issuer.
const (
	ClaimRole      = "role"
	ClaimRoles     = "roles"
	ClaimAccountID = "aid"
)

type Credentials struct {
	Email    string
	Password string
}

// Account is the credential-store view of a user.
type Account struct {
	ID           int64
	Email        string
	PasswordHash string
	Roles        rbac.RoleSet
	Active       bool
}

// Session is a freshly issued token pair.
type Session struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Principal        identity.Principal
}

// AccountStore resolves accounts by login email. Implementations return
// ErrAccountNotFound when no account matches.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
}

// RevocationStore remembers revoked token ids until their natural expiry.
// Consume revokes tokenID and reports whether it was already revoked; it is
// atomic, so of several concurrent callers with one id exactly one gets false.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	Consume(ctx context.Context, tokenID string, until time.Time) (alreadyRevoked bool, err error)
}
