package identity

import (
	"context"

	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
)

// Principal is the authenticated caller of a single request. It is built from
// a validated access token and never persisted.
type Principal struct {
	Subject   string       `json:"subject"`
	Roles     rbac.RoleSet `json:"roles"`
	AccountID *int64       `json:"accountId,omitempty"`
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role rbac.Role) bool {
	return p.Roles.Has(role)
}

// IsZero reports whether p carries no identity.
func (p Principal) IsZero() bool {
	return p.Subject == ""
}

type principalContextKey struct{}

// WithPrincipal attaches p to ctx. Only the request authorization gate
// calls this; downstream code receives the principal as a parameter.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// FromContext returns the principal attached by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	if !ok || p.IsZero() {
		return Principal{}, false
	}
	return p, true
}
