package token

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind distinguishes access tokens from refresh tokens. It is carried in
// the signed payload so a refresh token cannot be presented as an access
// token and vice versa.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Registered claim names owned by the codec. Custom claims may not use them.
const (
	claimSubject   = "sub"
	claimIssuer    = "iss"
	claimIssuedAt  = "iat"
	claimExpiresAt = "exp"
	claimID        = "jti"
	claimKind      = "typ"
	claimNotBefore = "nbf"
	claimAudience  = "aud"
)

var reservedClaims = map[string]struct{}{
	claimSubject: {}, claimIssuer: {}, claimIssuedAt: {}, claimExpiresAt: {},
	claimID: {}, claimKind: {}, claimNotBefore: {}, claimAudience: {},
}

// Claims is the decoded payload of a token.
type Claims struct {
	ID        string
	Subject   string
	Issuer    string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
	Custom    map[string]any
}

// ExpiredAt reports whether the token is expired at t.
func (c *Claims) ExpiredAt(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// String returns a string custom claim.
func (c *Claims) String(name string) (string, bool) {
	v, ok := c.Custom[name].(string)
	return v, ok
}

// Strings returns a string-list custom claim.
func (c *Claims) Strings(name string) ([]string, bool) {
	switch v := c.Custom[name].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Int64 returns an integer custom claim.
func (c *Claims) Int64(name string) (int64, bool) {
	switch v := c.Custom[name].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), v == float64(int64(v))
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func validateCustom(custom map[string]any) error {
	for name := range custom {
		if _, ok := reservedClaims[name]; ok {
			return fmt.Errorf("claim %q is reserved", name)
		}
	}
	return nil
}
