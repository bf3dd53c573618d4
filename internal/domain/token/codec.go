package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// maxIssuedAtSkew bounds how far in the future an iat may lie before the
// token is rejected as malformed.
const maxIssuedAtSkew = 5 * time.Second

// Codec signs and verifies compact HS256 tokens. It holds only the immutable
// signing key and is safe for concurrent use.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

type Option func(*Codec)

// WithClock overrides the time source used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec returns a codec signing with secret. An empty secret is a
// configuration error.
func NewCodec(secret []byte, issuer string, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrSigningKey
	}
	c := &Codec{
		secret: append([]byte(nil), secret...),
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for subject carrying custom claims and valid for ttl.
func (c *Codec) Issue(subject string, kind Kind, custom map[string]any, ttl time.Duration) (string, *Claims, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", nil, errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", nil, errors.New("ttl must be greater than zero")
	}
	if err := validateCustom(custom); err != nil {
		return "", nil, err
	}

	// NumericDate has second precision: iat rounds down and exp rounds up,
	// so a token is never shorter lived than ttl.
	now := c.now().UTC()
	claims := &Claims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    c.issuer,
		Kind:      kind,
		IssuedAt:  now.Truncate(time.Second),
		ExpiresAt: ceilSecond(now.Add(ttl)),
		Custom:    make(map[string]any, len(custom)),
	}

	payload := jwt.MapClaims{
		claimID:        claims.ID,
		claimSubject:   claims.Subject,
		claimKind:      string(kind),
		claimIssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
		claimExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
	}
	if c.issuer != "" {
		payload[claimIssuer] = c.issuer
	}
	for k, v := range custom {
		payload[k] = v
		claims.Custom[k] = v
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrSigningKey, err)
	}
	return signed, claims, nil
}

func ceilSecond(t time.Time) time.Time {
	if r := t.Truncate(time.Second); r.Before(t) {
		return r.Add(time.Second)
	}
	return t
}

// Parse verifies structure and signature and returns the claims. Expired
// tokens parse successfully; expiry is checked by IsValid and Verify.
func (c *Codec) Parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformedToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
		jwt.WithStrictDecoding(),
		jwt.WithJSONNumber(),
	)
	parsed, err := parser.Parse(raw, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, c.classify(raw, err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformedToken
	}
	return c.decode(mc)
}

// classify maps jwt errors onto the codec taxonomy. A token whose header and
// payload decode but whose signature segment does not is a signature failure,
// not a structural one.
func (c *Codec) classify(raw string, err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		if _, _, uerr := jwt.NewParser(jwt.WithJSONNumber()).ParseUnverified(raw, jwt.MapClaims{}); uerr == nil {
			return ErrSignature
		}
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
}

func (c *Codec) decode(mc jwt.MapClaims) (*Claims, error) {
	sub, err := mc.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrMalformedToken)
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: expiry missing", ErrMalformedToken)
	}
	iat, err := mc.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, fmt.Errorf("%w: issued-at missing", ErrMalformedToken)
	}
	if exp.Before(iat.Time) {
		return nil, fmt.Errorf("%w: expiry precedes issued-at", ErrMalformedToken)
	}
	if iat.After(c.now().Add(maxIssuedAtSkew)) {
		return nil, fmt.Errorf("%w: issued in the future", ErrMalformedToken)
	}
	iss, _ := mc.GetIssuer()
	if c.issuer != "" && iss != c.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrMalformedToken, iss)
	}
	kind, _ := mc[claimKind].(string)
	id, _ := mc[claimID].(string)

	claims := &Claims{
		ID:        id,
		Subject:   sub,
		Issuer:    iss,
		Kind:      Kind(kind),
		IssuedAt:  iat.UTC(),
		ExpiresAt: exp.UTC(),
		Custom:    make(map[string]any),
	}
	for k, v := range mc {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		claims.Custom[k] = v
	}
	return claims, nil
}

// Verify parses raw and checks expiry and, when kind is not empty, the
// token kind.
func (c *Codec) Verify(raw string, kind Kind) (*Claims, error) {
	claims, err := c.Parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.ExpiredAt(c.now()) {
		return claims, ErrExpired
	}
	if kind != "" && claims.Kind != kind {
		return claims, ErrWrongKind
	}
	return claims, nil
}

// IsValid reports whether raw parses and is not expired.
func (c *Codec) IsValid(raw string) bool {
	_, err := c.Verify(raw, "")
	return err == nil
}

// IsValidFor is IsValid plus an exact, case-sensitive subject match.
func (c *Codec) IsValidFor(raw, expectedSubject string) bool {
	claims, err := c.Verify(raw, "")
	if err != nil {
		return false
	}
	return claims.Subject == expectedSubject
}
