package token_test

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/domain/token"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newCodec(t *testing.T, clock *fakeClock) *token.Codec {
	t.Helper()
	codec, err := token.NewCodec(testSecret, "projecthub", token.WithClock(clock.Now))
	require.NoError(t, err)
	return codec
}

func TestNewCodecRequiresSecret(t *testing.T) {
	_, err := token.NewCodec(nil, "projecthub")
	require.ErrorIs(t, err, token.ErrSigningKey)
}

func TestIssueAndParseRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec := newCodec(t, clock)

	raw, issued, err := codec.Issue("a@b.com", token.KindAccess, map[string]any{
		"role":  "PROJECT_MANAGER",
		"roles": []string{"PROJECT_MANAGER"},
		"aid":   int64(42),
	}, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, strings.Split(raw, "."), 3)

	claims, err := codec.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "a@b.com", claims.Subject)
	require.Equal(t, token.KindAccess, claims.Kind)
	require.Equal(t, issued.ID, claims.ID)
	require.Equal(t, clock.t.Add(15*time.Minute), claims.ExpiresAt)

	role, ok := claims.String("role")
	require.True(t, ok)
	require.Equal(t, "PROJECT_MANAGER", role)

	roles, ok := claims.Strings("roles")
	require.True(t, ok)
	require.Equal(t, []string{"PROJECT_MANAGER"}, roles)

	aid, ok := claims.Int64("aid")
	require.True(t, ok)
	require.Equal(t, int64(42), aid)
}

func TestIssueRejectsReservedClaims(t *testing.T) {
	codec := newCodec(t, &fakeClock{t: time.Now()})
	_, _, err := codec.Issue("a@b.com", token.KindAccess, map[string]any{"exp": 1}, time.Minute)
	require.Error(t, err)
}

func TestIsValidUntilTTLElapses(t *testing.T) {
	ttls := []time.Duration{time.Second, time.Minute, 36 * time.Hour}
	for _, ttl := range ttls {
		clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
		codec := newCodec(t, clock)

		raw, _, err := codec.Issue("user@example.com", token.KindAccess, nil, ttl)
		require.NoError(t, err)
		require.True(t, codec.IsValid(raw), "ttl=%s", ttl)

		clock.Advance(ttl - time.Second/2)
		require.True(t, codec.IsValid(raw), "ttl=%s", ttl)

		clock.Advance(time.Second / 2)
		require.False(t, codec.IsValid(raw), "ttl=%s", ttl)

		// Parse still returns claims for an expired token.
		claims, err := codec.Parse(raw)
		require.NoError(t, err)
		require.True(t, claims.ExpiredAt(clock.Now()))

		_, err = codec.Verify(raw, "")
		require.ErrorIs(t, err, token.ErrExpired)
		require.ErrorIs(t, err, token.ErrInvalidToken)
	}
}

func TestSubSecondTTLIsValidOnIssue(t *testing.T) {
	starts := []time.Time{
		time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 12, 0, 0, 999_000_000, time.UTC),
	}
	for _, start := range starts {
		clock := &fakeClock{t: start}
		codec := newCodec(t, clock)

		raw, issued, err := codec.Issue("a@b.com", token.KindAccess, nil, 500*time.Millisecond)
		require.NoError(t, err)
		require.True(t, codec.IsValid(raw), "start=%s", start)
		require.False(t, issued.ExpiresAt.Before(start.Add(500*time.Millisecond)))

		clock.Advance(2 * time.Second)
		require.False(t, codec.IsValid(raw), "start=%s", start)
	}
}

func TestFractionalTTLIsNotShortened(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 700_000_000, time.UTC)
	clock := &fakeClock{t: start}
	codec := newCodec(t, clock)

	raw, _, err := codec.Issue("a@b.com", token.KindAccess, nil, 90*time.Second+500*time.Millisecond)
	require.NoError(t, err)

	claims, err := codec.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 1, 12, 1, 32, 0, time.UTC), claims.ExpiresAt)

	clock.Advance(90*time.Second + 500*time.Millisecond - time.Millisecond)
	require.True(t, codec.IsValid(raw))
}

func TestIsValidForComparesSubjectExactly(t *testing.T) {
	codec := newCodec(t, &fakeClock{t: time.Now()})
	raw, _, err := codec.Issue("Alice@Example.com", token.KindRefresh, nil, time.Hour)
	require.NoError(t, err)

	require.True(t, codec.IsValidFor(raw, "Alice@Example.com"))
	require.False(t, codec.IsValidFor(raw, "alice@example.com"))
	require.False(t, codec.IsValidFor(raw, ""))
}

func TestSignatureBitFlipIsRejected(t *testing.T) {
	codec := newCodec(t, &fakeClock{t: time.Now()})
	raw, _, err := codec.Issue("a@b.com", token.KindAccess, map[string]any{"role": "ADMIN"}, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)

	for i := 0; i < len(sig)*8; i++ {
		flipped := append([]byte(nil), sig...)
		flipped[i/8] ^= 1 << (i % 8)
		tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(flipped)

		claims, err := codec.Parse(tampered)
		require.Nil(t, claims, "bit %d", i)
		require.ErrorIs(t, err, token.ErrSignature, "bit %d", i)
	}
}

func TestSignatureSegmentGarbageIsSignatureError(t *testing.T) {
	codec := newCodec(t, &fakeClock{t: time.Now()})
	raw, _, err := codec.Issue("a@b.com", token.KindAccess, nil, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	_, err = codec.Parse(parts[0] + "." + parts[1] + ".!!not-base64!!")
	require.ErrorIs(t, err, token.ErrSignature)
}

func TestPayloadTamperingIsRejected(t *testing.T) {
	codec := newCodec(t, &fakeClock{t: time.Now()})
	raw, _, err := codec.Issue("dev@example.com", token.KindAccess, map[string]any{"role": "DEVELOPER"}, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	forged := base64.RawURLEncoding.EncodeToString([]byte(
		`{"sub":"dev@example.com","role":"ADMIN","typ":"access","iss":"projecthub","iat":1,"exp":4102444800}`))
	_, err = codec.Parse(parts[0] + "." + forged + "." + parts[2])
	require.ErrorIs(t, err, token.ErrSignature)
}

func TestForeignKeyIsSignatureError(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	other, err := token.NewCodec([]byte("another-secret-another-secret-xx"), "projecthub", token.WithClock(clock.Now))
	require.NoError(t, err)
	raw, _, err := other.Issue("a@b.com", token.KindAccess, nil, time.Hour)
	require.NoError(t, err)

	_, err = newCodec(t, clock).Parse(raw)
	require.ErrorIs(t, err, token.ErrSignature)
}

func TestMalformedTokens(t *testing.T) {
	codec := newCodec(t, &fakeClock{t: time.Now()})
	for _, raw := range []string{"", "   ", "abc", "a.b", "not.a.jwt", "a.b.c.d"} {
		_, err := codec.Parse(raw)
		require.ErrorIs(t, err, token.ErrMalformedToken, "raw=%q", raw)
		require.ErrorIs(t, err, token.ErrInvalidToken, "raw=%q", raw)
		require.False(t, codec.IsValid(raw))
	}
}

func TestNoneAlgorithmIsRejected(t *testing.T) {
	codec := newCodec(t, &fakeClock{t: time.Now()})
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"a@b.com","iat":1,"exp":4102444800}`))

	_, err := codec.Parse(header + "." + payload + ".")
	require.ErrorIs(t, err, token.ErrInvalidToken)
	require.False(t, codec.IsValid(header+"."+payload+"."))
}

func TestVerifyEnforcesKind(t *testing.T) {
	codec := newCodec(t, &fakeClock{t: time.Now()})
	access, _, err := codec.Issue("a@b.com", token.KindAccess, nil, time.Hour)
	require.NoError(t, err)

	_, err = codec.Verify(access, token.KindRefresh)
	require.ErrorIs(t, err, token.ErrWrongKind)

	claims, err := codec.Verify(access, token.KindAccess)
	require.NoError(t, err)
	require.Equal(t, "a@b.com", claims.Subject)
}

func TestIssuedTokensAreUnique(t *testing.T) {
	codec := newCodec(t, &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		raw, _, err := codec.Issue("a@b.com", token.KindAccess, map[string]any{"role": "QA"}, time.Minute)
		require.NoError(t, err)
		_, dup := seen[raw]
		require.False(t, dup)
		seen[raw] = struct{}{}
	}
}
