package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
	"github.com/astro-web3/projecthub-auth/internal/domain/session"
	"github.com/astro-web3/projecthub-auth/internal/domain/token"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type mockAccounts struct {
	mu       sync.Mutex
	accounts map[string]*session.Account
	err      error
	delay    time.Duration
}

func (m *mockAccounts) FindByEmail(_ context.Context, email string) (*session.Account, error) {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.accounts[email]
	if !ok {
		return nil, session.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAccounts) update(email string, fn func(*session.Account)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.accounts[email])
}

type mockRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	err     error
}

func (m *mockRevocations) Revoke(_ context.Context, id string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.revoked[id] = until
	return nil
}

func (m *mockRevocations) Consume(_ context.Context, id string, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.revoked[id]; ok {
		return true, nil
	}
	m.revoked[id] = until
	return false, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc         session.Service
	codec       *token.Codec
	accounts    *mockAccounts
	revocations *mockRevocations
	clock       *clock
}

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &clock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	codec, err := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"), "projecthub", token.WithClock(clk.Now))
	require.NoError(t, err)

	accounts := &mockAccounts{accounts: map[string]*session.Account{
		"pm@example.com": {
			ID:           7,
			Email:        "pm@example.com",
			PasswordHash: hash(t, "correct horse"),
			Roles:        rbac.NewRoleSet(rbac.RoleProjectManager),
			Active:       true,
		},
		"gone@example.com": {
			ID:           8,
			Email:        "gone@example.com",
			PasswordHash: hash(t, "secret"),
			Roles:        rbac.NewRoleSet(rbac.RoleDeveloper),
			Active:       false,
		},
	}}
	revocations := &mockRevocations{revoked: make(map[string]time.Time)}

	svc, err := session.NewServiceWithClock(codec, accounts, revocations, session.Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, clk.Now)
	require.NoError(t, err)

	return &fixture{svc: svc, codec: codec, accounts: accounts, revocations: revocations, clock: clk}
}

func TestNewServiceValidatesTTLs(t *testing.T) {
	codec, err := token.NewCodec([]byte("k"), "")
	require.NoError(t, err)

	_, err = session.NewService(codec, &mockAccounts{}, &mockRevocations{}, session.Config{AccessTTL: time.Hour, RefreshTTL: time.Minute})
	require.Error(t, err)
	_, err = session.NewService(codec, &mockAccounts{}, &mockRevocations{}, session.Config{})
	require.Error(t, err)
}

func TestLoginIssuesPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.svc.Login(ctx, session.Credentials{Email: "  PM@Example.com ", Password: "correct horse"})
	require.NoError(t, err)
	require.NotEqual(t, s.AccessToken, s.RefreshToken)
	require.Equal(t, f.clock.Now().Add(15*time.Minute), s.AccessExpiresAt)
	require.Equal(t, f.clock.Now().Add(7*24*time.Hour), s.RefreshExpiresAt)
	require.Equal(t, "pm@example.com", s.Principal.Subject)
	require.Equal(t, rbac.RoleSet{rbac.RoleProjectManager}, s.Principal.Roles)
	require.NotNil(t, s.Principal.AccountID)
	require.Equal(t, int64(7), *s.Principal.AccountID)

	access, err := f.codec.Verify(s.AccessToken, token.KindAccess)
	require.NoError(t, err)
	role, ok := access.String(session.ClaimRole)
	require.True(t, ok)
	require.Equal(t, "PROJECT_MANAGER", role)

	_, err = f.codec.Verify(s.RefreshToken, token.KindRefresh)
	require.NoError(t, err)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []session.Credentials{
		{Email: "pm@example.com", Password: "wrong"},
		{Email: "nobody@example.com", Password: "correct horse"},
		{Email: "gone@example.com", Password: "secret"},
		{Email: "", Password: "x"},
		{Email: "pm@example.com", Password: ""},
	}
	for _, c := range cases {
		s, err := f.svc.Login(ctx, c)
		require.Nil(t, s, "email=%q", c.Email)
		require.ErrorIs(t, err, session.ErrInvalidCredentials, "email=%q", c.Email)
		require.Equal(t, session.ErrInvalidCredentials.Error(), err.Error())
	}
}

func TestLoginStoreFailureIsNotCredentialsError(t *testing.T) {
	f := newFixture(t)
	f.accounts.err = errors.New("connection refused")

	_, err := f.svc.Login(context.Background(), session.Credentials{Email: "pm@example.com", Password: "correct horse"})
	require.Error(t, err)
	require.NotErrorIs(t, err, session.ErrInvalidCredentials)
}

func TestAuthenticateAcceptsOnlyAccessTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.Login(ctx, session.Credentials{Email: "pm@example.com", Password: "correct horse"})
	require.NoError(t, err)

	p, err := f.svc.Authenticate(ctx, s.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "pm@example.com", p.Subject)
	require.True(t, p.HasRole(rbac.RoleProjectManager))

	_, err = f.svc.Authenticate(ctx, s.RefreshToken)
	require.ErrorIs(t, err, token.ErrWrongKind)

	f.clock.Advance(15 * time.Minute)
	_, err = f.svc.Authenticate(ctx, s.AccessToken)
	require.ErrorIs(t, err, token.ErrExpired)
}

func TestRefreshRotatesAndDetectsReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Login(ctx, session.Credentials{Email: "pm@example.com", Password: "correct horse"})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, f.clock.Now().Add(15*time.Minute), second.AccessExpiresAt)

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, token.ErrInvalidToken)

	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestConcurrentRefreshWithOneTokenSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.Login(ctx, session.Credentials{Email: "pm@example.com", Password: "correct horse"})
	require.NoError(t, err)

	f.accounts.delay = 20 * time.Millisecond

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(ctx, s.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, token.ErrInvalidToken) {
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, callers-1, rejected)
}

func TestRefreshUsesCurrentAccountState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.Login(ctx, session.Credentials{Email: "pm@example.com", Password: "correct horse"})
	require.NoError(t, err)

	f.accounts.update("pm@example.com", func(a *session.Account) {
		a.Roles = rbac.NewRoleSet(rbac.RoleTeamLead)
	})
	refreshed, err := f.svc.Refresh(ctx, s.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleSet{rbac.RoleTeamLead}, refreshed.Principal.Roles)

	f.accounts.update("pm@example.com", func(a *session.Account) { a.Active = false })
	_, err = f.svc.Refresh(ctx, refreshed.RefreshToken)
	require.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestRefreshRejectsAccessTokenAndExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.Login(ctx, session.Credentials{Email: "pm@example.com", Password: "correct horse"})
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, s.AccessToken)
	require.ErrorIs(t, err, token.ErrWrongKind)

	f.clock.Advance(7 * 24 * time.Hour)
	_, err = f.svc.Refresh(ctx, s.RefreshToken)
	require.ErrorIs(t, err, token.ErrExpired)
}

func TestRefreshFailsClosedOnRevocationStoreError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.Login(ctx, session.Credentials{Email: "pm@example.com", Password: "correct horse"})
	require.NoError(t, err)

	f.revocations.err = errors.New("redis down")
	_, err = f.svc.Refresh(ctx, s.RefreshToken)
	require.Error(t, err)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.Login(ctx, session.Credentials{Email: "pm@example.com", Password: "correct horse"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, s.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, s.RefreshToken))

	_, err = f.svc.Refresh(ctx, s.RefreshToken)
	require.ErrorIs(t, err, token.ErrInvalidToken)

	// The access token stays valid until it expires.
	_, err = f.svc.Authenticate(ctx, s.AccessToken)
	require.NoError(t, err)
}

func TestLogoutExpiredTokenSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.Login(ctx, session.Credentials{Email: "pm@example.com", Password: "correct horse"})
	require.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)
	require.NoError(t, f.svc.Logout(ctx, s.RefreshToken))
	require.Empty(t, f.revocations.revoked)
}

func TestLogoutRejectsForgedAndAccessTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.svc.Login(ctx, session.Credentials{Email: "pm@example.com", Password: "correct horse"})
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.Logout(ctx, "garbage"), token.ErrInvalidToken)
	require.ErrorIs(t, f.svc.Logout(ctx, s.AccessToken), token.ErrWrongKind)

	forged := s.RefreshToken[:strings.LastIndex(s.RefreshToken, ".")+1] + "AAAA"
	require.ErrorIs(t, f.svc.Logout(ctx, forged), token.ErrInvalidToken)
}

func TestPrincipalFromClaimsCanonicalizesRoles(t *testing.T) {
	claims := &token.Claims{
		Subject: "x@example.com",
		Custom: map[string]any{
			session.ClaimRoles:     []any{"role_developer", "qa", "WIZARD", "DEVELOPER"},
			session.ClaimAccountID: "12",
		},
	}
	p, err := session.PrincipalFromClaims(claims)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleSet{rbac.RoleDeveloper, rbac.RoleQA}, p.Roles)
	require.Equal(t, int64(12), *p.AccountID)

	legacy := &token.Claims{Subject: "y@example.com", Custom: map[string]any{session.ClaimRole: "ROLE_ADMIN"}}
	p, err = session.PrincipalFromClaims(legacy)
	require.NoError(t, err)
	require.Equal(t, rbac.RoleSet{rbac.RoleAdmin}, p.Roles)
	require.Nil(t, p.AccountID)
}
