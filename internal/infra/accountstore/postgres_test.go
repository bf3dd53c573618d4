package accountstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
	"github.com/astro-web3/projecthub-auth/internal/domain/session"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresFindByEmail(t *testing.T) {
	store, mock := newMock(t)

	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "roles", "active"}).
		AddRow(int64(3), "pm@example.com", "$2a$hash", "PROJECT_MANAGER,ROLE_team_lead,GHOST", true)
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts")).
		WithArgs("pm@example.com").
		WillReturnRows(rows)

	account, err := store.FindByEmail(context.Background(), "pm@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(3), account.ID)
	require.Equal(t, "$2a$hash", account.PasswordHash)
	require.True(t, account.Active)
	require.Equal(t, rbac.RoleSet{rbac.RoleProjectManager, rbac.RoleTeamLead}, account.Roles)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByEmailEmptyRoles(t *testing.T) {
	store, mock := newMock(t)

	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "roles", "active"}).
		AddRow(int64(4), "new@example.com", "$2a$hash", "", false)
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts")).WithArgs("new@example.com").WillReturnRows(rows)

	account, err := store.FindByEmail(context.Background(), "new@example.com")
	require.NoError(t, err)
	require.Empty(t, account.Roles)
	require.False(t, account.Active)
}

func TestPostgresFindByEmailNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts")).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "roles", "active"}))

	_, err := store.FindByEmail(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, session.ErrAccountNotFound)
}

func TestPostgresFindByEmailQueryError(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts")).
		WithArgs("pm@example.com").
		WillReturnError(errors.New("connection reset"))

	_, err := store.FindByEmail(context.Background(), "pm@example.com")
	require.Error(t, err)
	require.NotErrorIs(t, err, session.ErrAccountNotFound)
}

func TestPostgresSeed(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WithArgs("admin@example.com", "$2a$x", "ADMIN", true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WithArgs("qa@example.com", "$2a$y", "QA,DEVELOPER", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Seed(context.Background(), []session.Account{
		{Email: "Admin@Example.com", PasswordHash: "$2a$x", Roles: rbac.NewRoleSet(rbac.RoleAdmin), Active: true},
		{Email: "qa@example.com", PasswordHash: "$2a$y", Roles: rbac.NewRoleSet(rbac.RoleQA, rbac.RoleDeveloper)},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Seed(ctx, []session.Account{
		{Email: "A@example.com", PasswordHash: "h1", Active: true},
		{ID: 10, Email: "b@example.com", PasswordHash: "h2"},
		{Email: "a@example.com", PasswordHash: "ignored"},
		{Email: "c@example.com", PasswordHash: "h3"},
	}))

	a, err := store.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(1), a.ID)
	require.Equal(t, "h1", a.PasswordHash)

	c, err := store.FindByEmail(ctx, "C@EXAMPLE.COM")
	require.NoError(t, err)
	require.Equal(t, int64(11), c.ID)

	_, err = store.FindByEmail(ctx, "zzz@example.com")
	require.ErrorIs(t, err, session.ErrAccountNotFound)
}
