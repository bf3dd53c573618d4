package accountstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/domain/rbac"
	"github.com/astro-web3/projecthub-auth/internal/domain/session"
	"github.com/astro-web3/projecthub-auth/pkg/logger"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	findByEmailQuery = `SELECT id, email, password_hash, array_to_string(roles, ','), active
		FROM accounts
		WHERE email = $1`

	seedQuery = `INSERT INTO accounts (email, password_hash, roles, active)
		VALUES ($1, $2, string_to_array($3, ','), $4)
		ON CONFLICT (email) DO NOTHING`
)

type PostgresStore struct {
	db *sql.DB
}

// Open connects through the pgx database/sql driver and waits for the
// server to accept connections.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	backoff := retry.WithMaxRetries(5, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*session.Account, error) {
	var (
		account session.Account
		roles   string
	)
	err := s.db.QueryRowContext(ctx, findByEmailQuery, email).
		Scan(&account.ID, &account.Email, &account.PasswordHash, &roles, &account.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrAccountNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}

	var raw []string
	if roles != "" {
		raw = strings.Split(roles, ",")
	}
	set, unknown := rbac.ParseRoles(raw)
	if len(unknown) > 0 {
		logger.WarnContext(ctx, "account has unknown roles",
			slog.Int64("account_id", account.ID),
			slog.Any("roles", unknown),
		)
	}
	account.Roles = set
	return &account, nil
}

// Seed inserts accounts that do not exist yet. Existing rows are left alone.
func (s *PostgresStore) Seed(ctx context.Context, accounts []session.Account) error {
	for _, a := range accounts {
		_, err := s.db.ExecContext(ctx, seedQuery,
			strings.ToLower(a.Email), a.PasswordHash, strings.Join(a.Roles.Strings(), ","), a.Active)
		if err != nil {
			return fmt.Errorf("seed account %s: %w", a.Email, err)
		}
	}
	return nil
}
