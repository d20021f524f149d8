// Package postgres implements the guardian repositories on PostgreSQL with
// pgx. Account and token reads made inside WithinTx lock their rows with
// FOR UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/guardian/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a DB that can open transactions, such as *pgxpool.Pool.
type Pool interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements domain.Store.
type Store struct {
	pool Pool
}

var _ domain.Store = (*Store)(nil)

// New returns a Store over pool. Migrations are applied separately by Migrate.
func New(pool Pool) *Store {
	return &Store{pool: pool}
}

// Accounts returns the auto-commit account repository.
func (s *Store) Accounts() domain.AccountRepository {
	return &AccountRepository{db: s.pool}
}

// Tokens returns the auto-commit token repository.
func (s *Store) Tokens() domain.TokenRepository {
	return &TokenRepository{db: s.pool}
}

// Roles returns the role repository.
func (s *Store) Roles() domain.RoleRepository {
	return &RoleRepository{db: s.pool}
}

// WithinTx runs fn in a new transaction. It commits when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, txRepos{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type txRepos struct {
	tx pgx.Tx
}

func (r txRepos) Accounts() domain.AccountRepository {
	return &AccountRepository{db: r.tx, forUpdate: true}
}

func (r txRepos) Tokens() domain.TokenRepository {
	return &TokenRepository{db: r.tx, forUpdate: true}
}

func (r txRepos) Roles() domain.RoleRepository {
	return &RoleRepository{db: r.tx}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
