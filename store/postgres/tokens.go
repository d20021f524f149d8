package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/guardian/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const tokenColumns = `id, account_id, value, type, expired, revoked, expires_at, created_at`

// TokenRepository implements domain.TokenRepository.
type TokenRepository struct {
	db        DB
	forUpdate bool
}

// FindByToken loads one token by its value. Inside WithinTx the row stays
// locked until the transaction ends.
func (r *TokenRepository) FindByToken(ctx context.Context, value string) (*domain.IssuedToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE value = $1`
	if r.forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanToken(r.db.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select token: %w", err)
	}
	return t, nil
}

// Save inserts the token or updates its revocation state.
func (r *TokenRepository) Save(ctx context.Context, t *domain.IssuedToken) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	query := `
		INSERT INTO tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			expired = EXCLUDED.expired,
			revoked = EXCLUDED.revoked`

	_, err := r.db.Exec(ctx, query,
		t.ID,
		t.AccountID,
		t.Value,
		string(t.Type),
		t.Expired,
		t.Revoked,
		t.ExpiresAt,
		t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// SaveAll saves each token in order and stops at the first error.
func (r *TokenRepository) SaveAll(ctx context.Context, tokens []*domain.IssuedToken) error {
	for _, t := range tokens {
		if err := r.Save(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// FindAllValidForAccount lists the account's tokens that are neither expired nor revoked.
func (r *TokenRepository) FindAllValidForAccount(ctx context.Context, accountID string) ([]*domain.IssuedToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE account_id = $1 AND NOT expired AND NOT revoked ORDER BY created_at`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("select live tokens: %w", err)
	}
	defer rows.Close()

	var out []*domain.IssuedToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return out, nil
}

func scanToken(row pgx.Row) (*domain.IssuedToken, error) {
	var (
		t   domain.IssuedToken
		typ string
	)
	if err := row.Scan(&t.ID, &t.AccountID, &t.Value, &typ, &t.Expired, &t.Revoked, &t.ExpiresAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Type = domain.TokenType(typ)
	return &t, nil
}

// RoleRepository implements domain.RoleRepository.
type RoleRepository struct {
	db DB
}

// FindByName loads one role with its privileges.
func (r *RoleRepository) FindByName(ctx context.Context, name string) (*domain.Role, error) {
	var role domain.Role
	err := r.db.QueryRow(ctx, `SELECT name, privileges FROM roles WHERE name = $1`, name).Scan(&role.Name, &role.Privileges)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select role: %w", err)
	}
	return &role, nil
}
