package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/guardian/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, email, name, password_hash, roles, failed_attempts, lock_count, locked, locked_at, totp_secret, totp_enabled, totp_last_counter, created_at, updated_at`

// AccountRepository implements domain.AccountRepository.
type AccountRepository struct {
	db        DB
	forUpdate bool
}

// FindByEmail loads the account registered under email.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

// FindByID loads one account by ID.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *AccountRepository) findOne(ctx context.Context, query string, arg string) (*domain.Account, error) {
	if r.forUpdate {
		query += ` FOR UPDATE`
	}
	a, err := scanAccount(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select account: %w", err)
	}
	return a, nil
}

// ExistsByEmail reports whether email is taken.
func (r *AccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check account email: %w", err)
	}
	return exists, nil
}

// Save inserts the account, or updates it when the ID already exists. An
// email owned by another account yields domain.ErrConflict.
func (r *AccountRepository) Save(ctx context.Context, a *domain.Account) error {
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			password_hash = EXCLUDED.password_hash,
			roles = EXCLUDED.roles,
			failed_attempts = EXCLUDED.failed_attempts,
			lock_count = EXCLUDED.lock_count,
			locked = EXCLUDED.locked,
			locked_at = EXCLUDED.locked_at,
			totp_secret = EXCLUDED.totp_secret,
			totp_enabled = EXCLUDED.totp_enabled,
			totp_last_counter = EXCLUDED.totp_last_counter,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		a.ID,
		a.Email,
		a.Name,
		a.PasswordHash,
		a.Roles,
		a.FailedAttempts,
		a.LockCount,
		a.Locked,
		a.LockedAt,
		a.TOTPSecret,
		a.TOTPEnabled,
		a.TOTPLastCounter,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

// SaveAll saves each account in order and stops at the first error.
func (r *AccountRepository) SaveAll(ctx context.Context, accounts []*domain.Account) error {
	for _, a := range accounts {
		if err := r.Save(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the account. Its tokens go with it through the foreign key.
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindLocked lists locked accounts ordered by email.
func (r *AccountRepository) FindLocked(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE locked ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("select locked accounts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// Count returns the number of accounts and how many of them are locked.
func (r *AccountRepository) Count(ctx context.Context) (int, int, error) {
	var total, locked int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE locked) FROM accounts`).Scan(&total, &locked)
	if err != nil {
		return 0, 0, fmt.Errorf("count accounts: %w", err)
	}
	return total, locked, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.Name,
		&a.PasswordHash,
		&a.Roles,
		&a.FailedAttempts,
		&a.LockCount,
		&a.Locked,
		&a.LockedAt,
		&a.TOTPSecret,
		&a.TOTPEnabled,
		&a.TOTPLastCounter,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
