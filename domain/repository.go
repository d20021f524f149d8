package domain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique constraint such as the email is violated.
	ErrConflict = errors.New("record conflict")
)

// AccountRepository persists accounts.
//
// Inside a transaction, FindByEmail and FindByID lock the returned row until
// the transaction ends.
type AccountRepository interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Save(ctx context.Context, account *Account) error
	SaveAll(ctx context.Context, accounts []*Account) error
	Delete(ctx context.Context, id string) error
	FindLocked(ctx context.Context) ([]*Account, error)
	Count(ctx context.Context) (total int, locked int, err error)
}

// TokenRepository persists issued tokens and their revocation state.
//
// Inside a transaction, FindByToken locks the returned row until the
// transaction ends.
type TokenRepository interface {
	FindByToken(ctx context.Context, value string) (*IssuedToken, error)
	Save(ctx context.Context, token *IssuedToken) error
	SaveAll(ctx context.Context, tokens []*IssuedToken) error
	FindAllValidForAccount(ctx context.Context, accountID string) ([]*IssuedToken, error)
}

// RoleRepository resolves roles and their privileges.
type RoleRepository interface {
	FindByName(ctx context.Context, name string) (*Role, error)
}

// Repositories is the set of repositories bound to one connection or transaction.
type Repositories interface {
	Accounts() AccountRepository
	Tokens() TokenRepository
	Roles() RoleRepository
}

// Store opens explicit units of work over the repositories.
//
// WithinTx commits when fn returns nil and rolls back otherwise. Each call is
// an independent transaction, even when ctx already belongs to another one.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
