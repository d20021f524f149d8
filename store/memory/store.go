// Package memory is an in-process implementation of domain.Store for tests,
// demos and single-node deployments that do not need durability.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/MrEthical07/guardian/domain"
	"github.com/google/uuid"
)

type state struct {
	accounts map[string]*domain.Account
	byEmail  map[string]string
	tokens   map[string]*domain.IssuedToken
	roles    map[string]domain.Role
}

func newState() *state {
	return &state{
		accounts: make(map[string]*domain.Account),
		byEmail:  make(map[string]string),
		tokens:   make(map[string]*domain.IssuedToken),
		roles:    make(map[string]domain.Role),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.accounts {
		out.accounts[k] = v.Clone()
	}
	for k, v := range s.byEmail {
		out.byEmail[k] = v
	}
	for k, v := range s.tokens {
		out.tokens[k] = v.Clone()
	}
	for k, v := range s.roles {
		out.roles[k] = v
	}
	return out
}

// Store keeps all records in maps. Transactions are serialized and run
// against a private copy that replaces the live state on commit, so a
// failed transaction leaves nothing behind.
//
// WithinTx must not be called from inside another WithinTx on the same store,
// and auto-commit writes made while a transaction is open are overwritten by
// its commit.
type Store struct {
	txMu sync.Mutex

	mu sync.RWMutex
	st *state
}

// New returns an empty store seeded with roles.
func New(roles ...domain.Role) *Store {
	st := newState()
	for _, r := range roles {
		st.roles[r.Name] = domain.Role{Name: r.Name, Privileges: append([]string(nil), r.Privileges...)}
	}
	return &Store{st: st}
}

// Accounts returns the auto-commit account repository.
func (s *Store) Accounts() domain.AccountRepository {
	return &accountRepo{view: s.view()}
}

// Tokens returns the auto-commit token repository.
func (s *Store) Tokens() domain.TokenRepository {
	return &tokenRepo{view: s.view()}
}

// Roles returns the role repository.
func (s *Store) Roles() domain.RoleRepository {
	return &roleRepo{view: s.view()}
}

// WithinTx runs fn against a snapshot and publishes it when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	tx := &txRepos{view: &view{st: func() *state { return snapshot }, lock: noLock, rlock: noLock}}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = snapshot
	s.mu.Unlock()
	return nil
}

// PutRole adds or replaces a role.
func (s *Store) PutRole(role domain.Role) {
	s.mu.Lock()
	s.st.roles[role.Name] = domain.Role{Name: role.Name, Privileges: append([]string(nil), role.Privileges...)}
	s.mu.Unlock()
}

func (s *Store) view() *view {
	return &view{
		st: func() *state { return s.st },
		lock: func() func() {
			s.mu.Lock()
			return s.mu.Unlock
		},
		rlock: func() func() {
			s.mu.RLock()
			return s.mu.RUnlock
		},
	}
}

func noLock() func() { return func() {} }

type view struct {
	st    func() *state
	lock  func() func()
	rlock func() func()
}

type txRepos struct {
	view *view
}

func (t *txRepos) Accounts() domain.AccountRepository { return &accountRepo{view: t.view} }
func (t *txRepos) Tokens() domain.TokenRepository     { return &tokenRepo{view: t.view} }
func (t *txRepos) Roles() domain.RoleRepository       { return &roleRepo{view: t.view} }

type accountRepo struct {
	view *view
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *accountRepo) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	defer r.view.rlock()()
	st := r.view.st()
	id, ok := st.byEmail[emailKey(email)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return st.accounts[id].Clone(), nil
}

func (r *accountRepo) FindByID(_ context.Context, id string) (*domain.Account, error) {
	defer r.view.rlock()()
	a, ok := r.view.st().accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *accountRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	defer r.view.rlock()()
	_, ok := r.view.st().byEmail[emailKey(email)]
	return ok, nil
}

func (r *accountRepo) Save(_ context.Context, account *domain.Account) error {
	defer r.view.lock()()
	return saveAccount(r.view.st(), account)
}

func (r *accountRepo) SaveAll(_ context.Context, accounts []*domain.Account) error {
	defer r.view.lock()()
	st := r.view.st()
	for _, a := range accounts {
		if err := saveAccount(st, a); err != nil {
			return err
		}
	}
	return nil
}

func saveAccount(st *state, account *domain.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	key := emailKey(account.Email)
	if owner, ok := st.byEmail[key]; ok && owner != account.ID {
		return domain.ErrConflict
	}
	if prev, ok := st.accounts[account.ID]; ok {
		delete(st.byEmail, emailKey(prev.Email))
	}
	st.accounts[account.ID] = account.Clone()
	st.byEmail[key] = account.ID
	return nil
}

func (r *accountRepo) Delete(_ context.Context, id string) error {
	defer r.view.lock()()
	st := r.view.st()
	a, ok := st.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(st.byEmail, emailKey(a.Email))
	delete(st.accounts, id)
	return nil
}

func (r *accountRepo) FindLocked(_ context.Context) ([]*domain.Account, error) {
	defer r.view.rlock()()
	var out []*domain.Account
	for _, a := range r.view.st().accounts {
		if a.Locked {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (r *accountRepo) Count(_ context.Context) (int, int, error) {
	defer r.view.rlock()()
	total, locked := 0, 0
	for _, a := range r.view.st().accounts {
		total++
		if a.Locked {
			locked++
		}
	}
	return total, locked, nil
}

type tokenRepo struct {
	view *view
}

func (r *tokenRepo) FindByToken(_ context.Context, value string) (*domain.IssuedToken, error) {
	defer r.view.rlock()()
	t, ok := r.view.st().tokens[value]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t.Clone(), nil
}

func (r *tokenRepo) Save(_ context.Context, token *domain.IssuedToken) error {
	defer r.view.lock()()
	saveToken(r.view.st(), token)
	return nil
}

func (r *tokenRepo) SaveAll(_ context.Context, tokens []*domain.IssuedToken) error {
	defer r.view.lock()()
	st := r.view.st()
	for _, t := range tokens {
		saveToken(st, t)
	}
	return nil
}

func saveToken(st *state, token *domain.IssuedToken) {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	st.tokens[token.Value] = token.Clone()
}

func (r *tokenRepo) FindAllValidForAccount(_ context.Context, accountID string) ([]*domain.IssuedToken, error) {
	defer r.view.rlock()()
	var out []*domain.IssuedToken
	for _, t := range r.view.st().tokens {
		if t.AccountID == accountID && !t.Expired {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type roleRepo struct {
	view *view
}

func (r *roleRepo) FindByName(_ context.Context, name string) (*domain.Role, error) {
	defer r.view.rlock()()
	role, ok := r.view.st().roles[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Role{Name: role.Name, Privileges: append([]string(nil), role.Privileges...)}, nil
}
