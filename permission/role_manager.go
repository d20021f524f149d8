package permission

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/MrEthical07/guardian/domain"
)

// ErrRoleNotFound is returned when neither the cache nor the source know a role.
var ErrRoleNotFound = errors.New("role not found")

// RoleSource loads roles that were not registered up front.
type RoleSource interface {
	FindByName(ctx context.Context, name string) (*domain.Role, error)
}

// RoleManager is the in-memory role → privilege lookup. Roles are either
// registered at startup or loaded from the source on first use and cached.
//
// Once frozen, the manager answers only from registered roles.
type RoleManager struct {
	source RoleSource

	mu     sync.RWMutex
	roles  map[string][]string
	frozen bool
}

// NewRoleManager creates a manager. source may be nil.
func NewRoleManager(source RoleSource) *RoleManager {
	return &RoleManager{
		source: source,
		roles:  make(map[string][]string),
	}
}

// RegisterRole seeds a role with its privileges.
func (rm *RoleManager) RegisterRole(roleName string, privileges []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}
	if roleName == "" {
		return errors.New("role name empty")
	}
	if _, exists := rm.roles[roleName]; exists {
		return fmt.Errorf("role %q already registered", roleName)
	}

	rm.roles[roleName] = normalize(privileges)
	return nil
}

// Freeze stops source lookups and further registration.
func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	rm.frozen = true
	rm.mu.Unlock()
}

// Count returns the number of cached roles.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}

// Invalidate drops a cached role so the next lookup reloads it. Frozen
// managers ignore the call.
func (rm *RoleManager) Invalidate(roleName string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if !rm.frozen {
		delete(rm.roles, roleName)
	}
}

// Lookup returns the role with its privileges.
func (rm *RoleManager) Lookup(ctx context.Context, roleName string) (*domain.Role, error) {
	rm.mu.RLock()
	privs, ok := rm.roles[roleName]
	frozen := rm.frozen
	rm.mu.RUnlock()
	if ok {
		return &domain.Role{Name: roleName, Privileges: slices.Clone(privs)}, nil
	}
	if frozen || rm.source == nil {
		return nil, ErrRoleNotFound
	}

	role, err := rm.source.FindByName(ctx, roleName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}

	privs = normalize(role.Privileges)
	rm.mu.Lock()
	if !rm.frozen {
		rm.roles[roleName] = privs
	}
	rm.mu.Unlock()

	return &domain.Role{Name: roleName, Privileges: slices.Clone(privs)}, nil
}

// Privileges flattens the privileges of roleNames into one sorted list
// without duplicates. Roles that no longer exist contribute nothing.
func (rm *RoleManager) Privileges(ctx context.Context, roleNames []string) ([]string, error) {
	var all []string
	for _, name := range roleNames {
		role, err := rm.Lookup(ctx, name)
		if errors.Is(err, ErrRoleNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		all = append(all, role.Privileges...)
	}
	return normalize(all), nil
}

func normalize(privileges []string) []string {
	out := make([]string, 0, len(privileges))
	for _, p := range privileges {
		if p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}
