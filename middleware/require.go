package middleware

import (
	"net/http"

	"github.com/MrEthical07/guardian"
)

// RequirePrivilege answers 403 unless the principal set by Guard holds
// privilege. Without a principal it answers 401.
func RequirePrivilege(privilege string) func(http.Handler) http.Handler {
	return requirePrincipal(func(p *guardian.Principal) bool {
		return p.HasPrivilege(privilege)
	})
}

// RequireRole answers 403 unless the principal holds one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return requirePrincipal(func(p *guardian.Principal) bool {
		for _, role := range roles {
			if p.HasRole(role) {
				return true
			}
		}
		return false
	})
}

func requirePrincipal(allowed func(*guardian.Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := guardian.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !allowed(p) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
