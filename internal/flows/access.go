package flows

import (
	"context"
	"fmt"

	"github.com/MrEthical07/guardian/domain"
	"github.com/MrEthical07/guardian/internal/tokens"
	"github.com/MrEthical07/guardian/jwt"
)

// AccessMetrics carries metric IDs used by access token validation.
type AccessMetrics struct {
	Success int
	Failure int
}

// AccessDeps captures access validation dependencies.
type AccessDeps struct {
	Core
	ParseToken func(value string) (*jwt.Claims, error)
	Metrics    AccessMetrics

	// InvalidToken is returned for every rejected token.
	InvalidToken error
}

// AccessResult is the identity behind a valid access token.
type AccessResult struct {
	AccountID  string
	Email      string
	Name       string
	Roles      []string
	Privileges []string
	TokenID    string
}

// RunValidateAccess accepts an access token only when the signature and
// claims verify and the store still holds it as live.
func RunValidateAccess(ctx context.Context, presented string, deps AccessDeps) (*AccessResult, error) {
	if err := deps.prepare(); err != nil {
		return nil, err
	}
	if deps.ParseToken == nil {
		return nil, deps.Errors.EngineNotReady
	}
	invalid := deps.InvalidToken
	if invalid == nil {
		invalid = jwt.ErrInvalidToken
	}
	fail := func() (*AccessResult, error) {
		deps.Hooks.MetricInc(deps.Metrics.Failure)
		return nil, invalid
	}

	value := StripBearer(presented)
	if value == "" {
		return fail()
	}
	claims, err := deps.ParseToken(value)
	if err != nil || claims.TokenType() != domain.TokenAccess {
		return fail()
	}

	stored, err := tokens.Lookup(ctx, deps.Store.Tokens(), value)
	if err != nil {
		if isNotFound(err) {
			return fail()
		}
		return nil, fmt.Errorf("lookup access token: %w", err)
	}
	if stored.Type != domain.TokenAccess || !stored.Usable(deps.Now()) {
		return fail()
	}

	deps.Hooks.MetricInc(deps.Metrics.Success)
	return &AccessResult{
		AccountID:  stored.AccountID,
		Email:      claims.Subject,
		Name:       claims.Name,
		Roles:      append([]string(nil), claims.Roles...),
		Privileges: append([]string(nil), claims.Authorities...),
		TokenID:    claims.ID,
	}, nil
}
