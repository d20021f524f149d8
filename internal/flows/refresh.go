package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/guardian/domain"
	"github.com/MrEthical07/guardian/internal/tokens"
	"github.com/MrEthical07/guardian/jwt"
)

// RefreshFailureKind classifies refresh failures for logging. Callers
// collapse every kind except RefreshFailureStore into one outcome.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureMalformed
	RefreshFailureWrongType
	RefreshFailureNotFound
	RefreshFailureNotLive
	RefreshFailureAccountGone
	RefreshFailureSubjectMismatch
	RefreshFailureAccountLocked
	RefreshFailureStore
)

func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "none"
	case RefreshFailureMalformed:
		return "malformed"
	case RefreshFailureWrongType:
		return "wrong_type"
	case RefreshFailureNotFound:
		return "not_found"
	case RefreshFailureNotLive:
		return "not_live"
	case RefreshFailureAccountGone:
		return "account_gone"
	case RefreshFailureSubjectMismatch:
		return "subject_mismatch"
	case RefreshFailureAccountLocked:
		return "account_locked"
	case RefreshFailureStore:
		return "store"
	default:
		return "unknown"
	}
}

// RefreshResult carries either the new pair or failure metadata.
type RefreshResult struct {
	Failure     RefreshFailureKind
	Err         error
	AccountID   string
	Email       string
	Fingerprint string
	Pair        *domain.TokenPair
}

// RefreshMetrics carries metric IDs used by refresh.
type RefreshMetrics struct {
	Success int
	Invalid int
}

// RefreshEvents carries audit event names used by refresh.
type RefreshEvents struct {
	Success string
	Invalid string
}

// RefreshDeps captures refresh dependencies.
type RefreshDeps struct {
	Core
	ParseToken func(value string) (*jwt.Claims, error)
	Metrics    RefreshMetrics
	Events     RefreshEvents
}

type refreshRejection struct {
	kind RefreshFailureKind
}

func (r *refreshRejection) Error() string { return "refresh rejected: " + r.kind.String() }

// RunRefresh validates a presented refresh token and rotates the account's
// tokens. Every rejection is reported through Failure, never through Err
// alone, so callers can treat them uniformly.
func RunRefresh(ctx context.Context, presented string, deps RefreshDeps) RefreshResult {
	if err := deps.prepare(); err != nil {
		return RefreshResult{Failure: RefreshFailureStore, Err: err}
	}
	if deps.ParseToken == nil {
		return RefreshResult{Failure: RefreshFailureStore, Err: deps.Errors.EngineNotReady}
	}

	value := StripBearer(presented)
	res := RefreshResult{Fingerprint: tokens.Fingerprint(value)}

	reject := func(kind RefreshFailureKind, err error) RefreshResult {
		res.Failure = kind
		res.Err = err
		if kind != RefreshFailureStore {
			deps.Hooks.MetricInc(deps.Metrics.Invalid)
			deps.Hooks.EmitAudit(ctx, deps.Events.Invalid, false, res.AccountID, res.Email, "", err, func() map[string]string {
				return map[string]string{"reason": kind.String(), "token": res.Fingerprint}
			})
		}
		return res
	}

	if value == "" {
		return reject(RefreshFailureMalformed, jwt.ErrInvalidToken)
	}
	claims, err := deps.ParseToken(value)
	if err != nil {
		return reject(RefreshFailureMalformed, err)
	}
	if claims.TokenType() != domain.TokenRefresh {
		return reject(RefreshFailureWrongType, jwt.ErrInvalidToken)
	}
	res.Email = NormalizeEmail(claims.Subject)

	stored, err := tokens.Lookup(ctx, deps.Store.Tokens(), value)
	if err != nil {
		if isNotFound(err) {
			return reject(RefreshFailureNotFound, err)
		}
		return reject(RefreshFailureStore, err)
	}
	res.AccountID = stored.AccountID

	unlock := deps.Locks.Lock(stored.AccountID)
	defer unlock()

	// The account row is locked before the token is read again, so a
	// concurrent rotation in another process is seen as already retired.
	err = deps.Store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		acct, err := repos.Accounts().FindByID(ctx, stored.AccountID)
		if err != nil {
			if isNotFound(err) {
				return &refreshRejection{kind: RefreshFailureAccountGone}
			}
			return err
		}

		tok, err := tokens.Lookup(ctx, repos.Tokens(), value)
		if err != nil {
			if isNotFound(err) {
				return &refreshRejection{kind: RefreshFailureNotFound}
			}
			return err
		}
		if tok.Type != domain.TokenRefresh {
			return &refreshRejection{kind: RefreshFailureWrongType}
		}
		if !tok.Usable(deps.Now()) {
			return &refreshRejection{kind: RefreshFailureNotLive}
		}
		if tok.AccountID != acct.ID {
			return &refreshRejection{kind: RefreshFailureSubjectMismatch}
		}
		if NormalizeEmail(acct.Email) != res.Email {
			return &refreshRejection{kind: RefreshFailureSubjectMismatch}
		}
		if acct.Locked {
			return &refreshRejection{kind: RefreshFailureAccountLocked}
		}

		pair, err := rotate(ctx, &deps.Core, repos, acct)
		if err != nil {
			return err
		}
		res.Pair = pair
		return nil
	})
	if err != nil {
		var rej *refreshRejection
		if errors.As(err, &rej) {
			return reject(rej.kind, jwt.ErrInvalidToken)
		}
		return reject(RefreshFailureStore, err)
	}

	deps.Hooks.MetricInc(deps.Metrics.Success)
	deps.Hooks.EmitAudit(ctx, deps.Events.Success, true, res.AccountID, res.Email, "", nil, nil)
	return res
}
