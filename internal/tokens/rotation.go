// Package tokens maintains the rotation rule for issued tokens: issuing a
// new pair for an account first retires every live token it holds.
package tokens

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/guardian/domain"
	"github.com/MrEthical07/guardian/jwt"
	"github.com/google/uuid"
)

// Signer produces signed token strings.
type Signer interface {
	Issue(subject jwt.Subject, tokenType domain.TokenType) (jwt.Issued, error)
}

// Rotator issues and retires tokens against a TokenRepository. Callers
// provide the repository so the work joins their unit of work.
type Rotator struct {
	signer Signer
	now    func() time.Time
}

// NewRotator returns a rotator. now defaults to time.Now.
func NewRotator(signer Signer, now func() time.Time) *Rotator {
	if now == nil {
		now = time.Now
	}
	return &Rotator{signer: signer, now: now}
}

// RevokeAllValid marks every live token of accountID as expired and
// revoked in one bulk save. It returns how many tokens changed; a second
// call in a row changes none.
func (r *Rotator) RevokeAllValid(ctx context.Context, repo domain.TokenRepository, accountID string) (int, error) {
	live, err := repo.FindAllValidForAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("load live tokens: %w", err)
	}
	if len(live) == 0 {
		return 0, nil
	}
	for _, t := range live {
		t.Expired = true
		t.Revoked = true
	}
	if err := repo.SaveAll(ctx, live); err != nil {
		return 0, fmt.Errorf("revoke tokens: %w", err)
	}
	return len(live), nil
}

// IssueAndStore signs one token for account and persists it as live.
func (r *Rotator) IssueAndStore(
	ctx context.Context,
	repo domain.TokenRepository,
	account *domain.Account,
	subject jwt.Subject,
	tokenType domain.TokenType,
) (*domain.IssuedToken, error) {
	issued, err := r.signer.Issue(subject, tokenType)
	if err != nil {
		return nil, fmt.Errorf("sign %s token: %w", tokenType, err)
	}

	token := &domain.IssuedToken{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Value:     issued.Value,
		Type:      tokenType,
		ExpiresAt: issued.ExpiresAt,
		CreatedAt: r.now(),
	}
	if err := repo.Save(ctx, token); err != nil {
		return nil, fmt.Errorf("store %s token: %w", tokenType, err)
	}
	return token, nil
}

// Rotate retires every live token of account and issues a fresh access and
// refresh pair. Callers must serialize Rotate per account.
func (r *Rotator) Rotate(
	ctx context.Context,
	repo domain.TokenRepository,
	account *domain.Account,
	subject jwt.Subject,
) (*domain.TokenPair, error) {
	if _, err := r.RevokeAllValid(ctx, repo, account.ID); err != nil {
		return nil, err
	}
	access, err := r.IssueAndStore(ctx, repo, account, subject, domain.TokenAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := r.IssueAndStore(ctx, repo, account, subject, domain.TokenRefresh)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{
		AccessToken:      access.Value,
		RefreshToken:     refresh.Value,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// Lookup returns the stored record for value, or domain.ErrNotFound.
func Lookup(ctx context.Context, repo domain.TokenRepository, value string) (*domain.IssuedToken, error) {
	if value == "" {
		return nil, domain.ErrNotFound
	}
	t, err := repo.FindByToken(ctx, value)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	return t, nil
}

// Fingerprint returns a short, non-reversible tag for logging a token value.
func Fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:6])
}
