package domain

import "time"

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "ACCESS"
	TokenRefresh TokenType = "REFRESH"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	return t == TokenAccess || t == TokenRefresh
}

// IssuedToken is one persisted access or refresh token.
type IssuedToken struct {
	ID        string
	AccountID string
	Value     string
	Type      TokenType
	Expired   bool
	Revoked   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Live reports whether the store still considers the token active.
func (t *IssuedToken) Live() bool {
	return t != nil && !t.Expired && !t.Revoked
}

// Usable reports whether the token is live and its expiry is still ahead of now.
func (t *IssuedToken) Usable(now time.Time) bool {
	return t.Live() && now.Before(t.ExpiresAt)
}

// Clone returns a copy of the token record.
func (t *IssuedToken) Clone() *IssuedToken {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

// TokenPair is the result of every successful login, refresh or reset.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
