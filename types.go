package guardian

import (
	"slices"
	"time"

	"github.com/MrEthical07/guardian/domain"
)

// Account is the persisted identity record.
type Account = domain.Account

// TokenPair is an access token and a refresh token issued together.
type TokenPair = domain.TokenPair

// Role names a set of privileges.
type Role = domain.Role

// Store is the persistence the engine runs on.
type Store = domain.Store

// RegisterRequest is the input of Register and RegisterByAdmin. An empty
// Role means the default role.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"omitempty,max=120"`
	Password string `json:"password" validate:"required,max=1024"`
	Role     string `json:"role" validate:"omitempty,max=64"`
}

// LoginRequest is the input of Login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// LoginWithTOTPRequest is the input of LoginWithTOTP.
type LoginWithTOTPRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
	Code     string `json:"code" validate:"required,numeric,max=8"`
}

// TOTPSetup is returned by SetupTOTP. Show URI as a QR code; Secret is the
// same key for manual entry.
type TOTPSetup struct {
	Secret string
	URI    string
}

// Principal is the identity behind a valid access token.
type Principal struct {
	AccountID  string
	Email      string
	Name       string
	Roles      []string
	Privileges []string
	TokenID    string
}

// HasRole reports whether the principal carries role.
func (p *Principal) HasRole(role string) bool {
	return p != nil && slices.Contains(p.Roles, role)
}

// HasPrivilege reports whether the principal carries privilege.
func (p *Principal) HasPrivilege(privilege string) bool {
	return p != nil && slices.Contains(p.Privileges, privilege)
}

// AccountStatus is a read-only view of an account's lockout state.
type AccountStatus struct {
	Email            string
	State            string
	Locked           bool
	Permanent        bool
	FailedAttempts   int
	LockCount        int
	LockedAt         *time.Time
	SecondsRemaining int64
}

// Stats counts accounts in the store.
type Stats struct {
	Total  int
	Locked int
}
