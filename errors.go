package guardian

import (
	"errors"
	"fmt"
)

var (
	// ErrIPBlocked is returned while the caller's source address is throttled.
	ErrIPBlocked = errors.New("source address blocked")
	// ErrForbiddenRole is returned when a public registration asks for a privileged role.
	ErrForbiddenRole = errors.New("role not allowed for self-registration")
	// ErrInvalidRole is returned when a public registration asks for an unknown role.
	ErrInvalidRole = errors.New("invalid role")
	// ErrEmailExists is returned when the email is already registered.
	ErrEmailExists = errors.New("email already registered")
	// ErrBadCredentials covers both an unknown email and a wrong password.
	ErrBadCredentials = errors.New("bad credentials")
	// ErrAccountLockedPermanent is returned for accounts that never auto-unlock.
	ErrAccountLockedPermanent = errors.New("account locked permanently")
	// ErrAccountLockedTemporary matches every *LockedError.
	ErrAccountLockedTemporary = errors.New("account locked temporarily")
	// ErrRoleNotFound is returned when a role is missing from the role repository.
	ErrRoleNotFound = errors.New("role not found")
	// ErrAccountNotFound is returned by administrative operations on unknown emails.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidRequest matches every *ValidationError.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTokenInvalid is returned by ValidateAccess for any rejected access token.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrPermissionDenied is returned when a principal lacks a required privilege.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTOTPRequired is returned when a second-factor account logs in without a code.
	ErrTOTPRequired = errors.New("one-time code required")
	// ErrTOTPInvalid is returned for a wrong or reused code. It also matches ErrBadCredentials.
	ErrTOTPInvalid = fmt.Errorf("%w: invalid one-time code", ErrBadCredentials)
	// ErrTOTPNotConfigured is returned when enabling before setup.
	ErrTOTPNotConfigured = errors.New("one-time codes not set up")
	// ErrEngineNotReady is returned when an Engine was not built by Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError reports a temporary lock and how long it still holds.
type LockedError struct {
	SecondsRemaining int64
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: %d seconds remaining", ErrAccountLockedTemporary.Error(), e.SecondsRemaining)
}

// Is lets errors.Is(err, ErrAccountLockedTemporary) match.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLockedTemporary
}

func newLockedError(secondsRemaining int64) error {
	if secondsRemaining < 0 {
		secondsRemaining = 0
	}
	return &LockedError{SecondsRemaining: secondsRemaining}
}
