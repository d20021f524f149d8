package guardian

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/guardian/jwt"
)

const (
	auditEventRegisterSuccess      = "register_success"
	auditEventRegisterFailure      = "register_failure"
	auditEventIPBlocked            = "ip_blocked"
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginLockedRejected  = "login_locked_rejected"
	auditEventAccountAutoUnlocked  = "account_auto_unlocked"
	auditEventAccountLocked        = "account_locked"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventLogout               = "logout"
	auditEventPasswordReset        = "password_reset"
	auditEventPasswordResetFailure = "password_reset_failure"
	auditEventAccountUnlocked      = "account_unlocked"
	auditEventAccountAdminLocked   = "account_admin_locked"
	auditEventAccountLockReset     = "account_lock_reset"
	auditEventTOTPSetupRequested   = "totp_setup_requested"
	auditEventTOTPEnabled          = "totp_enabled"
	auditEventTOTPDisabled         = "totp_disabled"
	auditEventTOTPFailure          = "totp_failure"
)

// AuditErrorCode is the stable error label recorded on failed audit events.
type AuditErrorCode string

const (
	auditErrIPBlocked       AuditErrorCode = "ip_blocked"
	auditErrForbiddenRole   AuditErrorCode = "forbidden_role"
	auditErrInvalidRole     AuditErrorCode = "invalid_role"
	auditErrDuplicate       AuditErrorCode = "duplicate"
	auditErrBadCredentials  AuditErrorCode = "bad_credentials"
	auditErrAccountLocked   AuditErrorCode = "account_locked"
	auditErrRoleNotFound    AuditErrorCode = "role_not_found"
	auditErrAccountNotFound AuditErrorCode = "account_not_found"
	auditErrInvalidRequest  AuditErrorCode = "invalid_request"
	auditErrInvalidToken    AuditErrorCode = "invalid_token"
	auditErrTOTPInvalid     AuditErrorCode = "totp_invalid"
	auditErrTOTPRequired    AuditErrorCode = "totp_required"
	auditErrTOTPNotSetUp    AuditErrorCode = "totp_not_set_up"
	auditErrInternal        AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	email string,
	ip string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	if ip == "" {
		ip = ClientIPFromContext(ctx)
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		Email:     email,
		IP:        ip,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	if eventType == auditEventRefreshInvalid && err != nil {
		event.Error = string(auditErrInvalidToken)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrIPBlocked):
		return auditErrIPBlocked
	case errors.Is(err, ErrForbiddenRole):
		return auditErrForbiddenRole
	case errors.Is(err, ErrInvalidRole):
		return auditErrInvalidRole
	case errors.Is(err, ErrEmailExists):
		return auditErrDuplicate
	case errors.Is(err, ErrTOTPInvalid):
		return auditErrTOTPInvalid
	case errors.Is(err, ErrTOTPRequired):
		return auditErrTOTPRequired
	case errors.Is(err, ErrTOTPNotConfigured):
		return auditErrTOTPNotSetUp
	case errors.Is(err, ErrBadCredentials):
		return auditErrBadCredentials
	case errors.Is(err, ErrAccountLockedPermanent),
		errors.Is(err, ErrAccountLockedTemporary):
		return auditErrAccountLocked
	case errors.Is(err, ErrRoleNotFound):
		return auditErrRoleNotFound
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, jwt.ErrInvalidToken):
		return auditErrInvalidToken
	default:
		return auditErrInternal
	}
}
