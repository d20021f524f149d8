package internaldefs

import (
	"github.com/MrEthical07/guardian"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   guardian.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine latency histogram to its exported name.
type HistogramDef struct {
	ID   guardian.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter in export order.
var CounterDefs = []CounterDef{
	{ID: guardian.MetricRegisterSuccess, Name: "guardian_register_success_total", Help: "Accounts created."},
	{ID: guardian.MetricRegisterFailure, Name: "guardian_register_failure_total", Help: "Rejected registrations."},
	{ID: guardian.MetricRegisterIPBlocked, Name: "guardian_register_ip_blocked_total", Help: "Registrations refused for a throttled address."},
	{ID: guardian.MetricLoginSuccess, Name: "guardian_login_success_total", Help: "Successful logins."},
	{ID: guardian.MetricLoginFailure, Name: "guardian_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: guardian.MetricLoginIPBlocked, Name: "guardian_login_ip_blocked_total", Help: "Logins refused for a throttled address."},
	{ID: guardian.MetricLoginLockedRejected, Name: "guardian_login_locked_rejected_total", Help: "Logins refused for a locked account."},
	{ID: guardian.MetricLoginAutoUnlocked, Name: "guardian_login_auto_unlocked_total", Help: "Expired locks lifted during login."},
	{ID: guardian.MetricPasswordUpgraded, Name: "guardian_password_upgraded_total", Help: "Password hashes upgraded after login."},
	{ID: guardian.MetricAccountLocked, Name: "guardian_account_locked_total", Help: "Accounts locked by failed attempts."},
	{ID: guardian.MetricRefreshSuccess, Name: "guardian_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: guardian.MetricRefreshInvalid, Name: "guardian_refresh_invalid_total", Help: "Rejected refresh tokens."},
	{ID: guardian.MetricLogout, Name: "guardian_logout_total", Help: "Tokens retired by logout."},
	{ID: guardian.MetricLogoutNoop, Name: "guardian_logout_noop_total", Help: "Logouts that found no live token."},
	{ID: guardian.MetricPasswordResetSuccess, Name: "guardian_password_reset_success_total", Help: "Profile password resets."},
	{ID: guardian.MetricPasswordResetFailure, Name: "guardian_password_reset_failure_total", Help: "Failed profile password resets."},
	{ID: guardian.MetricAccountUnlocked, Name: "guardian_account_unlocked_total", Help: "Administrative unlocks."},
	{ID: guardian.MetricAccountAdminLocked, Name: "guardian_account_admin_locked_total", Help: "Administrative locks."},
	{ID: guardian.MetricAccountLockReset, Name: "guardian_account_lock_reset_total", Help: "Administrative lock history resets."},
	{ID: guardian.MetricAccessValid, Name: "guardian_access_valid_total", Help: "Accepted access tokens."},
	{ID: guardian.MetricAccessInvalid, Name: "guardian_access_invalid_total", Help: "Rejected access tokens."},
	{ID: guardian.MetricTOTPEnabled, Name: "guardian_totp_enabled_total", Help: "Second factors enabled."},
	{ID: guardian.MetricTOTPDisabled, Name: "guardian_totp_disabled_total", Help: "Second factors disabled."},
	{ID: guardian.MetricTOTPFailure, Name: "guardian_totp_failure_total", Help: "Rejected one-time codes."},
	{ID: guardian.MetricTOTPRequired, Name: "guardian_totp_required_total", Help: "Logins stopped for a missing one-time code."},
}

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: guardian.MetricLoginLatency, Name: "guardian_login_latency_seconds", Help: "Login latency."},
	{ID: guardian.MetricValidateLatency, Name: "guardian_validate_latency_seconds", Help: "Access token validation latency."},
}

const (
	AuditDroppedName         = "guardian_audit_dropped_total"
	AuditDroppedHelp         = "Audit events dropped on a full buffer."
	NotificationsDroppedName = "guardian_notifications_dropped_total"
	NotificationsDroppedHelp = "Notifications dropped on a full queue."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// engine bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters
// that flatten buckets into separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// BucketCount is the number of engine buckets, +Inf included.
const BucketCount = 8

// NormalizeBuckets pads or truncates raw to BucketCount entries.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
