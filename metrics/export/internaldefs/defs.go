package internaldefs

import (
	"github.com/MrEthical07/authlab"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authlab.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   authlab.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: authlab.MetricLoginSuccess, Name: "authlab_login_success_total", Help: "Successful password checks."},
	{ID: authlab.MetricLoginFailure, Name: "authlab_login_failure_total", Help: "Rejected login attempts."},
	{ID: authlab.MetricSessionCreated, Name: "authlab_session_created_total", Help: "Created sessions."},
	{ID: authlab.MetricSessionValidated, Name: "authlab_session_validated_total", Help: "Accepted session lookups."},
	{ID: authlab.MetricSessionExpired, Name: "authlab_session_expired_total", Help: "Session lookups past their absolute lifetime."},
	{ID: authlab.MetricSessionRejected, Name: "authlab_session_rejected_total", Help: "Session lookups for unknown ids."},
	{ID: authlab.MetricLogout, Name: "authlab_logout_total", Help: "Single session or token logouts."},
	{ID: authlab.MetricLogoutAll, Name: "authlab_logout_all_total", Help: "Logout-all operations."},
	{ID: authlab.MetricTokenIssued, Name: "authlab_token_issued_total", Help: "Issued access and refresh token pairs."},
	{ID: authlab.MetricAccessValidated, Name: "authlab_access_validated_total", Help: "Accepted access tokens."},
	{ID: authlab.MetricAccessRejected, Name: "authlab_access_rejected_total", Help: "Rejected access tokens."},
	{ID: authlab.MetricRefreshSuccess, Name: "authlab_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authlab.MetricRefreshFailure, Name: "authlab_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: authlab.MetricRefreshReuseDetected, Name: "authlab_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: authlab.MetricMFASetupStarted, Name: "authlab_mfa_setup_started_total", Help: "TOTP enrollments started."},
	{ID: authlab.MetricMFAActivated, Name: "authlab_mfa_activated_total", Help: "TOTP enrollments activated."},
	{ID: authlab.MetricMFADisabled, Name: "authlab_mfa_disabled_total", Help: "TOTP enrollments removed."},
	{ID: authlab.MetricMFALoginRequired, Name: "authlab_mfa_login_required_total", Help: "Logins paused for a second factor."},
	{ID: authlab.MetricMFALoginSuccess, Name: "authlab_mfa_login_success_total", Help: "Second-factor logins completed."},
	{ID: authlab.MetricMFALoginFailure, Name: "authlab_mfa_login_failure_total", Help: "Wrong codes on pending logins."},
	{ID: authlab.MetricMFAChallengeExhausted, Name: "authlab_mfa_challenge_exhausted_total", Help: "Pending logins dropped at the attempt limit."},
	{ID: authlab.MetricBackupCodeUsed, Name: "authlab_backup_code_used_total", Help: "Accepted backup codes."},
	{ID: authlab.MetricBackupCodeFailed, Name: "authlab_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: authlab.MetricOAuthLoginSuccess, Name: "authlab_oauth_login_success_total", Help: "Completed OAuth logins."},
	{ID: authlab.MetricOAuthLoginFailure, Name: "authlab_oauth_login_failure_total", Help: "Failed OAuth logins."},
	{ID: authlab.MetricInternalError, Name: "authlab_internal_error_total", Help: "Backend failures surfaced as internal errors."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authlab.MetricValidateLatency, Name: "authlab_validate_latency_seconds", Help: "Session and access token validation latency."},
}

// HistogramBounds are the Prometheus le labels of the latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names the per-bucket OTel gauges.
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

// NormalizeBuckets pads or truncates raw to the eight engine buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
