package internaldefs

import (
	"github.com/MrEthical07/authflow"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authflow.MetricLoginSuccess, Name: "authflow_login_success_total", Help: "Primary authentications accepted by the authority."},
	{ID: authflow.MetricLoginFailure, Name: "authflow_login_failure_total", Help: "Primary authentications rejected or failed."},
	{ID: authflow.MetricLoginRateLimited, Name: "authflow_login_rate_limited_total", Help: "Logins that started a lockout."},
	{ID: authflow.MetricMFARequired, Name: "authflow_mfa_required_total", Help: "Logins that required a second factor."},
	{ID: authflow.MetricMFASuccess, Name: "authflow_mfa_success_total", Help: "Accepted second-factor codes."},
	{ID: authflow.MetricMFAFailure, Name: "authflow_mfa_failure_total", Help: "Rejected second-factor codes."},
	{ID: authflow.MetricCodeSent, Name: "authflow_code_sent_total", Help: "Verification codes requested."},
	{ID: authflow.MetricCodeResent, Name: "authflow_code_resent_total", Help: "Verification codes re-requested after the cooldown."},
	{ID: authflow.MetricCodeExpired, Name: "authflow_code_expired_total", Help: "Verification codes that expired before use."},
	{ID: authflow.MetricCodeInvalid, Name: "authflow_code_invalid_total", Help: "Verification codes rejected as wrong."},
	{ID: authflow.MetricResyncSuccess, Name: "authflow_resync_success_total", Help: "Expiry resyncs applied."},
	{ID: authflow.MetricResyncFailure, Name: "authflow_resync_failure_total", Help: "Expiry resyncs that failed."},
	{ID: authflow.MetricResyncDiscarded, Name: "authflow_resync_discarded_total", Help: "Expiry resyncs dropped as stale."},
	{ID: authflow.MetricRegistrationSuccess, Name: "authflow_registration_success_total", Help: "Accounts created."},
	{ID: authflow.MetricEnrollmentCompleted, Name: "authflow_enrollment_completed_total", Help: "TOTP enrollments completed."},
	{ID: authflow.MetricReverifySuccess, Name: "authflow_reverify_success_total", Help: "In-session re-verifications completed."},
	{ID: authflow.MetricPasswordChanged, Name: "authflow_password_changed_total", Help: "Password changes accepted."},
	{ID: authflow.MetricProfileUpdated, Name: "authflow_profile_updated_total", Help: "Profile changes accepted."},
	{ID: authflow.MetricFlowCancelled, Name: "authflow_flow_cancelled_total", Help: "Flows abandoned by the user."},
	{ID: authflow.MetricSessionRejected, Name: "authflow_session_rejected_total", Help: "Sessions cleared after the authority rejected their token."},
	{ID: authflow.MetricRefreshSuccess, Name: "authflow_refresh_success_total", Help: "Access tokens renewed."},
	{ID: authflow.MetricRefreshFailure, Name: "authflow_refresh_failure_total", Help: "Access token renewals that failed."},
	{ID: authflow.MetricRemoteSessionChange, Name: "authflow_remote_session_change_total", Help: "Session changes received from other tabs."},
}

var HistogramDefs = []HistogramDef{
	{ID: authflow.MetricAuthorityLatency, Name: "authflow_authority_latency_seconds", Help: "Round-trip latency of authority calls."},
}

// HistogramBounds are the bucket upper bounds in seconds, +Inf last.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramUpperBounds are HistogramBounds without +Inf, as numbers.
var HistogramUpperBounds = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// HistogramBoundSuffix renders each bound as an instrument-name suffix.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
