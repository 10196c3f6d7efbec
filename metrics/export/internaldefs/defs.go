package internaldefs

import (
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// Area groups counters by the part of the identity model they observe.
type Area string

const (
	AreaUser    Area = "user"
	AreaSession Area = "session"
	AreaGroup   Area = "group"
	AreaAgent   Area = "agent"
	AreaStore   Area = "store"
)

// Areas lists every Area in export order.
var Areas = []Area{AreaUser, AreaSession, AreaGroup, AreaAgent, AreaStore}

// CounterDef binds an engine counter to its exported name and area.
type CounterDef struct {
	ID   goIdentity.MetricID
	Area Area
	Name string
	Help string
}

// Operation is Name without the identity_ prefix and _total suffix, e.g.
// "login_success". It labels the counter inside its area.
func (d CounterDef) Operation() string {
	return strings.TrimSuffix(strings.TrimPrefix(d.Name, "identity_"), "_total")
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   goIdentity.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goIdentity.MetricRegisterSuccess, Area: AreaUser, Name: "identity_register_success_total", Help: "Users registered."},
	{ID: goIdentity.MetricRegisterDuplicate, Area: AreaUser, Name: "identity_register_duplicate_total", Help: "Registrations rejected because the user or email exists."},
	{ID: goIdentity.MetricLoginSuccess, Area: AreaUser, Name: "identity_login_success_total", Help: "Successful user logins."},
	{ID: goIdentity.MetricLoginFailure, Area: AreaUser, Name: "identity_login_failure_total", Help: "Failed user logins."},
	{ID: goIdentity.MetricMFARequired, Area: AreaUser, Name: "identity_mfa_required_total", Help: "Password logins that require a TOTP step."},
	{ID: goIdentity.MetricTOTPSuccess, Area: AreaUser, Name: "identity_totp_success_total", Help: "Accepted TOTP codes."},
	{ID: goIdentity.MetricTOTPFailure, Area: AreaUser, Name: "identity_totp_failure_total", Help: "Rejected TOTP codes."},
	{ID: goIdentity.MetricTOTPReplay, Area: AreaUser, Name: "identity_totp_replay_total", Help: "TOTP codes rejected as replays."},
	{ID: goIdentity.MetricRateLimitHit, Area: AreaSession, Name: "identity_rate_limit_hit_total", Help: "Attempts denied by a rate limiter."},
	{ID: goIdentity.MetricSessionCreated, Area: AreaSession, Name: "identity_session_created_total", Help: "Sessions opened by users and agents."},
	{ID: goIdentity.MetricLogout, Area: AreaSession, Name: "identity_logout_total", Help: "Sessions closed."},
	{ID: goIdentity.MetricAuthTokenVerified, Area: AreaSession, Name: "identity_auth_token_verified_total", Help: "Auth tokens exchanged for identity tokens."},
	{ID: goIdentity.MetricAuthTokenRejected, Area: AreaSession, Name: "identity_auth_token_rejected_total", Help: "Tokens rejected by verification."},
	{ID: goIdentity.MetricConfirmationRequested, Area: AreaUser, Name: "identity_confirmation_requested_total", Help: "Email confirmation requests."},
	{ID: goIdentity.MetricConfirmed, Area: AreaUser, Name: "identity_confirmed_total", Help: "Confirmed email addresses."},
	{ID: goIdentity.MetricPasswordChanged, Area: AreaUser, Name: "identity_password_changed_total", Help: "Password changes."},
	{ID: goIdentity.MetricGroupCreated, Area: AreaGroup, Name: "identity_group_created_total", Help: "Groups created."},
	{ID: goIdentity.MetricInvitationIssued, Area: AreaGroup, Name: "identity_invitation_issued_total", Help: "Group invitations issued."},
	{ID: goIdentity.MetricInvitationConsumed, Area: AreaGroup, Name: "identity_invitation_consumed_total", Help: "Group invitations accepted."},
	{ID: goIdentity.MetricAccessTokenIssued, Area: AreaGroup, Name: "identity_access_token_issued_total", Help: "Group access tokens issued."},
	{ID: goIdentity.MetricACLTokenIssued, Area: AreaGroup, Name: "identity_acl_token_issued_total", Help: "ACL tokens issued."},
	{ID: goIdentity.MetricAuthorizationDenied, Area: AreaGroup, Name: "identity_authorization_denied_total", Help: "Commands denied by role or membership checks."},
	{ID: goIdentity.MetricAgentCreated, Area: AreaAgent, Name: "identity_agent_created_total", Help: "Agents created."},
	{ID: goIdentity.MetricAgentDeleted, Area: AreaAgent, Name: "identity_agent_deleted_total", Help: "Agents deleted."},
	{ID: goIdentity.MetricAgentLoginSuccess, Area: AreaAgent, Name: "identity_agent_login_success_total", Help: "Successful agent logins."},
	{ID: goIdentity.MetricAgentLoginFailure, Area: AreaAgent, Name: "identity_agent_login_failure_total", Help: "Failed agent logins."},
	{ID: goIdentity.MetricCredentialsCreated, Area: AreaAgent, Name: "identity_credentials_created_total", Help: "Agent credentials created."},
	{ID: goIdentity.MetricCredentialsRevealed, Area: AreaAgent, Name: "identity_credentials_revealed_total", Help: "Agent credential secrets revealed."},
	{ID: goIdentity.MetricCredentialsDeleted, Area: AreaAgent, Name: "identity_credentials_deleted_total", Help: "Agent credentials deleted."},
	{ID: goIdentity.MetricConcurrencyRetry, Area: AreaStore, Name: "identity_concurrency_retry_total", Help: "Commands retried after an append conflict."},
	{ID: goIdentity.MetricRetriesExhausted, Area: AreaStore, Name: "identity_retries_exhausted_total", Help: "Commands abandoned after repeated append conflicts."},
	{ID: goIdentity.MetricSnapshotWritten, Area: AreaStore, Name: "identity_snapshot_written_total", Help: "Aggregate snapshots written."},
	{ID: goIdentity.MetricSnapshotFailure, Area: AreaStore, Name: "identity_snapshot_failure_total", Help: "Aggregate snapshot writes that failed."},
	{ID: goIdentity.MetricPublishFailure, Area: AreaStore, Name: "identity_publish_failure_total", Help: "Committed events the publisher failed to deliver."},
	{ID: goIdentity.MetricProjectionFailure, Area: AreaStore, Name: "identity_projection_failure_total", Help: "Cross-aggregate projections that failed."},
	{ID: goIdentity.MetricInfrastructureFailure, Area: AreaStore, Name: "identity_infrastructure_failure_total", Help: "Storage, signer or encryption failures."},
}

var HistogramDefs = []HistogramDef{
	{ID: goIdentity.MetricCommandLatency, Name: "identity_command_latency_seconds", Help: "Command latency histogram."},
}

// HistogramBounds are the upper bounds of the buckets in text form.
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

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	bounds := goIdentity.HistogramBounds()
	out := make([]float64, len(bounds))
	for i, b := range bounds {
		out[i] = b.Seconds()
	}
	return out
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
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
