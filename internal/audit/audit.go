package audit

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/internal/relay"
)

// Action names a security-relevant identity operation.
type Action string

const (
	ActionRegister              Action = "register"
	ActionLogin                 Action = "login"
	ActionLoginMFARequired      Action = "login_mfa_required"
	ActionLoginTOTP             Action = "login_totp"
	ActionLogout                Action = "logout"
	ActionPasswordChanged       Action = "password_changed"
	ActionPasswordRehashed      Action = "password_rehashed"
	ActionConfirmationRequested Action = "confirmation_requested"
	ActionConfirmed             Action = "confirmed"
	ActionTOTPActivated         Action = "totp_activated"
	ActionGroupCreated          Action = "group_created"
	ActionInvitationIssued      Action = "invitation_issued"
	ActionInvitationRevoked     Action = "invitation_revoked"
	ActionGroupJoined           Action = "group_joined"
	ActionGroupLeft             Action = "group_left"
	ActionAccessTokenIssued     Action = "access_token_issued"
	ActionACLTokenIssued        Action = "acl_token_issued"
	ActionAuthorizationDenied   Action = "authorization_denied"
	ActionAgentCreated          Action = "agent_created"
	ActionAgentDeleted          Action = "agent_deleted"
	ActionCredentialsCreated    Action = "credentials_created"
	ActionCredentialsRevealed   Action = "credentials_revealed"
	ActionCredentialsDeleted    Action = "credentials_deleted"
	ActionAgentLogin            Action = "agent_login"
	ActionAgentLogout           Action = "agent_logout"
	ActionProjectionFailure     Action = "projection_failure"
	ActionRateLimited           Action = "rate_limited"
)

// Event is one audited outcome. Principals and sessions are referenced by
// id; token values and secrets never appear, see Scrub.
type Event struct {
	Time      time.Time         `json:"time"`
	Action    Action            `json:"action"`
	UserID    string            `json:"user_id,omitempty"`
	AgentID   string            `json:"agent_id,omitempty"`
	GroupID   string            `json:"group_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Principal reports who acted. Agent sessions take precedence over the
// admin user that may also be named on agent lifecycle events.
func (e Event) Principal() (kind, id string) {
	switch {
	case e.AgentID != "" && e.UserID == "":
		return "agent", e.AgentID
	case e.UserID != "":
		return "user", e.UserID
	default:
		return "anonymous", ""
	}
}

// credentialMarkers are metadata key fragments whose values are dropped.
var credentialMarkers = []string{"token", "secret", "password", "totp", "otp"}

const redacted = "[redacted]"

// Scrub returns evt with credential-looking metadata values replaced. The
// input map is never modified.
func Scrub(evt Event) Event {
	if len(evt.Metadata) == 0 {
		return evt
	}
	md := make(map[string]string, len(evt.Metadata))
	for k, v := range evt.Metadata {
		key := strings.ToLower(k)
		for _, m := range credentialMarkers {
			if strings.Contains(key, m) {
				v = redacted
				break
			}
		}
		md[k] = v
	}
	evt.Metadata = md
	return evt
}

// Config controls the Trail queue.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Trail stamps, scrubs and relays events to a Sink off the request path.
// A nil *Trail is a disabled audit trail.
type Trail struct {
	relay *relay.Relay[Event]
	now   func() time.Time
}

// NewTrail returns nil when cfg is disabled.
func NewTrail(cfg Config, sink Sink, now func() time.Time) *Trail {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = Discard{}
	}
	if now == nil {
		now = time.Now
	}
	deliver := func(ctx context.Context, evt Event) error {
		sink.Emit(ctx, evt)
		return nil
	}
	return &Trail{
		relay: relay.New(relay.Config{BufferSize: cfg.BufferSize, DropIfFull: cfg.DropIfFull}, deliver),
		now:   now,
	}
}

// Record queues evt for the sink.
func (t *Trail) Record(ctx context.Context, evt Event) {
	if t == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = t.now().UTC()
	}
	t.relay.Offer(ctx, Scrub(evt))
}

// Close delivers what is queued and stops the trail.
func (t *Trail) Close() {
	if t == nil {
		return
	}
	t.relay.Close()
}

// Dropped counts events lost to a full queue or recorded after Close.
func (t *Trail) Dropped() uint64 {
	if t == nil {
		return 0
	}
	return t.relay.Dropped()
}
