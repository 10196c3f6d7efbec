package goIdentity

import (
	"time"

	"github.com/MrEthical07/goIdentity/token"
)

// MFATypeTOTP is the second factor announced by LoginResult.TypeMFA.
const MFATypeTOTP = "TOTP"

// RegisterResult is returned by Users.RegisterPWA.
type RegisterResult struct {
	UserID string `json:"userId"`
}

// LoginResult is either a session (AuthToken, SessionID) or a second-factor
// challenge (MFAToken, TypeMFA). Locale is always set.
type LoginResult struct {
	AuthToken string `json:"authToken,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	MFAToken  string `json:"mfaToken,omitempty"`
	TypeMFA   string `json:"typeMFA,omitempty"`
	Locale    string `json:"locale"`
}

// MFARequired reports whether the login must be completed with
// Users.LogInTOTP.
func (r LoginResult) MFARequired() bool { return r.MFAToken != "" }

// TOTPSecret is the pending secret revealed once during enrollment.
type TOTPSecret struct {
	Base32 string `json:"base32"`
	URI    string `json:"otpauthUrl"`
}

// UserView is the caller's own projection.
type UserView struct {
	UID         string                    `json:"uid"`
	Email       string                    `json:"email"`
	Locale      string                    `json:"locale"`
	CreatedAt   time.Time                 `json:"createdAt"`
	Confirmed   bool                      `json:"confirmed"`
	ConfirmedAt *time.Time                `json:"confirmedAt,omitempty"`
	TOTPActive  bool                      `json:"totpActive"`
	Groups      map[string]MembershipView `json:"groups"`
	Invitations map[string]InvitationView `json:"invitations"`
}

type MembershipView struct {
	GroupID string `json:"groupId"`
	Label   string `json:"label"`
	Role    string `json:"role"`
}

// InvitationView is a pending invitation as seen by the invitee. InvitedBy
// is the inviting admin's email.
type InvitationView struct {
	Label           string    `json:"label"`
	InvitationToken string    `json:"invitationToken"`
	InvitedBy       string    `json:"invitedBy"`
	InvitedAt       time.Time `json:"invitedAt"`
}

// GroupView is returned to members by Groups.Get. Members keep join order.
type GroupView struct {
	UID         string                         `json:"uid"`
	CreatedAt   time.Time                      `json:"createdAt"`
	Label       string                         `json:"label"`
	Members     []MemberView                   `json:"members"`
	Agents      map[string]AgentSummary        `json:"agents"`
	Invitations map[string]GroupInvitationView `json:"invitations"`
}

type MemberView struct {
	User token.UserInfo `json:"user"`
	Role string         `json:"role"`
}

type AgentSummary struct {
	UID       string    `json:"uid"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

// GroupInvitationView omits the invitation token; only the invitee sees it.
type GroupInvitationView struct {
	Email     string    `json:"email"`
	InvitedBy string    `json:"invitedBy"`
	InvitedAt time.Time `json:"invitedAt"`
}

// AgentView is returned by Agents.Get. Credentials never include secrets.
type AgentView struct {
	UID         string                       `json:"uid"`
	GroupID     string                       `json:"groupId"`
	Label       string                       `json:"label"`
	CreatedAt   time.Time                    `json:"createdAt"`
	Credentials map[string]CredentialSummary `json:"credentials"`
}

type CredentialSummary struct {
	UID       string    `json:"uid"`
	CreatedAt time.Time `json:"createdAt"`
}

// Credentials is a revealed agent credential. Secret is hex encoded.
type Credentials struct {
	UID       string    `json:"uid"`
	CreatedAt time.Time `json:"createdAt"`
	Secret    string    `json:"secret"`
}

// AgentSession is returned by Agents.LogIn.
type AgentSession struct {
	SessionID string `json:"sessionId"`
	AuthToken string `json:"authToken"`
}

// LogQuery selects a page of an aggregate's history. Zero values read from
// the beginning with the configured default limit.
type LogQuery struct {
	From         time.Time
	AfterVersion uint64
	Limit        int
}

// LogEntry is one decrypted event.
type LogEntry struct {
	Name       string    `json:"name"`
	Version    uint64    `json:"version"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// LogPage is one page of history. When More is set, pass NextVersion as
// AfterVersion to continue.
type LogPage struct {
	Events      []LogEntry `json:"events"`
	Count       int        `json:"count"`
	Limit       int        `json:"limit"`
	More        bool       `json:"more"`
	NextVersion uint64     `json:"nextVersion,omitempty"`
}
