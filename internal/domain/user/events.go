// Package user is the User aggregate: registration, sessions, confirmation,
// TOTP enrollment and the user's view of group memberships and invitations.
package user

import (
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
)

// AggregateType names user streams.
const AggregateType = "users"

const (
	EventRegistered            = "UserWithPWARegistered"
	EventLoggedIn              = "UserLoggedIn"
	EventLoggedOut             = "UserLoggedOut"
	EventConfirmationRequested = "UserConfirmationRequested"
	EventConfirmed             = "UserConfirmed"
	EventPasswordChanged       = "UserPasswordChanged"
	EventTOTPGenerated         = "UserTOTPGenerated"
	EventTOTPRetrieved         = "UserGeneratedTOTPRetrieved"
	EventTOTPActivated         = "UserTOTPActivated"
	EventMembershipAdded       = "UserGroupMembershipAdded"
	EventMembershipRemoved     = "UserGroupMembershipRemoved"
	EventGroupRenamed          = "UserGroupRenamed"
	EventInvitationReceived    = "UserInvitationReceived"
	EventInvitationRevoked     = "UserInvitationRevoked"
)

type Registered struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	Locale       string    `json:"locale"`
	CreatedAt    time.Time `json:"createdAt"`
}

// LoggedIn opens a session. TokenHash is the digest of the issued authToken.
// TOTPCounter is set when the session was opened with a second factor.
type LoggedIn struct {
	UserID      string    `json:"userId"`
	SessionID   string    `json:"sessionId"`
	TokenHash   string    `json:"tokenHash"`
	TOTPCounter uint64    `json:"totpCounter,omitempty"`
	LoggedInAt  time.Time `json:"loggedInAt"`
}

type LoggedOut struct {
	UserID      string    `json:"userId"`
	SessionID   string    `json:"sessionId"`
	LoggedOutAt time.Time `json:"loggedOutAt"`
}

// ConfirmationRequested carries the signed token so a mailer consuming
// the bus can deliver it.
type ConfirmationRequested struct {
	UserID            string    `json:"userId"`
	TokenID           string    `json:"tokenId"`
	ConfirmationToken string    `json:"confirmationToken"`
	RequestedAt       time.Time `json:"requestedAt"`
}

type Confirmed struct {
	UserID      string    `json:"userId"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

type PasswordChanged struct {
	UserID       string    `json:"userId"`
	PasswordHash string    `json:"passwordHash"`
	ChangedAt    time.Time `json:"changedAt"`
}

type TOTPGenerated struct {
	UserID      string    `json:"userId"`
	Secret      string    `json:"secret"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type TOTPRetrieved struct {
	UserID      string    `json:"userId"`
	RetrievedAt time.Time `json:"retrievedAt"`
}

type TOTPActivated struct {
	UserID      string    `json:"userId"`
	Counter     uint64    `json:"counter"`
	ActivatedAt time.Time `json:"activatedAt"`
}

type MembershipAdded struct {
	UserID   string    `json:"userId"`
	GroupID  string    `json:"groupId"`
	Label    string    `json:"label"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type MembershipRemoved struct {
	UserID    string    `json:"userId"`
	GroupID   string    `json:"groupId"`
	RemovedAt time.Time `json:"removedAt"`
}

type GroupRenamed struct {
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
	Label   string `json:"label"`
}

type InvitationReceived struct {
	UserID    string    `json:"userId"`
	GroupID   string    `json:"groupId"`
	Label     string    `json:"label"`
	Token     string    `json:"invitationToken"`
	InvitedBy string    `json:"invitedBy"`
	InvitedAt time.Time `json:"invitedAt"`
}

type InvitationRevoked struct {
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
}

// RegisterEvents binds every user event name to its payload type.
func RegisterEvents(r *eventstore.Registry) {
	r.Register(EventRegistered, func() any { return &Registered{} })
	r.Register(EventLoggedIn, func() any { return &LoggedIn{} })
	r.Register(EventLoggedOut, func() any { return &LoggedOut{} })
	r.Register(EventConfirmationRequested, func() any { return &ConfirmationRequested{} })
	r.Register(EventConfirmed, func() any { return &Confirmed{} })
	r.Register(EventPasswordChanged, func() any { return &PasswordChanged{} })
	r.Register(EventTOTPGenerated, func() any { return &TOTPGenerated{} })
	r.Register(EventTOTPRetrieved, func() any { return &TOTPRetrieved{} })
	r.Register(EventTOTPActivated, func() any { return &TOTPActivated{} })
	r.Register(EventMembershipAdded, func() any { return &MembershipAdded{} })
	r.Register(EventMembershipRemoved, func() any { return &MembershipRemoved{} })
	r.Register(EventGroupRenamed, func() any { return &GroupRenamed{} })
	r.Register(EventInvitationReceived, func() any { return &InvitationReceived{} })
	r.Register(EventInvitationRevoked, func() any { return &InvitationRevoked{} })
}
