// Package group is the Group aggregate: the source of truth for membership,
// roles, pending invitations and the group's agent directory.
package group

import (
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
)

// AggregateType names group streams.
const AggregateType = "groups"

const (
	EventCreated      = "GroupCreated"
	EventMemberJoined = "GroupMemberJoined"
	EventRenamed      = "GroupRenamed"
	EventUserInvited  = "UserInvited"
	EventUninvited    = "UserUninvited"
	EventMemberLeft   = "GroupMemberLeft"
	EventAgentAdded   = "GroupAgentAdded"
	EventAgentRenamed = "GroupAgentRenamed"
	EventAgentRemoved = "GroupAgentRemoved"
)

// Principal identifies the user behind a command. Profile is set when the
// user is becoming a member, so the member list can be rendered without
// loading every user.
type Principal struct {
	UID     string   `json:"uid"`
	Email   string   `json:"email"`
	Profile *Profile `json:"profile,omitempty"`
}

type Profile struct {
	Locale      string    `json:"locale"`
	CreatedAt   time.Time `json:"createdAt"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

type Created struct {
	GroupID   string    `json:"groupId"`
	Label     string    `json:"label"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// MemberJoined adds a member. TokenID names the consumed invitation and is
// empty for the creator.
type MemberJoined struct {
	GroupID  string    `json:"groupId"`
	Label    string    `json:"label"`
	UserID   string    `json:"userId"`
	Email    string    `json:"email"`
	Profile  Profile   `json:"member"`
	Role     string    `json:"role"`
	TokenID  string    `json:"tokenId,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Renamed struct {
	GroupID   string    `json:"groupId"`
	Label     string    `json:"label"`
	RenamedBy string    `json:"user"`
	RenamedAt time.Time `json:"renamedAt"`
}

type UserInvited struct {
	GroupID   string    `json:"groupId"`
	Label     string    `json:"label"`
	Email     string    `json:"email"`
	TokenID   string    `json:"tokenId"`
	Token     string    `json:"invitationToken"`
	InvitedBy Principal `json:"invitedBy"`
	InvitedAt time.Time `json:"invitedAt"`
}

type Uninvited struct {
	GroupID     string    `json:"groupId"`
	Email       string    `json:"email"`
	UninvitedBy Principal `json:"uninvitedBy"`
	UninvitedAt time.Time `json:"uninvitedAt"`
}

type MemberLeft struct {
	GroupID string    `json:"groupId"`
	UserID  string    `json:"userId"`
	LeftAt  time.Time `json:"leftAt"`
}

type AgentAdded struct {
	GroupID   string    `json:"groupId"`
	AgentID   string    `json:"agentId"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

type AgentRenamed struct {
	GroupID string `json:"groupId"`
	AgentID string `json:"agentId"`
	Label   string `json:"label"`
}

type AgentRemoved struct {
	GroupID string `json:"groupId"`
	AgentID string `json:"agentId"`
}

// RegisterEvents binds every group event name to its payload type.
func RegisterEvents(r *eventstore.Registry) {
	r.Register(EventCreated, func() any { return &Created{} })
	r.Register(EventMemberJoined, func() any { return &MemberJoined{} })
	r.Register(EventRenamed, func() any { return &Renamed{} })
	r.Register(EventUserInvited, func() any { return &UserInvited{} })
	r.Register(EventUninvited, func() any { return &Uninvited{} })
	r.Register(EventMemberLeft, func() any { return &MemberLeft{} })
	r.Register(EventAgentAdded, func() any { return &AgentAdded{} })
	r.Register(EventAgentRenamed, func() any { return &AgentRenamed{} })
	r.Register(EventAgentRemoved, func() any { return &AgentRemoved{} })
}
