// Package agent is the Agent aggregate: a machine identity owned by one
// group, authenticating with stored credentials.
package agent

import (
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
)

// AggregateType names agent streams.
const AggregateType = "agents"

const (
	EventCreated            = "AgentCreated"
	EventRenamed            = "AgentRenamed"
	EventCredentialsCreated = "CredentialsCreated"
	EventCredentialsDeleted = "CredentialsDeleted"
	EventLoggedIn           = "AgentLoggedIn"
	EventLoggedOut          = "AgentLoggedOut"
	EventDeleted            = "AgentDeleted"
)

type Created struct {
	GroupID   string    `json:"groupId"`
	AgentID   string    `json:"agentId"`
	Label     string    `json:"label"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

type Renamed struct {
	GroupID   string    `json:"groupId"`
	AgentID   string    `json:"agentId"`
	Label     string    `json:"label"`
	RenamedAt time.Time `json:"renamedAt"`
}

// Credentials holds the verification digest and the sealed secret. The
// plaintext secret is never part of any event.
type Credentials struct {
	UID             string `json:"uid"`
	HashedSecret    string `json:"hashedSecret"`
	EncryptedSecret []byte `json:"encryptedSecret"`
}

type CredentialsCreated struct {
	GroupID       string      `json:"groupId"`
	AgentID       string      `json:"agentId"`
	CredentialsID string      `json:"credentialsId"`
	Credentials   Credentials `json:"credentials"`
	CreatedAt     time.Time   `json:"createdAt"`
}

type CredentialsDeleted struct {
	GroupID       string    `json:"groupId"`
	AgentID       string    `json:"agentId"`
	CredentialsID string    `json:"credentialsId"`
	DeletedAt     time.Time `json:"deletedAt"`
}

type LoggedIn struct {
	AgentID       string    `json:"agentId"`
	SessionID     string    `json:"sessionId"`
	CredentialsID string    `json:"credentialsId"`
	TokenHash     string    `json:"tokenHash"`
	LoggedInAt    time.Time `json:"loggedInAt"`
}

type LoggedOut struct {
	AgentID     string    `json:"agentId"`
	SessionID   string    `json:"sessionId"`
	LoggedOutAt time.Time `json:"loggedOutAt"`
}

type Deleted struct {
	GroupID   string    `json:"groupId"`
	AgentID   string    `json:"agentId"`
	DeletedBy string    `json:"deletedBy"`
	DeletedAt time.Time `json:"deletedAt"`
}

// RegisterEvents binds every agent event name to its payload type.
func RegisterEvents(r *eventstore.Registry) {
	r.Register(EventCreated, func() any { return &Created{} })
	r.Register(EventRenamed, func() any { return &Renamed{} })
	r.Register(EventCredentialsCreated, func() any { return &CredentialsCreated{} })
	r.Register(EventCredentialsDeleted, func() any { return &CredentialsDeleted{} })
	r.Register(EventLoggedIn, func() any { return &LoggedIn{} })
	r.Register(EventLoggedOut, func() any { return &LoggedOut{} })
	r.Register(EventDeleted, func() any { return &Deleted{} })
}
