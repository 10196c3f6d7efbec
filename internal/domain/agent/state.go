package agent

import (
	"fmt"
	"sort"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
)

type Credential struct {
	UID             string    `json:"uid"`
	HashedSecret    string    `json:"hashedSecret"`
	EncryptedSecret []byte    `json:"encryptedSecret"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Session struct {
	CredentialsID string    `json:"credentialsId"`
	TokenHash     string    `json:"tokenHash"`
	CreatedAt     time.Time `json:"createdAt"`
}

// State is the materialized Agent aggregate.
type State struct {
	UID         string                `json:"uid"`
	GroupID     string                `json:"groupId"`
	Label       string                `json:"label"`
	CreatedAt   time.Time             `json:"createdAt"`
	CreatedBy   string                `json:"createdBy"`
	Deleted     bool                  `json:"deleted"`
	DeletedBy   string                `json:"deletedBy"`
	DeletedAt   time.Time             `json:"deletedAt"`
	Credentials map[string]Credential `json:"credentials"`
	Sessions    map[string]Session    `json:"sessions"`
}

// New returns an empty agent.
func New() *State {
	return &State{
		Credentials: map[string]Credential{},
		Sessions:    map[string]Session{},
	}
}

func (s *State) AggregateType() string { return AggregateType }

// Exists reports whether the agent was ever created, deleted or not.
func (s *State) Exists() bool { return s.UID != "" }

// Live reports whether the agent exists and has not been deleted.
func (s *State) Live() bool { return s.Exists() && !s.Deleted }

func (s *State) SessionValid(sessionID, tokenHash string) bool {
	if !s.Live() {
		return false
	}
	sess, ok := s.Sessions[sessionID]
	return ok && sess.TokenHash == tokenHash
}

// CredentialIDs returns credential ids in a stable order.
func (s *State) CredentialIDs() []string {
	ids := make([]string, 0, len(s.Credentials))
	for id := range s.Credentials {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *State) Apply(evt eventstore.Event) error {
	switch p := evt.Payload.(type) {
	case *Created:
		s.UID = p.AgentID
		s.GroupID = p.GroupID
		s.Label = p.Label
		s.CreatedAt = p.CreatedAt
		s.CreatedBy = p.CreatedBy
	case *Renamed:
		s.Label = p.Label
	case *CredentialsCreated:
		s.Credentials[p.CredentialsID] = Credential{
			UID:             p.CredentialsID,
			HashedSecret:    p.Credentials.HashedSecret,
			EncryptedSecret: p.Credentials.EncryptedSecret,
			CreatedAt:       p.CreatedAt,
		}
	case *CredentialsDeleted:
		delete(s.Credentials, p.CredentialsID)
		for id, sess := range s.Sessions {
			if sess.CredentialsID == p.CredentialsID {
				delete(s.Sessions, id)
			}
		}
	case *LoggedIn:
		s.Sessions[p.SessionID] = Session{CredentialsID: p.CredentialsID, TokenHash: p.TokenHash, CreatedAt: p.LoggedInAt}
	case *LoggedOut:
		delete(s.Sessions, p.SessionID)
	case *Deleted:
		s.Deleted = true
		s.DeletedBy = p.DeletedBy
		s.DeletedAt = p.DeletedAt
		s.Sessions = map[string]Session{}
	default:
		return fmt.Errorf("agent: unexpected event %s (%T)", evt.Name, evt.Payload)
	}
	return nil
}
