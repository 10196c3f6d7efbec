package agent

import (
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/internal/domain"
)

func requireLive(s *State) error {
	if !s.Live() {
		return domain.ErrNotFound
	}
	return nil
}

func validLabel(label string) bool {
	label = strings.TrimSpace(label)
	return label != "" && len(label) <= 256
}

// Create registers the agent in groupID. Ids of deleted agents are not reused.
func Create(s *State, groupID, agentID, label, createdBy string, now time.Time) ([]eventstore.Event, error) {
	if s.Exists() {
		return nil, domain.ErrAlreadyExists
	}
	if !domain.ValidID(agentID) || !validLabel(label) || groupID == "" {
		return nil, domain.ErrInvalidInput
	}
	return []eventstore.Event{eventstore.NewEvent(EventCreated, &Created{
		GroupID:   groupID,
		AgentID:   agentID,
		Label:     label,
		CreatedBy: createdBy,
		CreatedAt: now,
	})}, nil
}

func Rename(s *State, label string, now time.Time) ([]eventstore.Event, error) {
	if err := requireLive(s); err != nil {
		return nil, err
	}
	if !validLabel(label) {
		return nil, domain.ErrInvalidInput
	}
	return []eventstore.Event{eventstore.NewEvent(EventRenamed, &Renamed{
		GroupID:   s.GroupID,
		AgentID:   s.UID,
		Label:     label,
		RenamedAt: now,
	})}, nil
}

func CreateCredentials(s *State, credentialsID, hashedSecret string, encryptedSecret []byte, now time.Time) ([]eventstore.Event, error) {
	if err := requireLive(s); err != nil {
		return nil, err
	}
	if !domain.ValidID(credentialsID) || hashedSecret == "" || len(encryptedSecret) == 0 {
		return nil, domain.ErrInvalidInput
	}
	if _, ok := s.Credentials[credentialsID]; ok {
		return nil, domain.ErrAlreadyExists
	}
	return []eventstore.Event{eventstore.NewEvent(EventCredentialsCreated, &CredentialsCreated{
		GroupID:       s.GroupID,
		AgentID:       s.UID,
		CredentialsID: credentialsID,
		Credentials: Credentials{
			UID:             credentialsID,
			HashedSecret:    hashedSecret,
			EncryptedSecret: encryptedSecret,
		},
		CreatedAt: now,
	})}, nil
}

// DeleteCredentials removes a credential and every session opened with it.
func DeleteCredentials(s *State, credentialsID string, now time.Time) ([]eventstore.Event, error) {
	if err := requireLive(s); err != nil {
		return nil, err
	}
	if _, ok := s.Credentials[credentialsID]; !ok {
		return nil, domain.ErrNotFound
	}
	return []eventstore.Event{eventstore.NewEvent(EventCredentialsDeleted, &CredentialsDeleted{
		GroupID:       s.GroupID,
		AgentID:       s.UID,
		CredentialsID: credentialsID,
		DeletedAt:     now,
	})}, nil
}

// MatchCredential returns the id of the live credential whose digest equals
// hashedSecret, comparing every entry with match.
func MatchCredential(s *State, match func(hashedSecret string) bool) (string, bool) {
	if !s.Live() {
		return "", false
	}
	found := ""
	for _, id := range s.CredentialIDs() {
		if match(s.Credentials[id].HashedSecret) && found == "" {
			found = id
		}
	}
	return found, found != ""
}

func LogIn(s *State, sessionID, credentialsID, tokenHash string, now time.Time) ([]eventstore.Event, error) {
	if !s.Live() {
		return nil, domain.ErrInvalidRequest
	}
	if _, ok := s.Credentials[credentialsID]; !ok {
		return nil, domain.ErrInvalidRequest
	}
	if !domain.ValidID(sessionID) || tokenHash == "" {
		return nil, domain.ErrInvalidInput
	}
	return []eventstore.Event{eventstore.NewEvent(EventLoggedIn, &LoggedIn{
		AgentID:       s.UID,
		SessionID:     sessionID,
		CredentialsID: credentialsID,
		TokenHash:     tokenHash,
		LoggedInAt:    now,
	})}, nil
}

func LogOut(s *State, sessionID, tokenHash string, now time.Time) ([]eventstore.Event, error) {
	if !s.SessionValid(sessionID, tokenHash) {
		return nil, domain.ErrInvalidToken
	}
	return []eventstore.Event{eventstore.NewEvent(EventLoggedOut, &LoggedOut{
		AgentID:     s.UID,
		SessionID:   sessionID,
		LoggedOutAt: now,
	})}, nil
}

func Delete(s *State, deletedBy string, now time.Time) ([]eventstore.Event, error) {
	if err := requireLive(s); err != nil {
		return nil, err
	}
	return []eventstore.Event{eventstore.NewEvent(EventDeleted, &Deleted{
		GroupID:   s.GroupID,
		AgentID:   s.UID,
		DeletedBy: deletedBy,
		DeletedAt: now,
	})}, nil
}
