package group

import (
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
)

type Member struct {
	UserID   string    `json:"userId"`
	Email    string    `json:"email"`
	Profile  Profile   `json:"profile"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Invitation struct {
	Email     string    `json:"email"`
	TokenID   string    `json:"tokenId"`
	Token     string    `json:"invitationToken"`
	InvitedBy Principal `json:"invitedBy"`
	InvitedAt time.Time `json:"invitedAt"`
}

type AgentSummary struct {
	UID       string    `json:"uid"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

// State is the materialized Group aggregate. Members keep join order.
type State struct {
	UID         string                  `json:"uid"`
	Label       string                  `json:"label"`
	CreatedAt   time.Time               `json:"createdAt"`
	CreatedBy   string                  `json:"createdBy"`
	Members     []Member                `json:"members"`
	Invitations map[string]Invitation   `json:"invitations"`
	Agents      map[string]AgentSummary `json:"agents"`
}

// New returns an empty group.
func New() *State {
	return &State{
		Members:     []Member{},
		Invitations: map[string]Invitation{},
		Agents:      map[string]AgentSummary{},
	}
}

func (s *State) AggregateType() string { return AggregateType }

func (s *State) Exists() bool { return s.UID != "" }

// Role returns the member's role, or false for non-members.
func (s *State) Role(userID string) (string, bool) {
	for _, m := range s.Members {
		if m.UserID == userID {
			return m.Role, true
		}
	}
	return "", false
}

// MemberByEmail finds a member by normalized email.
func (s *State) MemberByEmail(email string) (Member, bool) {
	for _, m := range s.Members {
		if m.Email == email {
			return m, true
		}
	}
	return Member{}, false
}

func (s *State) Apply(evt eventstore.Event) error {
	switch p := evt.Payload.(type) {
	case *Created:
		s.UID = p.GroupID
		s.Label = p.Label
		s.CreatedAt = p.CreatedAt
		s.CreatedBy = p.CreatedBy
	case *MemberJoined:
		s.removeMember(p.UserID)
		s.Members = append(s.Members, Member{UserID: p.UserID, Email: p.Email, Profile: p.Profile, Role: p.Role, JoinedAt: p.JoinedAt})
		delete(s.Invitations, p.Email)
	case *Renamed:
		s.Label = p.Label
	case *UserInvited:
		s.Invitations[p.Email] = Invitation{
			Email:     p.Email,
			TokenID:   p.TokenID,
			Token:     p.Token,
			InvitedBy: p.InvitedBy,
			InvitedAt: p.InvitedAt,
		}
	case *Uninvited:
		delete(s.Invitations, p.Email)
	case *MemberLeft:
		s.removeMember(p.UserID)
	case *AgentAdded:
		s.Agents[p.AgentID] = AgentSummary{UID: p.AgentID, Label: p.Label, CreatedAt: p.CreatedAt}
	case *AgentRenamed:
		if a, ok := s.Agents[p.AgentID]; ok {
			a.Label = p.Label
			s.Agents[p.AgentID] = a
		}
	case *AgentRemoved:
		delete(s.Agents, p.AgentID)
	default:
		return fmt.Errorf("group: unexpected event %s (%T)", evt.Name, evt.Payload)
	}
	return nil
}

func (s *State) removeMember(userID string) {
	out := s.Members[:0]
	for _, m := range s.Members {
		if m.UserID != userID {
			out = append(out, m)
		}
	}
	s.Members = out
}
