// Package email is the email index aggregate. One stream per normalized
// address enforces uniqueness across users and holds invitations sent to
// addresses that may not have registered yet.
package email

import (
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/internal/domain"
)

// AggregateType names email index streams.
const AggregateType = "emails"

const (
	EventClaimed            = "EmailClaimed"
	EventReleased           = "EmailReleased"
	EventInvitationReceived = "EmailInvitationReceived"
	EventInvitationRevoked  = "EmailInvitationRevoked"
)

type Claimed struct {
	Email     string    `json:"email"`
	UserID    string    `json:"userId"`
	ClaimedAt time.Time `json:"claimedAt"`
}

type Released struct {
	Email      string    `json:"email"`
	UserID     string    `json:"userId"`
	ReleasedAt time.Time `json:"releasedAt"`
}

type InvitationReceived struct {
	Email     string    `json:"email"`
	GroupID   string    `json:"groupId"`
	Label     string    `json:"label"`
	Token     string    `json:"invitationToken"`
	InvitedBy string    `json:"invitedBy"`
	InvitedAt time.Time `json:"invitedAt"`
}

type InvitationRevoked struct {
	Email   string `json:"email"`
	GroupID string `json:"groupId"`
}

// RegisterEvents binds every email index event name to its payload type.
func RegisterEvents(r *eventstore.Registry) {
	r.Register(EventClaimed, func() any { return &Claimed{} })
	r.Register(EventReleased, func() any { return &Released{} })
	r.Register(EventInvitationReceived, func() any { return &InvitationReceived{} })
	r.Register(EventInvitationRevoked, func() any { return &InvitationRevoked{} })
}

type Invitation struct {
	GroupID   string    `json:"groupId"`
	Label     string    `json:"label"`
	Token     string    `json:"invitationToken"`
	InvitedBy string    `json:"invitedBy"`
	InvitedAt time.Time `json:"invitedAt"`
}

// State is the materialized index entry.
type State struct {
	Email       string                `json:"email"`
	UserID      string                `json:"userId"`
	Invitations map[string]Invitation `json:"invitations"`
}

func New() *State {
	return &State{Invitations: map[string]Invitation{}}
}

func (s *State) AggregateType() string { return AggregateType }

// Owner returns the user bound to the address, if any.
func (s *State) Owner() (string, bool) { return s.UserID, s.UserID != "" }

func (s *State) Apply(evt eventstore.Event) error {
	switch p := evt.Payload.(type) {
	case *Claimed:
		s.Email = p.Email
		s.UserID = p.UserID
	case *Released:
		s.Email = p.Email
		if s.UserID == p.UserID {
			s.UserID = ""
		}
	case *InvitationReceived:
		s.Email = p.Email
		s.Invitations[p.GroupID] = Invitation{
			GroupID:   p.GroupID,
			Label:     p.Label,
			Token:     p.Token,
			InvitedBy: p.InvitedBy,
			InvitedAt: p.InvitedAt,
		}
	case *InvitationRevoked:
		delete(s.Invitations, p.GroupID)
	default:
		return fmt.Errorf("email: unexpected event %s (%T)", evt.Name, evt.Payload)
	}
	return nil
}

// Claim binds address to userID. Claiming an address already bound to the
// same user is a no-op.
func Claim(s *State, address, userID string, now time.Time) ([]eventstore.Event, error) {
	if owner, ok := s.Owner(); ok {
		if owner == userID {
			return nil, nil
		}
		return nil, domain.ErrAlreadyExists
	}
	return []eventstore.Event{eventstore.NewEvent(EventClaimed, &Claimed{
		Email:     domain.NormalizeEmail(address),
		UserID:    userID,
		ClaimedAt: now,
	})}, nil
}

// Release unbinds the address if userID still owns it.
func Release(s *State, address, userID string, now time.Time) ([]eventstore.Event, error) {
	if owner, ok := s.Owner(); !ok || owner != userID {
		return nil, nil
	}
	return []eventstore.Event{eventstore.NewEvent(EventReleased, &Released{
		Email:      domain.NormalizeEmail(address),
		UserID:     userID,
		ReleasedAt: now,
	})}, nil
}

func ReceiveInvitation(s *State, address string, inv Invitation) ([]eventstore.Event, error) {
	if cur, ok := s.Invitations[inv.GroupID]; ok && cur.Token == inv.Token {
		return nil, nil
	}
	return []eventstore.Event{eventstore.NewEvent(EventInvitationReceived, &InvitationReceived{
		Email:     domain.NormalizeEmail(address),
		GroupID:   inv.GroupID,
		Label:     inv.Label,
		Token:     inv.Token,
		InvitedBy: inv.InvitedBy,
		InvitedAt: inv.InvitedAt,
	})}, nil
}

func RevokeInvitation(s *State, address, groupID string) ([]eventstore.Event, error) {
	if _, ok := s.Invitations[groupID]; !ok {
		return nil, nil
	}
	return []eventstore.Event{eventstore.NewEvent(EventInvitationRevoked, &InvitationRevoked{
		Email:   domain.NormalizeEmail(address),
		GroupID: groupID,
	})}, nil
}
