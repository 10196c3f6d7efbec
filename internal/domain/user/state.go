package user

import (
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
)

type Session struct {
	TokenHash string    `json:"tokenHash"`
	CreatedAt time.Time `json:"createdAt"`
}

// TOTP tracks enrollment. Pending holds a generated but not yet activated
// secret; Secret is the active one.
type TOTP struct {
	Pending          string `json:"pending"`
	PendingRetrieved bool   `json:"pendingRetrieved"`
	Secret           string `json:"secret"`
	Active           bool   `json:"active"`
	LastCounter      uint64 `json:"lastCounter"`
}

type Membership struct {
	GroupID  string    `json:"groupId"`
	Label    string    `json:"label"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Invitation struct {
	GroupID   string    `json:"groupId"`
	Label     string    `json:"label"`
	Token     string    `json:"invitationToken"`
	InvitedBy string    `json:"invitedBy"`
	InvitedAt time.Time `json:"invitedAt"`
}

// State is the materialized User aggregate.
type State struct {
	UID                 string                `json:"uid"`
	Email               string                `json:"email"`
	PasswordHash        string                `json:"passwordHash"`
	Locale              string                `json:"locale"`
	CreatedAt           time.Time             `json:"createdAt"`
	Confirmed           bool                  `json:"confirmed"`
	ConfirmedAt         time.Time             `json:"confirmedAt"`
	ConfirmationTokenID string                `json:"confirmationTokenId"`
	TOTP                TOTP                  `json:"totp"`
	Sessions            map[string]Session    `json:"sessions"`
	Groups              map[string]Membership `json:"groups"`
	Invitations         map[string]Invitation `json:"invitations"`
}

// New returns an empty, unregistered user.
func New() *State {
	return &State{
		Sessions:    map[string]Session{},
		Groups:      map[string]Membership{},
		Invitations: map[string]Invitation{},
	}
}

func (s *State) AggregateType() string { return AggregateType }

// Exists reports whether the user has registered.
func (s *State) Exists() bool { return s.UID != "" }

// SessionValid reports whether sessionID is live and was issued tokenHash.
func (s *State) SessionValid(sessionID, tokenHash string) bool {
	sess, ok := s.Sessions[sessionID]
	return ok && sess.TokenHash == tokenHash
}

// TOTPActive reports whether login requires a second factor.
func (s *State) TOTPActive() bool { return s.TOTP.Active && s.TOTP.Secret != "" }

func (s *State) Apply(evt eventstore.Event) error {
	switch p := evt.Payload.(type) {
	case *Registered:
		s.UID = p.UserID
		s.Email = p.Email
		s.PasswordHash = p.PasswordHash
		s.Locale = p.Locale
		s.CreatedAt = p.CreatedAt
	case *LoggedIn:
		s.Sessions[p.SessionID] = Session{TokenHash: p.TokenHash, CreatedAt: p.LoggedInAt}
		if p.TOTPCounter > s.TOTP.LastCounter {
			s.TOTP.LastCounter = p.TOTPCounter
		}
	case *LoggedOut:
		delete(s.Sessions, p.SessionID)
	case *ConfirmationRequested:
		s.ConfirmationTokenID = p.TokenID
	case *Confirmed:
		s.Confirmed = true
		s.ConfirmedAt = p.ConfirmedAt
		s.ConfirmationTokenID = ""
	case *PasswordChanged:
		s.PasswordHash = p.PasswordHash
	case *TOTPGenerated:
		s.TOTP.Pending = p.Secret
		s.TOTP.PendingRetrieved = false
	case *TOTPRetrieved:
		s.TOTP.PendingRetrieved = true
	case *TOTPActivated:
		s.TOTP.Secret = s.TOTP.Pending
		s.TOTP.Pending = ""
		s.TOTP.PendingRetrieved = false
		s.TOTP.Active = true
		s.TOTP.LastCounter = p.Counter
	case *MembershipAdded:
		s.Groups[p.GroupID] = Membership{GroupID: p.GroupID, Label: p.Label, Role: p.Role, JoinedAt: p.JoinedAt}
	case *MembershipRemoved:
		delete(s.Groups, p.GroupID)
	case *GroupRenamed:
		if m, ok := s.Groups[p.GroupID]; ok {
			m.Label = p.Label
			s.Groups[p.GroupID] = m
		}
		if inv, ok := s.Invitations[p.GroupID]; ok {
			inv.Label = p.Label
			s.Invitations[p.GroupID] = inv
		}
	case *InvitationReceived:
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
		return fmt.Errorf("user: unexpected event %s (%T)", evt.Name, evt.Payload)
	}
	return nil
}
