package group

import (
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/internal/domain"
)

const maxLabelLen = 256

func (p Principal) profile() Profile {
	if p.Profile == nil {
		return Profile{}
	}
	return *p.Profile
}

func validLabel(label string) bool {
	label = strings.TrimSpace(label)
	return label != "" && len(label) <= maxLabelLen
}

// RequireMember fails ErrNotMember unless userID belongs to the group.
func RequireMember(s *State, userID string) (string, error) {
	if !s.Exists() {
		return "", domain.ErrNotMember
	}
	role, ok := s.Role(userID)
	if !ok {
		return "", domain.ErrNotMember
	}
	return role, nil
}

// RequireAdmin fails ErrRequiresAdmin unless userID is an admin member.
func RequireAdmin(s *State, userID string) error {
	role, ok := s.Role(userID)
	if !s.Exists() || !ok || role != domain.RoleAdmin {
		return domain.ErrRequiresAdmin
	}
	return nil
}

// Create founds the group with creator as its first admin.
func Create(s *State, groupID, label string, creator Principal, now time.Time) ([]eventstore.Event, error) {
	if s.Exists() {
		return nil, domain.ErrAlreadyExists
	}
	if !domain.ValidID(groupID) || !validLabel(label) || creator.UID == "" {
		return nil, domain.ErrInvalidInput
	}
	return []eventstore.Event{
		eventstore.NewEvent(EventCreated, &Created{
			GroupID:   groupID,
			Label:     label,
			CreatedBy: creator.UID,
			CreatedAt: now,
		}),
		eventstore.NewEvent(EventMemberJoined, &MemberJoined{
			GroupID:  groupID,
			Label:    label,
			UserID:   creator.UID,
			Email:    domain.NormalizeEmail(creator.Email),
			Profile:  creator.profile(),
			Role:     domain.RoleAdmin,
			JoinedAt: now,
		}),
	}, nil
}

func Rename(s *State, actor Principal, label string, now time.Time) ([]eventstore.Event, error) {
	if err := RequireAdmin(s, actor.UID); err != nil {
		return nil, err
	}
	if !validLabel(label) {
		return nil, domain.ErrInvalidInput
	}
	return []eventstore.Event{eventstore.NewEvent(EventRenamed, &Renamed{
		GroupID:   s.UID,
		Label:     label,
		RenamedBy: actor.UID,
		RenamedAt: now,
	})}, nil
}

// Invite records a pending invitation. Inviting an address that already
// has one replaces it, so the earlier token stops matching.
func Invite(s *State, actor Principal, email, tokenID, token string, now time.Time) ([]eventstore.Event, error) {
	if err := RequireAdmin(s, actor.UID); err != nil {
		return nil, err
	}
	email = domain.NormalizeEmail(email)
	if !strings.Contains(email, "@") || tokenID == "" {
		return nil, domain.ErrInvalidInput
	}
	if _, ok := s.MemberByEmail(email); ok {
		return nil, domain.ErrAlreadyExists
	}
	return []eventstore.Event{eventstore.NewEvent(EventUserInvited, &UserInvited{
		GroupID:   s.UID,
		Label:     s.Label,
		Email:     email,
		TokenID:   tokenID,
		Token:     token,
		InvitedBy: actor,
		InvitedAt: now,
	})}, nil
}

func Uninvite(s *State, actor Principal, email string, now time.Time) ([]eventstore.Event, error) {
	if err := RequireAdmin(s, actor.UID); err != nil {
		return nil, err
	}
	email = domain.NormalizeEmail(email)
	if _, ok := s.Invitations[email]; !ok {
		return nil, domain.ErrNotFound
	}
	return []eventstore.Event{eventstore.NewEvent(EventUninvited, &Uninvited{
		GroupID:     s.UID,
		Email:       email,
		UninvitedBy: Principal{UID: actor.UID, Email: actor.Email},
		UninvitedAt: now,
	})}, nil
}

// Join consumes the invitation addressed to the caller's email. tokenID
// must match the current invitation exactly.
func Join(s *State, caller Principal, tokenID string, now time.Time) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrInvalidToken
	}
	email := domain.NormalizeEmail(caller.Email)
	inv, ok := s.Invitations[email]
	if !ok || tokenID == "" || inv.TokenID != tokenID {
		return nil, domain.ErrInvalidToken
	}
	if _, member := s.Role(caller.UID); member {
		return nil, domain.ErrAlreadyExists
	}
	return []eventstore.Event{eventstore.NewEvent(EventMemberJoined, &MemberJoined{
		GroupID:  s.UID,
		Label:    s.Label,
		UserID:   caller.UID,
		Email:    email,
		Profile:  caller.profile(),
		Role:     domain.RoleMember,
		TokenID:  tokenID,
		JoinedAt: now,
	})}, nil
}

// Leave removes the caller. The last admin cannot leave while other
// members remain.
func Leave(s *State, userID string, now time.Time) ([]eventstore.Event, error) {
	role, err := RequireMember(s, userID)
	if err != nil {
		return nil, err
	}
	if role == domain.RoleAdmin && len(s.Members) > 1 {
		admins := 0
		for _, m := range s.Members {
			if m.Role == domain.RoleAdmin {
				admins++
			}
		}
		if admins == 1 {
			return nil, domain.ErrInvalidRequest
		}
	}
	return []eventstore.Event{eventstore.NewEvent(EventMemberLeft, &MemberLeft{
		GroupID: s.UID,
		UserID:  userID,
		LeftAt:  now,
	})}, nil
}

// AddAgent, RenameAgent and RemoveAgent project Agent facts onto the
// group directory and are idempotent.

func AddAgent(s *State, a AgentSummary) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if cur, ok := s.Agents[a.UID]; ok && cur.Label == a.Label {
		return nil, nil
	}
	return []eventstore.Event{eventstore.NewEvent(EventAgentAdded, &AgentAdded{
		GroupID:   s.UID,
		AgentID:   a.UID,
		Label:     a.Label,
		CreatedAt: a.CreatedAt,
	})}, nil
}

func RenameAgent(s *State, agentID, label string) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	cur, ok := s.Agents[agentID]
	if !ok || cur.Label == label {
		return nil, nil
	}
	return []eventstore.Event{eventstore.NewEvent(EventAgentRenamed, &AgentRenamed{
		GroupID: s.UID,
		AgentID: agentID,
		Label:   label,
	})}, nil
}

func RemoveAgent(s *State, agentID string) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if _, ok := s.Agents[agentID]; !ok {
		return nil, nil
	}
	return []eventstore.Event{eventstore.NewEvent(EventAgentRemoved, &AgentRemoved{
		GroupID: s.UID,
		AgentID: agentID,
	})}, nil
}
