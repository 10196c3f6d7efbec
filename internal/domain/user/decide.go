package user

import (
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/internal/domain"
)

// RegisterInput carries an already hashed password.
type RegisterInput struct {
	UserID       string
	Email        string
	PasswordHash string
	Locale       string
}

// Register creates the user. Pending invitations addressed to the email are
// copied in so the new user sees them.
func Register(s *State, in RegisterInput, pending []Invitation, now time.Time) ([]eventstore.Event, error) {
	if s.Exists() {
		return nil, domain.ErrAlreadyExists
	}
	if !domain.ValidID(in.UserID) || in.PasswordHash == "" || !strings.Contains(in.Email, "@") {
		return nil, domain.ErrInvalidInput
	}

	events := []eventstore.Event{eventstore.NewEvent(EventRegistered, &Registered{
		UserID:       in.UserID,
		Email:        domain.NormalizeEmail(in.Email),
		PasswordHash: in.PasswordHash,
		Locale:       in.Locale,
		CreatedAt:    now,
	})}
	for _, inv := range pending {
		events = append(events, eventstore.NewEvent(EventInvitationReceived, &InvitationReceived{
			UserID:    in.UserID,
			GroupID:   inv.GroupID,
			Label:     inv.Label,
			Token:     inv.Token,
			InvitedBy: inv.InvitedBy,
			InvitedAt: inv.InvitedAt,
		}))
	}
	return events, nil
}

// OpenSession records a new session under a caller-chosen id that must not
// be live already. totpCounter is zero for password-only logins; otherwise
// it must advance past the last accepted counter.
func OpenSession(s *State, sessionID, tokenHash string, totpCounter uint64, now time.Time) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if !domain.ValidID(sessionID) || tokenHash == "" {
		return nil, domain.ErrInvalidInput
	}
	if _, live := s.Sessions[sessionID]; live {
		return nil, domain.ErrInvalidRequest
	}
	if totpCounter != 0 && totpCounter <= s.TOTP.LastCounter {
		return nil, domain.ErrInvalidRequest
	}
	return []eventstore.Event{eventstore.NewEvent(EventLoggedIn, &LoggedIn{
		UserID:      s.UID,
		SessionID:   sessionID,
		TokenHash:   tokenHash,
		TOTPCounter: totpCounter,
		LoggedInAt:  now,
	})}, nil
}

// CloseSession revokes exactly one session.
func CloseSession(s *State, sessionID, tokenHash string, now time.Time) ([]eventstore.Event, error) {
	if !s.SessionValid(sessionID, tokenHash) {
		return nil, domain.ErrInvalidToken
	}
	return []eventstore.Event{eventstore.NewEvent(EventLoggedOut, &LoggedOut{
		UserID:      s.UID,
		SessionID:   sessionID,
		LoggedOutAt: now,
	})}, nil
}

// RequestConfirmation records the id of a freshly issued confirmation
// token, superseding any earlier one.
func RequestConfirmation(s *State, tokenID, confirmationToken string, now time.Time) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if s.Confirmed {
		return nil, domain.ErrInvalidRequest
	}
	if tokenID == "" {
		return nil, domain.ErrInvalidInput
	}
	return []eventstore.Event{eventstore.NewEvent(EventConfirmationRequested, &ConfirmationRequested{
		UserID:            s.UID,
		TokenID:           tokenID,
		ConfirmationToken: confirmationToken,
		RequestedAt:       now,
	})}, nil
}

// Confirm consumes the outstanding confirmation token.
func Confirm(s *State, tokenID string, now time.Time) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if s.Confirmed || s.ConfirmationTokenID == "" || s.ConfirmationTokenID != tokenID {
		return nil, domain.ErrInvalidToken
	}
	return []eventstore.Event{eventstore.NewEvent(EventConfirmed, &Confirmed{
		UserID:      s.UID,
		ConfirmedAt: now,
	})}, nil
}

func ChangePassword(s *State, passwordHash string, now time.Time) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if passwordHash == "" {
		return nil, domain.ErrInvalidInput
	}
	return []eventstore.Event{eventstore.NewEvent(EventPasswordChanged, &PasswordChanged{
		UserID:       s.UID,
		PasswordHash: passwordHash,
		ChangedAt:    now,
	})}, nil
}

// RehashPassword replaces previousHash with a stronger hash of the same
// password. It does nothing if the password changed since previousHash was
// read.
func RehashPassword(s *State, previousHash, passwordHash string, now time.Time) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if s.PasswordHash != previousHash {
		return nil, nil
	}
	return ChangePassword(s, passwordHash, now)
}

// GenerateTOTP stores a pending secret. An active TOTP cannot be replaced.
func GenerateTOTP(s *State, secret string, now time.Time) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if s.TOTP.Active {
		return nil, domain.ErrInvalidRequest
	}
	if secret == "" {
		return nil, domain.ErrInvalidInput
	}
	return []eventstore.Event{eventstore.NewEvent(EventTOTPGenerated, &TOTPGenerated{
		UserID:      s.UID,
		Secret:      secret,
		GeneratedAt: now,
	})}, nil
}

// RetrieveTOTP marks the pending secret as revealed. It can be revealed once.
func RetrieveTOTP(s *State, now time.Time) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if s.TOTP.Pending == "" || s.TOTP.PendingRetrieved {
		return nil, domain.ErrInvalidRequest
	}
	return []eventstore.Event{eventstore.NewEvent(EventTOTPRetrieved, &TOTPRetrieved{
		UserID:      s.UID,
		RetrievedAt: now,
	})}, nil
}

// ActivateTOTP promotes the pending secret once the caller proved a code
// at counter.
func ActivateTOTP(s *State, counter uint64, now time.Time) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if s.TOTP.Pending == "" {
		return nil, domain.ErrInvalidRequest
	}
	return []eventstore.Event{eventstore.NewEvent(EventTOTPActivated, &TOTPActivated{
		UserID:      s.UID,
		Counter:     counter,
		ActivatedAt: now,
	})}, nil
}

// The functions below project Group facts onto the user. They are
// idempotent so a retried projection appends nothing.

func AddMembership(s *State, m Membership) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if cur, ok := s.Groups[m.GroupID]; ok && cur.Role == m.Role && cur.Label == m.Label {
		return nil, nil
	}
	return []eventstore.Event{eventstore.NewEvent(EventMembershipAdded, &MembershipAdded{
		UserID:   s.UID,
		GroupID:  m.GroupID,
		Label:    m.Label,
		Role:     m.Role,
		JoinedAt: m.JoinedAt,
	})}, nil
}

func RemoveMembership(s *State, groupID string, now time.Time) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if _, ok := s.Groups[groupID]; !ok {
		return nil, nil
	}
	return []eventstore.Event{eventstore.NewEvent(EventMembershipRemoved, &MembershipRemoved{
		UserID:    s.UID,
		GroupID:   groupID,
		RemovedAt: now,
	})}, nil
}

func RenameGroup(s *State, groupID, label string) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	m, member := s.Groups[groupID]
	inv, invited := s.Invitations[groupID]
	if (!member || m.Label == label) && (!invited || inv.Label == label) {
		return nil, nil
	}
	return []eventstore.Event{eventstore.NewEvent(EventGroupRenamed, &GroupRenamed{
		UserID:  s.UID,
		GroupID: groupID,
		Label:   label,
	})}, nil
}

func ReceiveInvitation(s *State, inv Invitation) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if cur, ok := s.Invitations[inv.GroupID]; ok && cur.Token == inv.Token {
		return nil, nil
	}
	return []eventstore.Event{eventstore.NewEvent(EventInvitationReceived, &InvitationReceived{
		UserID:    s.UID,
		GroupID:   inv.GroupID,
		Label:     inv.Label,
		Token:     inv.Token,
		InvitedBy: inv.InvitedBy,
		InvitedAt: inv.InvitedAt,
	})}, nil
}

func RevokeInvitation(s *State, groupID string) ([]eventstore.Event, error) {
	if !s.Exists() {
		return nil, domain.ErrNotFound
	}
	if _, ok := s.Invitations[groupID]; !ok {
		return nil, nil
	}
	return []eventstore.Event{eventstore.NewEvent(EventInvitationRevoked, &InvitationRevoked{
		UserID:  s.UID,
		GroupID: groupID,
	})}, nil
}
