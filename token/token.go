// Package token defines the purpose-scoped bearer credentials exchanged with
// callers and the signing contract that produces them.
package token

import (
	"context"
	"errors"
	"time"
)

// Purpose scopes a token to one use. A token minted for one purpose is
// rejected wherever another is expected.
type Purpose string

const (
	PurposeAuth         Purpose = "authToken"
	PurposeUser         Purpose = "userToken"
	PurposeMFA          Purpose = "mfaToken"
	PurposeAccess       Purpose = "accessToken"
	PurposeACL          Purpose = "aclToken"
	PurposeAgent        Purpose = "agentToken"
	PurposeConfirmation Purpose = "confirmationToken"
	PurposeInvitation   Purpose = "invitationToken"
)

// Purposes lists every purpose, in issuance order of a typical flow.
var Purposes = []Purpose{
	PurposeAuth, PurposeMFA, PurposeUser, PurposeAccess, PurposeACL,
	PurposeAgent, PurposeConfirmation, PurposeInvitation,
}

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	for _, known := range Purposes {
		if p == known {
			return true
		}
	}
	return false
}

var (
	// ErrInvalid is returned for malformed, expired, tampered or
	// wrong-purpose tokens.
	ErrInvalid = errors.New("token invalid")
	// ErrUnavailable is returned when a remote signer cannot be reached.
	ErrUnavailable = errors.New("signer unavailable")
)

// UserInfo is the read-optimized user projection carried by userTokens.
// Times are unix milliseconds; ConfirmedAt is zero until confirmation.
type UserInfo struct {
	UID         string `json:"uid"`
	CreatedAt   int64  `json:"createdAt"`
	ConfirmedAt int64  `json:"confirmedAt,omitempty"`
	Email       string `json:"email"`
	Locale      string `json:"locale"`
}

// AgentInfo is the agent projection carried by agentTokens.
type AgentInfo struct {
	UID       string `json:"uid"`
	GroupID   string `json:"groupId"`
	Label     string `json:"label"`
	CreatedAt int64  `json:"createdAt"`
}

// Claims is the union of every purpose's claims. Which fields are set
// depends on Purpose.
type Claims struct {
	Purpose   Purpose
	TokenID   string
	UserID    string
	AgentID   string
	SessionID string
	GroupID   string
	Role      string
	Email     string
	Locale    string
	User      *UserInfo
	Agent     *AgentInfo
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer signs and verifies claims. Implementations may be remote; errors
// other than ErrInvalid are treated as infrastructure failures.
type Signer interface {
	Sign(ctx context.Context, purpose Purpose, claims Claims) (string, error)
	Verify(ctx context.Context, token string) (Claims, error)
}

// Expect verifies raw with s and checks its purpose.
func Expect(ctx context.Context, s Signer, raw string, purpose Purpose) (Claims, error) {
	if raw == "" {
		return Claims{}, ErrInvalid
	}
	claims, err := s.Verify(ctx, raw)
	if err != nil {
		return Claims{}, err
	}
	if claims.Purpose != purpose {
		return Claims{}, ErrInvalid
	}
	return claims, nil
}
