package goIdentity

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/internal/domain"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/token"
)

var (
	// ErrUserAlreadyExists is returned when a user id or email is already registered.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrGroupAlreadyExists is returned when a group id is taken.
	ErrGroupAlreadyExists = errors.New("group already exists")
	// ErrAgentAlreadyExists is returned when an agent id is taken, including by a deleted agent.
	ErrAgentAlreadyExists = errors.New("agent already exists")
	// ErrCredentialsAlreadyExist is returned when a credentials id is reused on one agent.
	ErrCredentialsAlreadyExist = errors.New("credentials already exist")
	// ErrMemberAlreadyExists is returned when inviting or joining an existing member.
	ErrMemberAlreadyExists = errors.New("member already exists")
	// ErrRequiresAdminRole is returned when the caller is not an admin of the group.
	ErrRequiresAdminRole = errors.New("requires admin role")
	// ErrOnlyAllowedForMembers is returned when the caller is not a member of the group.
	ErrOnlyAllowedForMembers = errors.New("only allowed for members")
	// ErrUnvalidToken is returned for missing, forged, expired, revoked or mismatched tokens.
	ErrUnvalidToken = errors.New("unvalid token")
	// ErrUnvalidRequest is returned for failed credential checks and rejected state transitions.
	ErrUnvalidRequest = errors.New("unvalid request")
	// ErrNotFound is returned for unknown aggregates, credentials and invitations.
	ErrNotFound = errors.New("not found")
	// ErrTransient is returned when optimistic concurrency retries are exhausted.
	ErrTransient = errors.New("transient failure")
	// ErrInfrastructure is returned when a storage, encryption or signing collaborator fails.
	ErrInfrastructure = errors.New("infrastructure failure")
	// ErrRateLimited is returned when failed attempts exceed the configured budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidInput is returned for malformed identifiers, labels, emails and passwords.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEngineNotReady is returned by Engine methods called before Build or after Close.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrEngineBuilt is returned by Builder.Build when called twice.
	ErrEngineBuilt = errors.New("engine already built")
)

// Kinds name the aggregate or record an error refers to.
const (
	KindUser        = "user"
	KindGroup       = "group"
	KindAgent       = "agent"
	KindCredentials = "credentials"
	KindMember      = "member"
	KindInvitation  = "invitation"
)

// AlreadyExistsError reports the identifier that collided.
type AlreadyExistsError struct {
	Kind  string
	ID    string
	Email string
}

func (e *AlreadyExistsError) Error() string {
	if e.Email != "" && e.ID == "" {
		return fmt.Sprintf("%s already exists: %s", e.Kind, e.Email)
	}
	return fmt.Sprintf("%s already exists: %s", e.Kind, e.ID)
}

func (e *AlreadyExistsError) Is(target error) bool {
	switch target {
	case ErrUserAlreadyExists:
		return e.Kind == KindUser
	case ErrGroupAlreadyExists:
		return e.Kind == KindGroup
	case ErrAgentAlreadyExists:
		return e.Kind == KindAgent
	case ErrCredentialsAlreadyExist:
		return e.Kind == KindCredentials
	case ErrMemberAlreadyExists:
		return e.Kind == KindMember
	}
	return false
}

// AuthorizationError reports a role check that failed for GroupID.
type AuthorizationError struct {
	Code    string
	GroupID string
}

func (e *AuthorizationError) Error() string {
	return e.Code + ": group " + e.GroupID
}

func (e *AuthorizationError) Is(target error) bool {
	switch target {
	case ErrRequiresAdminRole:
		return e.Code == CodeRequiresAdminRole
	case ErrOnlyAllowedForMembers:
		return e.Code == CodeOnlyAllowedForMembers
	}
	return false
}

// AuthenticationError reports a rejected credential. Ref is a short
// fingerprint for tokens and the plain identifier otherwise.
type AuthenticationError struct {
	Code string
	Ref  string
}

func (e *AuthenticationError) Error() string {
	if e.Ref == "" {
		return e.Code
	}
	return e.Code + ": " + e.Ref
}

func (e *AuthenticationError) Is(target error) bool {
	switch target {
	case ErrUnvalidToken:
		return e.Code == CodeUnvalidToken
	case ErrUnvalidRequest:
		return e.Code == CodeUnvalidRequest
	}
	return false
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return e.Kind + " not found: " + e.ID
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransientError is returned after Attempts optimistic-concurrency
// conflicts. The call can be retried.
type TransientError struct {
	Op       string
	Attempts uint
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

func (e *TransientError) Unwrap() error { return e.Err }

// InfrastructureError wraps a collaborator failure. No event was appended
// by the failing step.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return e.Op + ": infrastructure failure: " + e.Err.Error()
}

func (e *InfrastructureError) Is(target error) bool { return target == ErrInfrastructure }

func (e *InfrastructureError) Unwrap() error { return e.Err }

// Stable error codes exposed over transports.
const (
	CodeUserAlreadyExists       = "UserAlreadyExists"
	CodeGroupAlreadyExists      = "GroupAlreadyExists"
	CodeAgentAlreadyExists      = "AgentAlreadyExists"
	CodeCredentialsAlreadyExist = "CredentialsAlreadyExist"
	CodeMemberAlreadyExists     = "MemberAlreadyExists"
	CodeRequiresAdminRole       = "RequiresAdminRole"
	CodeOnlyAllowedForMembers   = "OnlyAllowedForMembers"
	CodeUnvalidToken            = "UnvalidToken"
	CodeUnvalidRequest          = "UnvalidRequest"
	CodeNotFound                = "NotFound"
	CodeTransient               = "Transient"
	CodeInfrastructure          = "Infrastructure"
	CodeRateLimited             = "RateLimited"
	CodeInvalidInput            = "InvalidInput"
	CodeEngineNotReady          = "EngineNotReady"
	CodeInternal                = "Internal"
)

// Code maps err to its stable code. It returns "" for nil.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUserAlreadyExists):
		return CodeUserAlreadyExists
	case errors.Is(err, ErrGroupAlreadyExists):
		return CodeGroupAlreadyExists
	case errors.Is(err, ErrAgentAlreadyExists):
		return CodeAgentAlreadyExists
	case errors.Is(err, ErrCredentialsAlreadyExist):
		return CodeCredentialsAlreadyExist
	case errors.Is(err, ErrMemberAlreadyExists):
		return CodeMemberAlreadyExists
	case errors.Is(err, ErrRequiresAdminRole):
		return CodeRequiresAdminRole
	case errors.Is(err, ErrOnlyAllowedForMembers):
		return CodeOnlyAllowedForMembers
	case errors.Is(err, ErrUnvalidToken):
		return CodeUnvalidToken
	case errors.Is(err, ErrUnvalidRequest):
		return CodeUnvalidRequest
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrTransient):
		return CodeTransient
	case errors.Is(err, ErrInfrastructure):
		return CodeInfrastructure
	case errors.Is(err, ErrEngineNotReady):
		return CodeEngineNotReady
	default:
		return CodeInternal
	}
}

// subject describes what a command was acting on, so translated errors
// can carry the right identifiers.
type subject struct {
	kind    string
	id      string
	email   string
	groupID string
	ref     string
}

func isPublicError(err error) bool {
	for _, target := range []error{
		ErrUserAlreadyExists, ErrGroupAlreadyExists, ErrAgentAlreadyExists, ErrCredentialsAlreadyExist,
		ErrMemberAlreadyExists, ErrRequiresAdminRole, ErrOnlyAllowedForMembers, ErrUnvalidToken,
		ErrUnvalidRequest, ErrNotFound, ErrTransient, ErrInfrastructure, ErrRateLimited,
		ErrInvalidInput, ErrEngineNotReady,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// translate converts package-level sentinels into public error variants.
func (e *Engine) translate(op string, err error, subj subject) error {
	if err == nil || isPublicError(err) {
		return err
	}

	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		return &AlreadyExistsError{Kind: subj.kind, ID: subj.id, Email: subj.email}
	case errors.Is(err, domain.ErrRequiresAdmin):
		return &AuthorizationError{Code: CodeRequiresAdminRole, GroupID: subj.groupID}
	case errors.Is(err, domain.ErrNotMember):
		return &AuthorizationError{Code: CodeOnlyAllowedForMembers, GroupID: subj.groupID}
	case errors.Is(err, domain.ErrInvalidToken), errors.Is(err, token.ErrInvalid):
		return &AuthenticationError{Code: CodeUnvalidToken, Ref: subj.ref}
	case errors.Is(err, domain.ErrInvalidRequest):
		return &AuthenticationError{Code: CodeUnvalidRequest, Ref: subj.id}
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, eventstore.ErrNotFound):
		return &NotFoundError{Kind: subj.kind, ID: subj.id}
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, password.ErrPasswordTooShort),
		errors.Is(err, password.ErrPasswordTooLong):
		return fmt.Errorf("%w: %s: %v", ErrInvalidInput, op, err)
	case errors.Is(err, rate.ErrRateLimited):
		return ErrRateLimited
	case errors.Is(err, eventstore.ErrRetriesExhausted):
		return &TransientError{Op: op, Attempts: e.config.Store.MaxAttempts, Err: err}
	default:
		return &InfrastructureError{Op: op, Err: err}
	}
}

func tokenError(raw string) error {
	return &AuthenticationError{Code: CodeUnvalidToken, Ref: tokenRef(raw)}
}

func tokenRef(raw string) string {
	if raw == "" {
		return ""
	}
	return password.Fingerprint(raw)
}
