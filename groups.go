package goIdentity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/domain"
	"github.com/MrEthical07/goIdentity/internal/domain/email"
	"github.com/MrEthical07/goIdentity/internal/domain/group"
	"github.com/MrEthical07/goIdentity/internal/domain/user"
	"github.com/MrEthical07/goIdentity/token"
)

// Groups is the Group aggregate engine. Callers identify themselves with
// the userToken in ctx. Membership changes are projected onto the User
// and email index aggregates after the group commit.
type Groups struct {
	e *Engine
}

// caller resolves the userToken in ctx.
func (g *Groups) caller(ctx context.Context, op string) (group.Principal, error) {
	claims, err := g.e.verify(ctx, op, userTokenFromContext(ctx), token.PurposeUser)
	if err != nil {
		return group.Principal{}, err
	}
	p := group.Principal{UID: claims.UserID, Email: claims.Email}
	if info := claims.User; info != nil {
		p.Email = info.Email
		p.Profile = &group.Profile{
			Locale:    info.Locale,
			CreatedAt: time.UnixMilli(info.CreatedAt).UTC(),
		}
		if info.ConfirmedAt != 0 {
			p.Profile.ConfirmedAt = time.UnixMilli(info.ConfirmedAt).UTC()
		}
	}
	return p, nil
}

func (g *Groups) exec(ctx context.Context, op, groupID string, decide func(s *group.State, now time.Time) ([]eventstore.Event, error)) (*group.State, []eventstore.Event, error) {
	e := g.e
	st, events, err := eventstore.Execute(ctx, e.repo, groupID, group.New,
		func(s *group.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			return decide(s, e.now())
		})
	if err != nil {
		if errors.Is(err, domain.ErrRequiresAdmin) || errors.Is(err, domain.ErrNotMember) {
			e.metrics.Inc(MetricAuthorizationDenied)
			e.emitAudit(ctx, AuditEvent{Action: audit.ActionAuthorizationDenied, GroupID: groupID, Metadata: map[string]string{"op": op}})
		}
		return nil, nil, e.translate(op, err, subject{kind: KindGroup, id: groupID, groupID: groupID})
	}
	return st, events, nil
}

// Create founds groupID with the caller as its first admin.
func (g *Groups) Create(ctx context.Context, groupID, label string) (err error) {
	e := g.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	caller, err := g.caller(ctx, "create group")
	if err != nil {
		return err
	}
	st, _, err := g.exec(ctx, "create group", groupID, func(s *group.State, now time.Time) ([]eventstore.Event, error) {
		return group.Create(s, groupID, label, caller, now)
	})
	if err != nil {
		return err
	}
	g.projectMembership(ctx, caller.UID, st, domain.RoleAdmin)

	e.metrics.Inc(MetricGroupCreated)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionGroupCreated, UserID: caller.UID, GroupID: groupID, Success: true})
	return nil
}

// Get returns the group to one of its members. Unknown groups are
// reported as OnlyAllowedForMembers so existence is not disclosed.
func (g *Groups) Get(ctx context.Context, groupID string) (view GroupView, err error) {
	e := g.e
	if err := e.ready(); err != nil {
		return GroupView{}, err
	}
	defer e.track(time.Now(), &err)

	caller, err := g.caller(ctx, "get group")
	if err != nil {
		return GroupView{}, err
	}
	st, err := g.member(ctx, "get group", groupID, caller.UID)
	if err != nil {
		return GroupView{}, err
	}
	return groupView(st), nil
}

// member loads groupID and checks the caller belongs to it.
func (g *Groups) member(ctx context.Context, op, groupID, userID string) (*group.State, error) {
	e := g.e
	st, _, err := eventstore.Load(ctx, e.repo, groupID, group.New)
	if err != nil && !errors.Is(err, eventstore.ErrNotFound) {
		return nil, e.translate(op, err, subject{kind: KindGroup, id: groupID, groupID: groupID})
	}
	if err != nil {
		st = group.New()
	}
	if _, err := group.RequireMember(st, userID); err != nil {
		e.metrics.Inc(MetricAuthorizationDenied)
		e.emitAudit(ctx, AuditEvent{Action: audit.ActionAuthorizationDenied, UserID: userID, GroupID: groupID, Metadata: map[string]string{"op": op}})
		return nil, &AuthorizationError{Code: CodeOnlyAllowedForMembers, GroupID: groupID}
	}
	return st, nil
}

// Rename changes the label. Admin only.
func (g *Groups) Rename(ctx context.Context, groupID, label string) (err error) {
	e := g.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	caller, err := g.caller(ctx, "rename group")
	if err != nil {
		return err
	}
	st, _, err := g.exec(ctx, "rename group", groupID, func(s *group.State, now time.Time) ([]eventstore.Event, error) {
		return group.Rename(s, caller, label, now)
	})
	if err != nil {
		return err
	}

	targets := make([]string, 0, len(st.Members))
	for _, m := range st.Members {
		targets = append(targets, m.UserID)
	}
	for _, inv := range st.Invitations {
		if uid, ok := g.owner(ctx, inv.Email); ok {
			targets = append(targets, uid)
		}
	}
	for _, uid := range targets {
		g.projectUser(ctx, "rename group", uid, func(s *user.State) ([]eventstore.Event, error) {
			return user.RenameGroup(s, groupID, st.Label)
		})
	}
	return nil
}

// InviteUser issues a single-use invitation for address. Inviting again
// replaces the pending invitation with a new token. The token reaches the
// invitee through the published UserInvited event and their own view.
func (g *Groups) InviteUser(ctx context.Context, groupID, address string) (err error) {
	e := g.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	caller, err := g.caller(ctx, "invite user")
	if err != nil {
		return err
	}
	addr := domain.NormalizeEmail(address)
	tokenID := uuid.NewString()
	tok, err := e.issue(ctx, "invite user", token.PurposeInvitation, token.Claims{
		TokenID: tokenID,
		GroupID: groupID,
		Email:   addr,
	})
	if err != nil {
		return err
	}
	inviter := group.Principal{UID: caller.UID, Email: caller.Email}
	st, _, err := g.exec(ctx, "invite user", groupID, func(s *group.State, now time.Time) ([]eventstore.Event, error) {
		return group.Invite(s, inviter, addr, tokenID, tok, now)
	})
	if err != nil {
		var exists *AlreadyExistsError
		if errors.As(err, &exists) {
			return &AlreadyExistsError{Kind: KindMember, ID: groupID, Email: addr}
		}
		return err
	}

	inv := st.Invitations[addr]
	g.projectInvitation(ctx, groupID, st.Label, addr, inv)

	e.metrics.Inc(MetricInvitationIssued)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionInvitationIssued, UserID: caller.UID, GroupID: groupID, Success: true})
	return nil
}

// UninviteUser revokes the pending invitation for address. Admin only.
func (g *Groups) UninviteUser(ctx context.Context, groupID, address string) (err error) {
	e := g.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	caller, err := g.caller(ctx, "uninvite user")
	if err != nil {
		return err
	}
	addr := domain.NormalizeEmail(address)
	_, _, err = g.exec(ctx, "uninvite user", groupID, func(s *group.State, now time.Time) ([]eventstore.Event, error) {
		return group.Uninvite(s, caller, addr, now)
	})
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return &NotFoundError{Kind: KindInvitation, ID: addr}
		}
		return err
	}
	g.revokeInvitation(ctx, groupID, addr)

	e.emitAudit(ctx, AuditEvent{Action: audit.ActionInvitationRevoked, UserID: caller.UID, GroupID: groupID, Success: true})
	return nil
}

// Join consumes invitationToken. It must be the current invitation and be
// addressed to the caller's email.
func (g *Groups) Join(ctx context.Context, invitationToken string) (err error) {
	e := g.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	caller, err := g.caller(ctx, "join group")
	if err != nil {
		return err
	}
	claims, err := e.verify(ctx, "join group", invitationToken, token.PurposeInvitation)
	if err != nil {
		return err
	}
	addr := domain.NormalizeEmail(caller.Email)
	if claims.Email != addr {
		return tokenError(invitationToken)
	}
	groupID := claims.GroupID
	st, _, err := eventstore.Execute(ctx, e.repo, groupID, group.New,
		func(s *group.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			return group.Join(s, caller, claims.TokenID, e.now())
		})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidToken):
			return tokenError(invitationToken)
		case errors.Is(err, domain.ErrAlreadyExists):
			return &AlreadyExistsError{Kind: KindMember, ID: caller.UID}
		}
		return e.translate("join group", err, subject{kind: KindGroup, id: groupID, groupID: groupID})
	}

	g.projectMembership(ctx, caller.UID, st, domain.RoleMember)
	g.revokeInvitation(ctx, groupID, addr)

	e.metrics.Inc(MetricInvitationConsumed)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionGroupJoined, UserID: caller.UID, GroupID: groupID, Success: true})
	return nil
}

// Leave removes the caller's own membership.
func (g *Groups) Leave(ctx context.Context, groupID string) (err error) {
	e := g.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	caller, err := g.caller(ctx, "leave group")
	if err != nil {
		return err
	}
	if _, _, err := g.exec(ctx, "leave group", groupID, func(s *group.State, now time.Time) ([]eventstore.Event, error) {
		return group.Leave(s, caller.UID, now)
	}); err != nil {
		return err
	}
	g.projectUser(ctx, "leave group", caller.UID, func(s *user.State) ([]eventstore.Event, error) {
		return user.RemoveMembership(s, groupID, e.now())
	})

	e.emitAudit(ctx, AuditEvent{Action: audit.ActionGroupLeft, UserID: caller.UID, GroupID: groupID, Success: true})
	return nil
}

// RequestAccessForMember issues a short-lived accessToken binding the
// caller to groupID.
func (g *Groups) RequestAccessForMember(ctx context.Context, groupID string) (accessToken string, err error) {
	e := g.e
	if err := e.ready(); err != nil {
		return "", err
	}
	defer e.track(time.Now(), &err)

	caller, err := g.caller(ctx, "request access")
	if err != nil {
		return "", err
	}
	if _, err := g.member(ctx, "request access", groupID, caller.UID); err != nil {
		return "", err
	}
	tok, err := e.issue(ctx, "request access", token.PurposeAccess, token.Claims{
		UserID:  caller.UID,
		GroupID: groupID,
	})
	if err != nil {
		return "", err
	}
	e.metrics.Inc(MetricAccessTokenIssued)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionAccessTokenIssued, UserID: caller.UID, GroupID: groupID, Success: true})
	return tok, nil
}

// VerifyAccessToken checks the accessToken in ctx against the userToken in
// ctx and the caller's current role, then mints an aclToken.
func (g *Groups) VerifyAccessToken(ctx context.Context) (aclToken string, err error) {
	e := g.e
	if err := e.ready(); err != nil {
		return "", err
	}
	defer e.track(time.Now(), &err)

	caller, err := g.caller(ctx, "verify access token")
	if err != nil {
		return "", err
	}
	raw := accessTokenFromContext(ctx)
	access, err := e.verify(ctx, "verify access token", raw, token.PurposeAccess)
	if err != nil {
		return "", err
	}
	if access.UserID != caller.UID || access.GroupID == "" {
		return "", tokenError(raw)
	}
	st, err := g.member(ctx, "verify access token", access.GroupID, caller.UID)
	if err != nil {
		return "", err
	}
	role, _ := st.Role(caller.UID)
	tok, err := e.issue(ctx, "verify access token", token.PurposeACL, token.Claims{
		UserID:  caller.UID,
		GroupID: access.GroupID,
		Role:    role,
		Email:   caller.Email,
	})
	if err != nil {
		return "", err
	}
	e.metrics.Inc(MetricACLTokenIssued)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionACLTokenIssued, UserID: caller.UID, GroupID: access.GroupID, Success: true, Metadata: map[string]string{"role": role}})
	return tok, nil
}

// GetLog pages through the group's history. Admin only.
func (g *Groups) GetLog(ctx context.Context, groupID string, q LogQuery) (page LogPage, err error) {
	e := g.e
	if err := e.ready(); err != nil {
		return LogPage{}, err
	}
	defer e.track(time.Now(), &err)

	caller, err := g.caller(ctx, "group log")
	if err != nil {
		return LogPage{}, err
	}
	st, err := g.member(ctx, "group log", groupID, caller.UID)
	if err != nil {
		return LogPage{}, err
	}
	if err := group.RequireAdmin(st, caller.UID); err != nil {
		e.metrics.Inc(MetricAuthorizationDenied)
		return LogPage{}, &AuthorizationError{Code: CodeRequiresAdminRole, GroupID: groupID}
	}
	page, err = e.queryLog(ctx, group.AggregateType, groupID, q)
	if err != nil {
		return LogPage{}, e.translate("group log", err, subject{kind: KindGroup, id: groupID})
	}
	for i := range page.Events {
		page.Events[i].Payload = redactGroupPayload(page.Events[i].Payload)
	}
	return page, nil
}

// redactGroupPayload drops invitation tokens from the history view.
func redactGroupPayload(p any) any {
	if inv, ok := p.(*group.UserInvited); ok {
		cp := *inv
		cp.Token = ""
		return &cp
	}
	return p
}

/*
====================================
PROJECTIONS
====================================
*/

func (g *Groups) projectUser(ctx context.Context, name, userID string, decide func(s *user.State) ([]eventstore.Event, error)) {
	e := g.e
	e.project(ctx, name, userID, func(ctx context.Context) error {
		_, _, err := eventstore.Execute(ctx, e.repo, userID, user.New,
			func(s *user.State, _ eventstore.Stream) ([]eventstore.Event, error) {
				return decide(s)
			})
		return err
	})
}

func (g *Groups) projectEmail(ctx context.Context, name, addr string, decide func(s *email.State) ([]eventstore.Event, error)) {
	e := g.e
	e.project(ctx, name, addr, func(ctx context.Context) error {
		_, _, err := eventstore.Execute(ctx, e.repo, addr, email.New,
			func(s *email.State, _ eventstore.Stream) ([]eventstore.Event, error) {
				return decide(s)
			})
		return err
	})
}

func (g *Groups) projectMembership(ctx context.Context, userID string, st *group.State, role string) {
	joinedAt := g.e.now()
	for _, m := range st.Members {
		if m.UserID == userID {
			joinedAt = m.JoinedAt
		}
	}
	g.projectUser(ctx, "add membership", userID, func(s *user.State) ([]eventstore.Event, error) {
		return user.AddMembership(s, user.Membership{GroupID: st.UID, Label: st.Label, Role: role, JoinedAt: joinedAt})
	})
}

// projectInvitation records the invitation on the email index, and on the
// user when the address is already registered.
func (g *Groups) projectInvitation(ctx context.Context, groupID, label, addr string, inv group.Invitation) {
	g.projectEmail(ctx, "receive invitation", addr, func(s *email.State) ([]eventstore.Event, error) {
		return email.ReceiveInvitation(s, addr, email.Invitation{
			GroupID:   groupID,
			Label:     label,
			Token:     inv.Token,
			InvitedBy: inv.InvitedBy.Email,
			InvitedAt: inv.InvitedAt,
		})
	})
	if uid, ok := g.owner(ctx, addr); ok {
		g.projectUser(ctx, "receive invitation", uid, func(s *user.State) ([]eventstore.Event, error) {
			return user.ReceiveInvitation(s, user.Invitation{
				GroupID:   groupID,
				Label:     label,
				Token:     inv.Token,
				InvitedBy: inv.InvitedBy.Email,
				InvitedAt: inv.InvitedAt,
			})
		})
	}
}

func (g *Groups) revokeInvitation(ctx context.Context, groupID, addr string) {
	g.projectEmail(ctx, "revoke invitation", addr, func(s *email.State) ([]eventstore.Event, error) {
		return email.RevokeInvitation(s, addr, groupID)
	})
	if uid, ok := g.owner(ctx, addr); ok {
		g.projectUser(ctx, "revoke invitation", uid, func(s *user.State) ([]eventstore.Event, error) {
			return user.RevokeInvitation(s, groupID)
		})
	}
}

// owner looks addr up in the email index. Lookup failures count as
// unregistered; the email index still carries the invitation.
func (g *Groups) owner(ctx context.Context, addr string) (string, bool) {
	idx, _, err := eventstore.Load(ctx, g.e.repo, addr, email.New)
	if err != nil {
		if !errors.Is(err, eventstore.ErrNotFound) {
			g.e.logger.Warn("email index unavailable", "error", err)
		}
		return "", false
	}
	return idx.Owner()
}

func groupView(s *group.State) GroupView {
	v := GroupView{
		UID:         s.UID,
		CreatedAt:   s.CreatedAt,
		Label:       s.Label,
		Members:     make([]MemberView, 0, len(s.Members)),
		Agents:      make(map[string]AgentSummary, len(s.Agents)),
		Invitations: make(map[string]GroupInvitationView, len(s.Invitations)),
	}
	for _, m := range s.Members {
		info := token.UserInfo{
			UID:    m.UserID,
			Email:  m.Email,
			Locale: m.Profile.Locale,
		}
		if !m.Profile.CreatedAt.IsZero() {
			info.CreatedAt = m.Profile.CreatedAt.UnixMilli()
		}
		if !m.Profile.ConfirmedAt.IsZero() {
			info.ConfirmedAt = m.Profile.ConfirmedAt.UnixMilli()
		}
		v.Members = append(v.Members, MemberView{User: info, Role: m.Role})
	}
	for id, a := range s.Agents {
		v.Agents[id] = AgentSummary{UID: a.UID, Label: a.Label, CreatedAt: a.CreatedAt}
	}
	for addr, inv := range s.Invitations {
		v.Invitations[addr] = GroupInvitationView{
			Email:     inv.Email,
			InvitedBy: inv.InvitedBy.Email,
			InvitedAt: inv.InvitedAt,
		}
	}
	return v
}
