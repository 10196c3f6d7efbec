package goIdentity

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/domain"
	"github.com/MrEthical07/goIdentity/internal/domain/agent"
	"github.com/MrEthical07/goIdentity/internal/domain/group"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/token"
)

// Agents is the Agent aggregate engine. Administration is authorized by
// the aclToken in ctx; agents authenticate themselves with LogIn.
type Agents struct {
	e *Engine
}

// acl resolves the aclToken in ctx. With admin set the asserted role must
// be admin.
func (a *Agents) acl(ctx context.Context, op string, admin bool) (token.Claims, error) {
	e := a.e
	claims, err := e.verify(ctx, op, aclTokenFromContext(ctx), token.PurposeACL)
	if err != nil {
		return token.Claims{}, err
	}
	if claims.GroupID == "" || claims.UserID == "" {
		return token.Claims{}, tokenError(aclTokenFromContext(ctx))
	}
	if admin && claims.Role != domain.RoleAdmin {
		return token.Claims{}, a.denied(ctx, op, claims, CodeRequiresAdminRole)
	}
	return claims, nil
}

func (a *Agents) denied(ctx context.Context, op string, acl token.Claims, code string) error {
	a.e.metrics.Inc(MetricAuthorizationDenied)
	a.e.emitAudit(ctx, AuditEvent{
		Action:   audit.ActionAuthorizationDenied,
		UserID:   acl.UserID,
		GroupID:  acl.GroupID,
		Error:    code,
		Metadata: map[string]string{"op": op},
	})
	return &AuthorizationError{Code: code, GroupID: acl.GroupID}
}

func credentialScope(agentID, credentialsID string) string {
	return eventstore.Scope(agent.AggregateType, agentID) + ":credentials:" + credentialsID
}

// exec runs decide against agentID after checking it belongs to the
// aclToken's group.
func (a *Agents) exec(ctx context.Context, op, agentID string, acl token.Claims, decide func(s *agent.State, now time.Time) ([]eventstore.Event, error)) (*agent.State, []eventstore.Event, error) {
	e := a.e
	var foreign bool
	st, events, err := eventstore.Execute(ctx, e.repo, agentID, agent.New,
		func(s *agent.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			if s.Exists() && s.GroupID != acl.GroupID {
				foreign = true
				return nil, domain.ErrRequiresAdmin
			}
			return decide(s, e.now())
		})
	if err != nil {
		if foreign {
			return nil, nil, a.denied(ctx, op, acl, CodeRequiresAdminRole)
		}
		return nil, nil, e.translate(op, err, subject{kind: KindAgent, id: agentID, groupID: acl.GroupID})
	}
	return st, events, nil
}

// load reads a live agent of the aclToken's group.
func (a *Agents) load(ctx context.Context, op, agentID string, acl token.Claims, code string) (*agent.State, error) {
	e := a.e
	st, _, err := eventstore.Load(ctx, e.repo, agentID, agent.New)
	if err != nil {
		return nil, e.translate(op, err, subject{kind: KindAgent, id: agentID})
	}
	if st.GroupID != acl.GroupID {
		return nil, a.denied(ctx, op, acl, code)
	}
	if !st.Live() {
		return nil, &NotFoundError{Kind: KindAgent, ID: agentID}
	}
	return st, nil
}

// Create registers agentID in the aclToken's group.
func (a *Agents) Create(ctx context.Context, agentID, label string) (err error) {
	e := a.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	acl, err := a.acl(ctx, "create agent", true)
	if err != nil {
		return err
	}
	st, _, err := eventstore.Execute(ctx, e.repo, agentID, agent.New,
		func(s *agent.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			return agent.Create(s, acl.GroupID, agentID, label, acl.UserID, e.now())
		})
	if err != nil {
		return e.translate("create agent", err, subject{kind: KindAgent, id: agentID, groupID: acl.GroupID})
	}
	a.projectGroup(ctx, "add agent", acl.GroupID, func(s *group.State) ([]eventstore.Event, error) {
		return group.AddAgent(s, group.AgentSummary{UID: st.UID, Label: st.Label, CreatedAt: st.CreatedAt})
	})

	e.metrics.Inc(MetricAgentCreated)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionAgentCreated, UserID: acl.UserID, AgentID: agentID, GroupID: acl.GroupID, Success: true})
	return nil
}

func (a *Agents) Rename(ctx context.Context, agentID, label string) (err error) {
	e := a.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	acl, err := a.acl(ctx, "rename agent", true)
	if err != nil {
		return err
	}
	st, _, err := a.exec(ctx, "rename agent", agentID, acl, func(s *agent.State, now time.Time) ([]eventstore.Event, error) {
		return agent.Rename(s, label, now)
	})
	if err != nil {
		return err
	}
	a.projectGroup(ctx, "rename agent", acl.GroupID, func(s *group.State) ([]eventstore.Event, error) {
		return group.RenameAgent(s, agentID, st.Label)
	})
	return nil
}

// Get returns the agent to any member of its group. Secrets are never
// included.
func (a *Agents) Get(ctx context.Context, agentID string) (view AgentView, err error) {
	e := a.e
	if err := e.ready(); err != nil {
		return AgentView{}, err
	}
	defer e.track(time.Now(), &err)

	acl, err := a.acl(ctx, "get agent", false)
	if err != nil {
		return AgentView{}, err
	}
	st, err := a.load(ctx, "get agent", agentID, acl, CodeOnlyAllowedForMembers)
	if err != nil {
		return AgentView{}, err
	}
	view = AgentView{
		UID:         st.UID,
		GroupID:     st.GroupID,
		Label:       st.Label,
		CreatedAt:   st.CreatedAt,
		Credentials: make(map[string]CredentialSummary, len(st.Credentials)),
	}
	for id, c := range st.Credentials {
		view.Credentials[id] = CredentialSummary{UID: c.UID, CreatedAt: c.CreatedAt}
	}
	return view, nil
}

// CreateCredentials generates a secret for credentialsID. Only its digest
// and its sealed form are stored; reveal it with GetCredentials.
func (a *Agents) CreateCredentials(ctx context.Context, agentID, credentialsID string) (summary CredentialSummary, err error) {
	e := a.e
	if err := e.ready(); err != nil {
		return CredentialSummary{}, err
	}
	defer e.track(time.Now(), &err)

	acl, err := a.acl(ctx, "create credentials", true)
	if err != nil {
		return CredentialSummary{}, err
	}
	secret, _, err := password.GenerateSecret()
	if err != nil {
		return CredentialSummary{}, &InfrastructureError{Op: "create credentials", Err: err}
	}
	sealed, err := e.encryptor.Encrypt(ctx, secret, credentialScope(agentID, credentialsID))
	if err != nil {
		return CredentialSummary{}, &InfrastructureError{Op: "create credentials: encrypt", Err: err}
	}
	hashed := hex.EncodeToString(password.HashSecret(secret))

	st, _, err := a.exec(ctx, "create credentials", agentID, acl, func(s *agent.State, now time.Time) ([]eventstore.Event, error) {
		return agent.CreateCredentials(s, credentialsID, hashed, sealed, now)
	})
	if err != nil {
		var exists *AlreadyExistsError
		if errors.As(err, &exists) {
			return CredentialSummary{}, &AlreadyExistsError{Kind: KindCredentials, ID: credentialsID}
		}
		return CredentialSummary{}, err
	}

	e.metrics.Inc(MetricCredentialsCreated)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionCredentialsCreated, UserID: acl.UserID, AgentID: agentID, GroupID: acl.GroupID, Success: true,
		Metadata: map[string]string{"credentials_id": credentialsID}})
	return CredentialSummary{UID: credentialsID, CreatedAt: st.Credentials[credentialsID].CreatedAt}, nil
}

// GetCredentials decrypts and returns the secret. Every reveal is audited.
func (a *Agents) GetCredentials(ctx context.Context, agentID, credentialsID string) (creds Credentials, err error) {
	e := a.e
	if err := e.ready(); err != nil {
		return Credentials{}, err
	}
	defer e.track(time.Now(), &err)

	acl, err := a.acl(ctx, "get credentials", true)
	if err != nil {
		return Credentials{}, err
	}
	st, err := a.load(ctx, "get credentials", agentID, acl, CodeRequiresAdminRole)
	if err != nil {
		return Credentials{}, err
	}
	c, ok := st.Credentials[credentialsID]
	if !ok {
		return Credentials{}, &NotFoundError{Kind: KindCredentials, ID: credentialsID}
	}
	secret, err := e.encryptor.Decrypt(ctx, c.EncryptedSecret, credentialScope(agentID, credentialsID))
	if err != nil {
		return Credentials{}, &InfrastructureError{Op: "get credentials: decrypt", Err: err}
	}

	e.metrics.Inc(MetricCredentialsRevealed)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionCredentialsRevealed, UserID: acl.UserID, AgentID: agentID, GroupID: acl.GroupID, Success: true,
		Metadata: map[string]string{"credentials_id": credentialsID}})
	return Credentials{UID: c.UID, CreatedAt: c.CreatedAt, Secret: hex.EncodeToString(secret)}, nil
}

// DeleteCredentials removes the credential and every session opened with it.
func (a *Agents) DeleteCredentials(ctx context.Context, agentID, credentialsID string) (err error) {
	e := a.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	acl, err := a.acl(ctx, "delete credentials", true)
	if err != nil {
		return err
	}
	_, _, err = eventstore.Execute(ctx, e.repo, agentID, agent.New,
		func(s *agent.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			if s.Exists() && s.GroupID != acl.GroupID {
				return nil, domain.ErrRequiresAdmin
			}
			if !s.Live() {
				return nil, errAgentGone
			}
			return agent.DeleteCredentials(s, credentialsID, e.now())
		})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRequiresAdmin):
		return a.denied(ctx, "delete credentials", acl, CodeRequiresAdminRole)
	case errors.Is(err, errAgentGone):
		return &NotFoundError{Kind: KindAgent, ID: agentID}
	case errors.Is(err, domain.ErrNotFound):
		return &NotFoundError{Kind: KindCredentials, ID: credentialsID}
	default:
		return e.translate("delete credentials", err, subject{kind: KindAgent, id: agentID})
	}

	e.metrics.Inc(MetricCredentialsDeleted)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionCredentialsDeleted, UserID: acl.UserID, AgentID: agentID, GroupID: acl.GroupID, Success: true,
		Metadata: map[string]string{"credentials_id": credentialsID}})
	return nil
}

var errAgentGone = errors.New("agent deleted")

// LogIn authenticates an agent with the hex secret of one of its live
// credentials and opens a session.
func (a *Agents) LogIn(ctx context.Context, agentID, secret string) (sess AgentSession, err error) {
	e := a.e
	if err := e.ready(); err != nil {
		return AgentSession{}, err
	}
	defer e.track(time.Now(), &err)

	if err := e.checkRate(ctx, rate.KindAgentSecret, agentID); err != nil {
		return AgentSession{}, err
	}
	fail := func() (AgentSession, error) {
		e.metrics.Inc(MetricAgentLoginFailure)
		e.recordFailure(ctx, rate.KindAgentSecret, agentID)
		e.emitAudit(ctx, AuditEvent{Action: audit.ActionAgentLogin, AgentID: agentID, Error: CodeUnvalidRequest})
		return AgentSession{}, &AuthenticationError{Code: CodeUnvalidRequest, Ref: agentID}
	}

	raw, err := hex.DecodeString(secret)
	if err != nil || len(raw) != password.SecretBytes {
		return fail()
	}
	st, _, err := eventstore.Load(ctx, e.repo, agentID, agent.New)
	if err != nil {
		if errors.Is(err, eventstore.ErrNotFound) {
			return fail()
		}
		return AgentSession{}, e.translate("agent login", err, subject{kind: KindAgent, id: agentID})
	}
	credentialsID, ok := agent.MatchCredential(st, func(hashed string) bool {
		digest, err := hex.DecodeString(hashed)
		return err == nil && password.VerifySecret(raw, digest)
	})
	if !ok {
		return fail()
	}
	e.resetRate(ctx, rate.KindAgentSecret, agentID)

	sessionID := uuid.NewString()
	auth, err := e.issue(ctx, "agent login", token.PurposeAuth, token.Claims{
		AgentID:   agentID,
		GroupID:   st.GroupID,
		SessionID: sessionID,
	})
	if err != nil {
		return AgentSession{}, err
	}
	digest := tokenDigest(auth)
	_, _, err = eventstore.Execute(ctx, e.repo, agentID, agent.New,
		func(s *agent.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			return agent.LogIn(s, sessionID, credentialsID, digest, e.now())
		})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			return fail()
		}
		return AgentSession{}, e.translate("agent login", err, subject{kind: KindAgent, id: agentID})
	}

	e.metrics.Inc(MetricAgentLoginSuccess)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionAgentLogin, AgentID: agentID, GroupID: st.GroupID, SessionID: sessionID, Success: true})
	return AgentSession{SessionID: sessionID, AuthToken: auth}, nil
}

// session resolves the agent authToken in ctx to a live session.
func (a *Agents) session(ctx context.Context, op string) (token.Claims, string, *agent.State, error) {
	e := a.e
	raw := authTokenFromContext(ctx)
	claims, err := e.verify(ctx, op, raw, token.PurposeAuth)
	if err != nil {
		return token.Claims{}, "", nil, err
	}
	if claims.AgentID == "" {
		return token.Claims{}, "", nil, tokenError(raw)
	}
	digest := tokenDigest(raw)
	st, _, err := eventstore.Load(ctx, e.repo, claims.AgentID, agent.New)
	if err != nil {
		if errors.Is(err, eventstore.ErrNotFound) {
			return token.Claims{}, "", nil, tokenError(raw)
		}
		return token.Claims{}, "", nil, e.translate(op, err, subject{kind: KindAgent, id: claims.AgentID})
	}
	if !st.SessionValid(claims.SessionID, digest) {
		e.metrics.Inc(MetricAuthTokenRejected)
		return token.Claims{}, "", nil, tokenError(raw)
	}
	return claims, digest, st, nil
}

// VerifyAuthToken checks the agent authToken in ctx and mints an
// agentToken describing the agent.
func (a *Agents) VerifyAuthToken(ctx context.Context) (agentToken string, err error) {
	e := a.e
	if err := e.ready(); err != nil {
		return "", err
	}
	defer e.track(time.Now(), &err)

	claims, _, st, err := a.session(ctx, "verify agent token")
	if err != nil {
		return "", err
	}
	tok, err := e.issue(ctx, "verify agent token", token.PurposeAgent, token.Claims{
		AgentID:   st.UID,
		GroupID:   st.GroupID,
		SessionID: claims.SessionID,
		Agent: &token.AgentInfo{
			UID:       st.UID,
			GroupID:   st.GroupID,
			Label:     st.Label,
			CreatedAt: st.CreatedAt.UnixMilli(),
		},
	})
	if err != nil {
		return "", err
	}
	e.metrics.Inc(MetricAuthTokenVerified)
	return tok, nil
}

// LogOut revokes the agent session of the authToken in ctx.
func (a *Agents) LogOut(ctx context.Context) (err error) {
	e := a.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	raw := authTokenFromContext(ctx)
	claims, err := e.verify(ctx, "agent logout", raw, token.PurposeAuth)
	if err != nil {
		return err
	}
	if claims.AgentID == "" {
		return tokenError(raw)
	}
	digest := tokenDigest(raw)
	_, _, err = eventstore.Execute(ctx, e.repo, claims.AgentID, agent.New,
		func(s *agent.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			return agent.LogOut(s, claims.SessionID, digest, e.now())
		})
	if err != nil {
		return e.translate("agent logout", err, subject{kind: KindAgent, id: claims.AgentID, ref: tokenRef(raw)})
	}
	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionAgentLogout, AgentID: claims.AgentID, SessionID: claims.SessionID, Success: true})
	return nil
}

// Delete retires the agent, recording the admin from the aclToken as
// deletedBy. The id stays taken.
func (a *Agents) Delete(ctx context.Context, agentID string) (err error) {
	e := a.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	acl, err := a.acl(ctx, "delete agent", true)
	if err != nil {
		return err
	}
	if _, _, err := a.exec(ctx, "delete agent", agentID, acl, func(s *agent.State, now time.Time) ([]eventstore.Event, error) {
		return agent.Delete(s, acl.UserID, now)
	}); err != nil {
		return err
	}
	a.projectGroup(ctx, "remove agent", acl.GroupID, func(s *group.State) ([]eventstore.Event, error) {
		return group.RemoveAgent(s, agentID)
	})

	e.metrics.Inc(MetricAgentDeleted)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionAgentDeleted, UserID: acl.UserID, AgentID: agentID, GroupID: acl.GroupID, Success: true})
	return nil
}

// GetLog pages through the agent's history, including after deletion.
// Credential digests and sealed secrets are redacted.
func (a *Agents) GetLog(ctx context.Context, agentID string, q LogQuery) (page LogPage, err error) {
	e := a.e
	if err := e.ready(); err != nil {
		return LogPage{}, err
	}
	defer e.track(time.Now(), &err)

	acl, err := a.acl(ctx, "agent log", true)
	if err != nil {
		return LogPage{}, err
	}
	st, _, err := eventstore.Load(ctx, e.repo, agentID, agent.New)
	if err != nil {
		return LogPage{}, e.translate("agent log", err, subject{kind: KindAgent, id: agentID})
	}
	if st.GroupID != acl.GroupID {
		return LogPage{}, a.denied(ctx, "agent log", acl, CodeRequiresAdminRole)
	}
	page, err = e.queryLog(ctx, agent.AggregateType, agentID, q)
	if err != nil {
		return LogPage{}, e.translate("agent log", err, subject{kind: KindAgent, id: agentID})
	}
	for i := range page.Events {
		page.Events[i].Payload = redactAgentPayload(page.Events[i].Payload)
	}
	return page, nil
}

func redactAgentPayload(p any) any {
	switch v := p.(type) {
	case *agent.CredentialsCreated:
		cp := *v
		cp.Credentials = agent.Credentials{UID: v.Credentials.UID}
		return &cp
	case *agent.LoggedIn:
		cp := *v
		cp.TokenHash = ""
		return &cp
	}
	return p
}

func (a *Agents) projectGroup(ctx context.Context, name, groupID string, decide func(s *group.State) ([]eventstore.Event, error)) {
	e := a.e
	e.project(ctx, name, groupID, func(ctx context.Context) error {
		_, _, err := eventstore.Execute(ctx, e.repo, groupID, group.New,
			func(s *group.State, _ eventstore.Stream) ([]eventstore.Event, error) {
				return decide(s)
			})
		return err
	})
}
