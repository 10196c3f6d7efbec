package goIdentity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/domain"
	"github.com/MrEthical07/goIdentity/internal/domain/email"
	"github.com/MrEthical07/goIdentity/internal/domain/user"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/token"
)

// Users is the User aggregate engine: password registration and login,
// sessions, confirmation and TOTP enrollment.
type Users struct {
	e *Engine
}

// RegisterInput is the payload of Users.RegisterPWA.
type RegisterInput struct {
	UserID   string
	Email    string
	Password string
	Locale   string
}

// RegisterPWA creates a user with a password. The email is claimed in the
// email index first so two users can never share an address; if the user
// stream cannot be created the claim is released again.
func (u *Users) RegisterPWA(ctx context.Context, in RegisterInput) (res RegisterResult, err error) {
	e := u.e
	if err := e.ready(); err != nil {
		return RegisterResult{}, err
	}
	defer e.track(time.Now(), &err)

	addr := domain.NormalizeEmail(in.Email)
	subj := subject{kind: KindUser, id: in.UserID, email: addr}
	if !domain.ValidID(in.UserID) || !domain.ValidID(addr) || !strings.Contains(addr, "@") {
		return RegisterResult{}, e.translate("register", domain.ErrInvalidInput, subj)
	}

	if _, _, err := eventstore.Load(ctx, e.repo, in.UserID, user.New); err == nil {
		e.metrics.Inc(MetricRegisterDuplicate)
		return RegisterResult{}, &AlreadyExistsError{Kind: KindUser, ID: in.UserID}
	} else if !errors.Is(err, eventstore.ErrNotFound) {
		return RegisterResult{}, e.translate("register", err, subj)
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return RegisterResult{}, e.translate("register", err, subj)
	}

	now := e.now()
	idx, claimed, err := eventstore.Execute(ctx, e.repo, addr, email.New,
		func(s *email.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			return email.Claim(s, addr, in.UserID, now)
		})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			e.metrics.Inc(MetricRegisterDuplicate)
			return RegisterResult{}, &AlreadyExistsError{Kind: KindUser, Email: addr}
		}
		return RegisterResult{}, e.translate("register: claim email", err, subj)
	}

	pending := make([]user.Invitation, 0, len(idx.Invitations))
	for _, inv := range idx.Invitations {
		pending = append(pending, user.Invitation{
			GroupID:   inv.GroupID,
			Label:     inv.Label,
			Token:     inv.Token,
			InvitedBy: inv.InvitedBy,
			InvitedAt: inv.InvitedAt,
		})
	}

	_, _, err = eventstore.Execute(ctx, e.repo, in.UserID, user.New,
		func(s *user.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			return user.Register(s, user.RegisterInput{
				UserID:       in.UserID,
				Email:        addr,
				PasswordHash: hash,
				Locale:       in.Locale,
			}, pending, now)
		})
	if err != nil {
		if len(claimed) > 0 {
			e.project(ctx, "release email", addr, func(ctx context.Context) error {
				return u.releaseEmail(ctx, addr, in.UserID)
			})
		}
		if errors.Is(err, domain.ErrAlreadyExists) {
			e.metrics.Inc(MetricRegisterDuplicate)
		}
		return RegisterResult{}, e.translate("register", err, subj)
	}

	e.metrics.Inc(MetricRegisterSuccess)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionRegister, UserID: in.UserID, Success: true})
	return RegisterResult{UserID: in.UserID}, nil
}

// releaseEmail drops the claim on addr made for userID, unless a user
// stream for userID bound to addr was committed meanwhile by a concurrent
// registration that found the claim already in place.
func (u *Users) releaseEmail(ctx context.Context, addr, userID string) error {
	e := u.e
	owner, _, err := eventstore.Load(ctx, e.repo, userID, user.New)
	switch {
	case err == nil:
		if owner.Email == addr {
			return nil
		}
	case !errors.Is(err, eventstore.ErrNotFound):
		return err
	}
	_, _, err = eventstore.Execute(ctx, e.repo, addr, email.New,
		func(s *email.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			return email.Release(s, addr, userID, e.now())
		})
	return err
}

// LogInPWA checks the password. With TOTP active it returns an mfaToken
// to be completed by LogInTOTP; otherwise it opens sessionID and returns
// its authToken.
func (u *Users) LogInPWA(ctx context.Context, sessionID, address, password string) (res LoginResult, err error) {
	e := u.e
	if err := e.ready(); err != nil {
		return LoginResult{}, err
	}
	defer e.track(time.Now(), &err)

	addr := domain.NormalizeEmail(address)
	if err := e.checkRate(ctx, rate.KindPassword, addr); err != nil {
		return LoginResult{}, err
	}

	fail := func() (LoginResult, error) {
		e.metrics.Inc(MetricLoginFailure)
		e.recordFailure(ctx, rate.KindPassword, addr)
		e.emitAudit(ctx, AuditEvent{Action: audit.ActionLogin, SessionID: sessionID, Error: CodeUnvalidRequest})
		return LoginResult{}, &AuthenticationError{Code: CodeUnvalidRequest, Ref: addr}
	}

	st, err := u.byEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fail()
		}
		return LoginResult{}, err
	}
	ok, err := e.hasher.Verify(password, st.PasswordHash)
	if err != nil || !ok {
		return fail()
	}
	e.resetRate(ctx, rate.KindPassword, addr)
	u.upgradeHash(ctx, st, password)

	if st.TOTPActive() {
		if !domain.ValidID(sessionID) {
			return LoginResult{}, e.translate("login", domain.ErrInvalidInput, subject{})
		}
		mfa, err := e.issue(ctx, "login", token.PurposeMFA, token.Claims{
			UserID:    st.UID,
			SessionID: sessionID,
			Locale:    st.Locale,
		})
		if err != nil {
			return LoginResult{}, err
		}
		e.metrics.Inc(MetricMFARequired)
		e.emitAudit(ctx, AuditEvent{Action: audit.ActionLoginMFARequired, UserID: st.UID, SessionID: sessionID, Success: true})
		return LoginResult{MFAToken: mfa, TypeMFA: MFATypeTOTP, Locale: st.Locale}, nil
	}

	res, err = u.openSession(ctx, st.UID, sessionID, 0)
	if err != nil {
		return LoginResult{}, err
	}
	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionLogin, UserID: st.UID, SessionID: sessionID, Success: true})
	return res, nil
}

// upgradeHash stores a fresh hash of plain when the hasher reports the
// current one as outdated. Failures are logged and never fail the login.
func (u *Users) upgradeHash(ctx context.Context, st *user.State, plain string) {
	e := u.e
	up, ok := e.hasher.(password.Upgrader)
	if !ok {
		return
	}
	if stale, err := up.NeedsUpgrade(st.PasswordHash); err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		e.logger.Warn("password rehash failed", "user_id", st.UID, "error", err)
		return
	}
	_, changed, err := eventstore.Execute(ctx, e.repo, st.UID, user.New,
		func(s *user.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			return user.RehashPassword(s, st.PasswordHash, hash, e.now())
		})
	if err != nil {
		e.logger.Warn("password rehash failed", "user_id", st.UID, "error", err)
		return
	}
	if len(changed) > 0 {
		e.emitAudit(ctx, AuditEvent{Action: audit.ActionPasswordRehashed, UserID: st.UID, Success: true})
	}
}

// LogInTOTP completes a login challenged with an mfaToken. Codes at or
// before the last accepted window are rejected.
func (u *Users) LogInTOTP(ctx context.Context, mfaToken, code string) (res LoginResult, err error) {
	e := u.e
	if err := e.ready(); err != nil {
		return LoginResult{}, err
	}
	defer e.track(time.Now(), &err)

	claims, err := e.verify(ctx, "login totp", mfaToken, token.PurposeMFA)
	if err != nil {
		return LoginResult{}, err
	}
	if err := e.checkRate(ctx, rate.KindTOTP, claims.UserID); err != nil {
		return LoginResult{}, err
	}

	st, _, err := eventstore.Load(ctx, e.repo, claims.UserID, user.New)
	if err != nil {
		if errors.Is(err, eventstore.ErrNotFound) {
			return LoginResult{}, tokenError(mfaToken)
		}
		return LoginResult{}, e.translate("login totp", err, subject{kind: KindUser, id: claims.UserID})
	}
	if !st.TOTPActive() {
		return LoginResult{}, tokenError(mfaToken)
	}

	ok, counter, err := e.totp.VerifyCode(st.TOTP.Secret, code, e.now())
	if err != nil {
		return LoginResult{}, &InfrastructureError{Op: "login totp", Err: err}
	}
	if !ok || counter <= st.TOTP.LastCounter {
		if ok {
			e.metrics.Inc(MetricTOTPReplay)
		}
		e.metrics.Inc(MetricTOTPFailure)
		e.recordFailure(ctx, rate.KindTOTP, claims.UserID)
		e.emitAudit(ctx, AuditEvent{Action: audit.ActionLoginTOTP, UserID: claims.UserID, SessionID: claims.SessionID, Error: CodeUnvalidRequest})
		return LoginResult{}, &AuthenticationError{Code: CodeUnvalidRequest, Ref: claims.UserID}
	}
	e.resetRate(ctx, rate.KindTOTP, claims.UserID)

	res, err = u.openSession(ctx, claims.UserID, claims.SessionID, counter)
	if err != nil {
		if errors.Is(err, ErrUnvalidRequest) {
			e.metrics.Inc(MetricTOTPReplay)
		}
		return LoginResult{}, err
	}
	e.metrics.Inc(MetricTOTPSuccess)
	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionLoginTOTP, UserID: claims.UserID, SessionID: claims.SessionID, Success: true})
	return res, nil
}

func (u *Users) openSession(ctx context.Context, userID, sessionID string, totpCounter uint64) (LoginResult, error) {
	e := u.e
	subj := subject{kind: KindUser, id: userID}
	if !domain.ValidID(sessionID) {
		return LoginResult{}, e.translate("open session", domain.ErrInvalidInput, subj)
	}
	auth, err := e.issue(ctx, "open session", token.PurposeAuth, token.Claims{
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return LoginResult{}, err
	}
	digest := tokenDigest(auth)

	st, _, err := eventstore.Execute(ctx, e.repo, userID, user.New,
		func(s *user.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			return user.OpenSession(s, sessionID, digest, totpCounter, e.now())
		})
	if err != nil {
		return LoginResult{}, e.translate("open session", err, subject{kind: KindUser, id: sessionID})
	}
	e.metrics.Inc(MetricSessionCreated)
	return LoginResult{AuthToken: auth, SessionID: sessionID, Locale: st.Locale}, nil
}

// session resolves the authToken in ctx to a live session.
func (u *Users) session(ctx context.Context, op string) (token.Claims, string, *user.State, error) {
	e := u.e
	raw := authTokenFromContext(ctx)
	claims, err := e.verify(ctx, op, raw, token.PurposeAuth)
	if err != nil {
		return token.Claims{}, "", nil, err
	}
	if claims.UserID == "" {
		return token.Claims{}, "", nil, tokenError(raw)
	}
	digest := tokenDigest(raw)
	st, _, err := eventstore.Load(ctx, e.repo, claims.UserID, user.New)
	if err != nil {
		if errors.Is(err, eventstore.ErrNotFound) {
			return token.Claims{}, "", nil, tokenError(raw)
		}
		return token.Claims{}, "", nil, e.translate(op, err, subject{kind: KindUser, id: claims.UserID})
	}
	if !st.SessionValid(claims.SessionID, digest) {
		e.metrics.Inc(MetricAuthTokenRejected)
		return token.Claims{}, "", nil, tokenError(raw)
	}
	return claims, digest, st, nil
}

// execSession runs decide on the caller's user stream, rechecking the
// session against the state being appended to.
func (u *Users) execSession(ctx context.Context, op string, decide func(s *user.State, now time.Time) ([]eventstore.Event, error)) (*user.State, error) {
	e := u.e
	claims, digest, _, err := u.session(ctx, op)
	if err != nil {
		return nil, err
	}
	raw := authTokenFromContext(ctx)
	st, _, err := eventstore.Execute(ctx, e.repo, claims.UserID, user.New,
		func(s *user.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			if !s.SessionValid(claims.SessionID, digest) {
				return nil, domain.ErrInvalidToken
			}
			return decide(s, e.now())
		})
	if err != nil {
		return nil, e.translate(op, err, subject{kind: KindUser, id: claims.UserID, ref: tokenRef(raw)})
	}
	return st, nil
}

// LogOut revokes the session of the authToken in ctx. Other sessions of
// the same user stay live.
func (u *Users) LogOut(ctx context.Context) (err error) {
	e := u.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	raw := authTokenFromContext(ctx)
	claims, err := e.verify(ctx, "logout", raw, token.PurposeAuth)
	if err != nil {
		return err
	}
	if claims.UserID == "" {
		return tokenError(raw)
	}
	digest := tokenDigest(raw)
	_, _, err = eventstore.Execute(ctx, e.repo, claims.UserID, user.New,
		func(s *user.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			return user.CloseSession(s, claims.SessionID, digest, e.now())
		})
	if err != nil {
		return e.translate("logout", err, subject{kind: KindUser, id: claims.UserID, ref: tokenRef(raw)})
	}
	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionLogout, UserID: claims.UserID, SessionID: claims.SessionID, Success: true})
	return nil
}

// VerifyAuthToken checks the authToken in ctx and mints a userToken
// carrying the user's public profile.
func (u *Users) VerifyAuthToken(ctx context.Context) (userToken string, err error) {
	e := u.e
	if err := e.ready(); err != nil {
		return "", err
	}
	defer e.track(time.Now(), &err)

	claims, _, st, err := u.session(ctx, "verify auth token")
	if err != nil {
		return "", err
	}
	tok, err := e.issue(ctx, "verify auth token", token.PurposeUser, token.Claims{
		UserID:    st.UID,
		SessionID: claims.SessionID,
		Email:     st.Email,
		Locale:    st.Locale,
		User:      userInfo(st),
	})
	if err != nil {
		return "", err
	}
	e.metrics.Inc(MetricAuthTokenVerified)
	return tok, nil
}

// Get returns the caller's own projection.
func (u *Users) Get(ctx context.Context) (view UserView, err error) {
	e := u.e
	if err := e.ready(); err != nil {
		return UserView{}, err
	}
	defer e.track(time.Now(), &err)

	_, _, st, err := u.session(ctx, "get user")
	if err != nil {
		return UserView{}, err
	}
	return userView(st), nil
}

// ChangePassword replaces the password. The session must still be live.
func (u *Users) ChangePassword(ctx context.Context, newPassword string) (err error) {
	e := u.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return e.translate("change password", err, subject{kind: KindUser})
	}
	st, err := u.execSession(ctx, "change password", func(s *user.State, now time.Time) ([]eventstore.Event, error) {
		return user.ChangePassword(s, hash, now)
	})
	if err != nil {
		return err
	}
	e.metrics.Inc(MetricPasswordChanged)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionPasswordChanged, UserID: st.UID, Success: true})
	return nil
}

// RequestConfirmation issues a single-use confirmation token. The token is
// delivered through the published UserConfirmationRequested event.
func (u *Users) RequestConfirmation(ctx context.Context) (err error) {
	e := u.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	claims, _, st, err := u.session(ctx, "request confirmation")
	if err != nil {
		return err
	}
	tokenID := uuid.NewString()
	tok, err := e.issue(ctx, "request confirmation", token.PurposeConfirmation, token.Claims{
		TokenID: tokenID,
		UserID:  claims.UserID,
		Email:   st.Email,
	})
	if err != nil {
		return err
	}
	if _, err := u.execSession(ctx, "request confirmation", func(s *user.State, now time.Time) ([]eventstore.Event, error) {
		return user.RequestConfirmation(s, tokenID, tok, now)
	}); err != nil {
		return err
	}
	e.metrics.Inc(MetricConfirmationRequested)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionConfirmationRequested, UserID: claims.UserID, Success: true})
	return nil
}

// Confirm consumes a confirmation token. Only the most recently issued
// token is accepted, once.
func (u *Users) Confirm(ctx context.Context, confirmationToken string) (err error) {
	e := u.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	claims, err := e.verify(ctx, "confirm", confirmationToken, token.PurposeConfirmation)
	if err != nil {
		return err
	}
	_, _, err = eventstore.Execute(ctx, e.repo, claims.UserID, user.New,
		func(s *user.State, _ eventstore.Stream) ([]eventstore.Event, error) {
			return user.Confirm(s, claims.TokenID, e.now())
		})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return tokenError(confirmationToken)
		}
		return e.translate("confirm", err, subject{kind: KindUser, id: claims.UserID, ref: tokenRef(confirmationToken)})
	}
	e.metrics.Inc(MetricConfirmed)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionConfirmed, UserID: claims.UserID, Success: true})
	return nil
}

// GenerateTOTP stores a new pending secret. Login is unaffected until
// ActivateTOTP succeeds.
func (u *Users) GenerateTOTP(ctx context.Context) (err error) {
	e := u.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	_, secret, err := e.totp.GenerateSecret()
	if err != nil {
		return &InfrastructureError{Op: "generate totp", Err: err}
	}
	_, err = u.execSession(ctx, "generate totp", func(s *user.State, now time.Time) ([]eventstore.Event, error) {
		return user.GenerateTOTP(s, secret, now)
	})
	return err
}

// GetGeneratedTOTP reveals the pending secret once, for authenticator
// enrollment.
func (u *Users) GetGeneratedTOTP(ctx context.Context) (secret TOTPSecret, err error) {
	e := u.e
	if err := e.ready(); err != nil {
		return TOTPSecret{}, err
	}
	defer e.track(time.Now(), &err)

	var pending, account string
	_, err = u.execSession(ctx, "get generated totp", func(s *user.State, now time.Time) ([]eventstore.Event, error) {
		pending, account = s.TOTP.Pending, s.Email
		return user.RetrieveTOTP(s, now)
	})
	if err != nil {
		return TOTPSecret{}, err
	}
	return TOTPSecret{Base32: pending, URI: e.totp.ProvisionURI(pending, account)}, nil
}

// ActivateTOTP promotes the pending secret after code proves possession.
func (u *Users) ActivateTOTP(ctx context.Context, code string) (err error) {
	e := u.e
	if err := e.ready(); err != nil {
		return err
	}
	defer e.track(time.Now(), &err)

	claims, _, st, err := u.session(ctx, "activate totp")
	if err != nil {
		return err
	}
	if err := e.checkRate(ctx, rate.KindTOTP, claims.UserID); err != nil {
		return err
	}
	pending := st.TOTP.Pending
	if pending == "" {
		return &AuthenticationError{Code: CodeUnvalidRequest, Ref: claims.UserID}
	}
	ok, counter, err := e.totp.VerifyCode(pending, code, e.now())
	if err != nil {
		return &InfrastructureError{Op: "activate totp", Err: err}
	}
	if !ok {
		e.metrics.Inc(MetricTOTPFailure)
		e.recordFailure(ctx, rate.KindTOTP, claims.UserID)
		return &AuthenticationError{Code: CodeUnvalidRequest, Ref: claims.UserID}
	}

	_, err = u.execSession(ctx, "activate totp", func(s *user.State, now time.Time) ([]eventstore.Event, error) {
		if s.TOTP.Pending != pending {
			return nil, domain.ErrInvalidRequest
		}
		return user.ActivateTOTP(s, counter, now)
	})
	if err != nil {
		return err
	}
	e.resetRate(ctx, rate.KindTOTP, claims.UserID)
	e.metrics.Inc(MetricTOTPSuccess)
	e.emitAudit(ctx, AuditEvent{Action: audit.ActionTOTPActivated, UserID: claims.UserID, Success: true})
	return nil
}

// byEmail resolves an address through the email index.
func (u *Users) byEmail(ctx context.Context, addr string) (*user.State, error) {
	e := u.e
	idx, _, err := eventstore.Load(ctx, e.repo, addr, email.New)
	if err != nil {
		if errors.Is(err, eventstore.ErrNotFound) {
			return nil, &NotFoundError{Kind: KindUser, ID: addr}
		}
		return nil, e.translate("resolve email", err, subject{kind: KindUser, id: addr})
	}
	uid, ok := idx.Owner()
	if !ok {
		return nil, &NotFoundError{Kind: KindUser, ID: addr}
	}
	st, _, err := eventstore.Load(ctx, e.repo, uid, user.New)
	if err != nil {
		return nil, e.translate("resolve email", err, subject{kind: KindUser, id: uid})
	}
	return st, nil
}

func userInfo(s *user.State) *token.UserInfo {
	info := &token.UserInfo{
		UID:       s.UID,
		CreatedAt: s.CreatedAt.UnixMilli(),
		Email:     s.Email,
		Locale:    s.Locale,
	}
	if s.Confirmed {
		info.ConfirmedAt = s.ConfirmedAt.UnixMilli()
	}
	return info
}

func userView(s *user.State) UserView {
	v := UserView{
		UID:         s.UID,
		Email:       s.Email,
		Locale:      s.Locale,
		CreatedAt:   s.CreatedAt,
		Confirmed:   s.Confirmed,
		TOTPActive:  s.TOTPActive(),
		Groups:      make(map[string]MembershipView, len(s.Groups)),
		Invitations: make(map[string]InvitationView, len(s.Invitations)),
	}
	if s.Confirmed {
		at := s.ConfirmedAt
		v.ConfirmedAt = &at
	}
	for gid, m := range s.Groups {
		v.Groups[gid] = MembershipView{GroupID: m.GroupID, Label: m.Label, Role: m.Role}
	}
	for gid, inv := range s.Invitations {
		v.Invitations[gid] = InvitationView{
			Label:           inv.Label,
			InvitationToken: inv.Token,
			InvitedBy:       inv.InvitedBy,
			InvitedAt:       inv.InvitedAt,
		}
	}
	return v
}
