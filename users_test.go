package goIdentity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/eventstore/memstore"
	"github.com/MrEthical07/goIdentity/internal/domain/email"
	"github.com/MrEthical07/goIdentity/internal/domain/user"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/token"
)

func TestRegisterTwiceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "u1", "u1@example.com")

	_, err := f.e.Users.RegisterPWA(ctx, RegisterInput{UserID: "u1", Email: "other@example.com", Password: testPassword})
	if !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("same id: expected ErrUserAlreadyExists, got %v", err)
	}
	_, err = f.e.Users.RegisterPWA(ctx, RegisterInput{UserID: "u2", Email: " U1@Example.com", Password: testPassword})
	if !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("same email: expected ErrUserAlreadyExists, got %v", err)
	}
	var exists *AlreadyExistsError
	if !errors.As(err, &exists) || exists.Email != "u1@example.com" {
		t.Fatalf("expected colliding email on error, got %#v", err)
	}

	page, err := f.e.repo.QueryLog(ctx, user.AggregateType, "u1", eventstore.LogQuery{})
	if err != nil {
		t.Fatalf("QueryLog failed: %v", err)
	}
	if page.Count != 1 {
		t.Fatalf("expected exactly one event for u1, got %d", page.Count)
	}
	if _, _, err := eventstore.Load(ctx, f.e.repo, "u2", user.New); !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("u2 must not exist, got %v", err)
	}

	// The rejected attempt must not have claimed the other address.
	f.register(t, "u3", "other@example.com")
	if got := f.e.MetricsSnapshot().Counters[MetricRegisterDuplicate]; got != 2 {
		t.Fatalf("duplicate counter = %d, want 2", got)
	}
}

// holdFirstUserWrite parks the first user stream append until release is
// closed, letting a second registration commit in between.
type holdFirstUserWrite struct {
	eventstore.Backend
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func (b *holdFirstUserWrite) PutEvents(ctx context.Context, aggregateType, aggregateID string, expectedVersion uint64, records []eventstore.Record) error {
	if aggregateType == user.AggregateType {
		first := false
		b.once.Do(func() { first = true })
		if first {
			close(b.reached)
			<-b.release
		}
	}
	return b.Backend.PutEvents(ctx, aggregateType, aggregateID, expectedVersion, records)
}

func TestConcurrentSameUserRegistrationKeepsEmailClaim(t *testing.T) {
	gate := &holdFirstUserWrite{
		Backend: memstore.New(),
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixture(t, func(_ *Config, b *Builder) { b.WithBackend(gate) })
	ctx := context.Background()
	in := RegisterInput{UserID: "u1", Email: "u1@example.com", Password: testPassword}

	first := make(chan error, 1)
	go func() {
		_, err := f.e.Users.RegisterPWA(ctx, in)
		first <- err
	}()
	<-gate.reached

	if _, err := f.e.Users.RegisterPWA(ctx, in); err != nil {
		t.Fatalf("second registration failed: %v", err)
	}
	close(gate.release)
	if err := <-first; !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("first registration: expected ErrUserAlreadyExists, got %v", err)
	}

	idx, _, err := eventstore.Load(ctx, f.e.repo, "u1@example.com", email.New)
	if err != nil {
		t.Fatalf("load email index failed: %v", err)
	}
	if owner, ok := idx.Owner(); !ok || owner != "u1" {
		t.Fatalf("email owner = %q (%v), want u1", owner, ok)
	}
	_, err = f.e.Users.RegisterPWA(ctx, RegisterInput{UserID: "u2", Email: "u1@example.com", Password: testPassword})
	if !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("u2 with u1's email: expected ErrUserAlreadyExists, got %v", err)
	}
	if got := f.e.MetricsSnapshot().Counters[MetricProjectionFailure]; got != 0 {
		t.Fatalf("projection failures = %d, want 0", got)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	f := newFixture(t)
	_, err := f.e.Users.RegisterPWA(context.Background(), RegisterInput{UserID: "u1", Email: "u1@example.com", Password: "short"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	_, err = f.e.Users.RegisterPWA(context.Background(), RegisterInput{UserID: "u1", Email: "not-an-email", Password: testPassword})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad email, got %v", err)
	}
}

func TestPasswordLoginAndConfirmation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "u1@example.com")

	res, err := f.e.Users.LogInPWA(context.Background(), "s1", "u1@example.com", testPassword)
	if err != nil {
		t.Fatalf("LogInPWA failed: %v", err)
	}
	if res.AuthToken == "" || res.SessionID != "s1" || res.Locale != "en-US" || res.MFARequired() {
		t.Fatalf("unexpected login result %+v", res)
	}
	ctx := WithAuthToken(context.Background(), res.AuthToken)

	userTok, err := f.e.Users.VerifyAuthToken(ctx)
	if err != nil {
		t.Fatalf("VerifyAuthToken failed: %v", err)
	}
	claims := f.claims(t, userTok, token.PurposeUser)
	if claims.User == nil || claims.User.UID != "u1" || claims.User.Email != "u1@example.com" {
		t.Fatalf("unexpected user claims %+v", claims.User)
	}
	if claims.User.ConfirmedAt != 0 {
		t.Fatalf("confirmedAt must be absent before confirm, got %d", claims.User.ConfirmedAt)
	}

	if err := f.e.Users.RequestConfirmation(ctx); err != nil {
		t.Fatalf("RequestConfirmation failed: %v", err)
	}
	requested := f.published(user.EventConfirmationRequested)
	if len(requested) != 1 {
		t.Fatalf("expected one confirmation event, got %d", len(requested))
	}
	confirmation := requested[0].Payload.(*user.ConfirmationRequested).ConfirmationToken

	f.clock.Advance(time.Minute)
	if err := f.e.Users.Confirm(context.Background(), confirmation); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if err := f.e.Users.Confirm(context.Background(), confirmation); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("second Confirm: expected ErrUnvalidToken, got %v", err)
	}

	userTok, err = f.e.Users.VerifyAuthToken(ctx)
	if err != nil {
		t.Fatalf("VerifyAuthToken after confirm failed: %v", err)
	}
	claims = f.claims(t, userTok, token.PurposeUser)
	if claims.User.ConfirmedAt != f.clock.Now().UnixMilli() {
		t.Fatalf("confirmedAt = %d, want %d", claims.User.ConfirmedAt, f.clock.Now().UnixMilli())
	}

	view, err := f.e.Users.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !view.Confirmed || view.ConfirmedAt == nil || view.UID != "u1" {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestSupersededConfirmationTokenIsRejected(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "u1@example.com")
	ctx := f.login(t, "s1", "u1@example.com")

	for i := 0; i < 2; i++ {
		if err := f.e.Users.RequestConfirmation(ctx); err != nil {
			t.Fatalf("RequestConfirmation failed: %v", err)
		}
	}
	requested := f.published(user.EventConfirmationRequested)
	first := requested[0].Payload.(*user.ConfirmationRequested).ConfirmationToken
	second := requested[1].Payload.(*user.ConfirmationRequested).ConfirmationToken

	if err := f.e.Users.Confirm(context.Background(), first); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("superseded token: expected ErrUnvalidToken, got %v", err)
	}
	if err := f.e.Users.Confirm(context.Background(), second); err != nil {
		t.Fatalf("Confirm with latest token failed: %v", err)
	}
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "u1@example.com")

	cases := []struct {
		name, addr, password string
	}{
		{"wrong password", "u1@example.com", "wrong password!"},
		{"unknown email", "nobody@example.com", testPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.e.Users.LogInPWA(context.Background(), "s1", tc.addr, tc.password)
			if !errors.Is(err, ErrUnvalidRequest) {
				t.Fatalf("expected ErrUnvalidRequest, got %v", err)
			}
		})
	}

	if _, err := f.e.Users.LogInPWA(context.Background(), "s1", "u1@example.com", testPassword); err != nil {
		t.Fatalf("LogInPWA failed: %v", err)
	}
	if _, err := f.e.Users.LogInPWA(context.Background(), "s1", "u1@example.com", testPassword); !errors.Is(err, ErrUnvalidRequest) {
		t.Fatalf("reused live session id: expected ErrUnvalidRequest, got %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "u1@example.com")
	s1 := f.login(t, "s1", "u1@example.com")
	s2 := f.login(t, "s2", "u1@example.com")

	if err := f.e.Users.LogOut(s1); err != nil {
		t.Fatalf("LogOut failed: %v", err)
	}
	if _, err := f.e.Users.VerifyAuthToken(s1); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("logged out session: expected ErrUnvalidToken, got %v", err)
	}
	if _, err := f.e.Users.VerifyAuthToken(s2); err != nil {
		t.Fatalf("second session must stay valid: %v", err)
	}
	if err := f.e.Users.LogOut(s1); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("double LogOut: expected ErrUnvalidToken, got %v", err)
	}

	if err := f.e.Users.ChangePassword(s1, "another long password"); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("ChangePassword on closed session: expected ErrUnvalidToken, got %v", err)
	}
	if err := f.e.Users.ChangePassword(s2, "another long password"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := f.e.Users.LogInPWA(context.Background(), "s3", "u1@example.com", testPassword); !errors.Is(err, ErrUnvalidRequest) {
		t.Fatalf("old password: expected ErrUnvalidRequest, got %v", err)
	}
	if _, err := f.e.Users.LogInPWA(context.Background(), "s3", "u1@example.com", "another long password"); err != nil {
		t.Fatalf("new password login failed: %v", err)
	}
}

func TestForgedAndMisusedTokens(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u1", "u1@example.com")
	ctx := f.login(t, "s1", "u1@example.com")
	auth := authTokenFromContext(ctx)

	if _, err := f.e.Users.VerifyAuthToken(WithAuthToken(context.Background(), auth+"x")); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("tampered token: expected ErrUnvalidToken, got %v", err)
	}
	if _, err := f.e.Users.VerifyAuthToken(context.Background()); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("missing token: expected ErrUnvalidToken, got %v", err)
	}
	userTok, err := f.e.Users.VerifyAuthToken(ctx)
	if err != nil {
		t.Fatalf("VerifyAuthToken failed: %v", err)
	}
	if _, err := f.e.Users.VerifyAuthToken(WithAuthToken(context.Background(), userTok)); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("userToken as authToken: expected ErrUnvalidToken, got %v", err)
	}

	f.clock.Advance(f.e.Config().Tokens.AuthTTL + time.Second)
	_, err = f.e.Users.VerifyAuthToken(ctx)
	if !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("expired token: expected ErrUnvalidToken, got %v", err)
	}
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) || authErr.Ref == "" || authErr.Ref == auth {
		t.Fatalf("error must carry a fingerprint, not the token: %#v", err)
	}
}

func TestTOTPEnrollmentAndLogin(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u2", "u2@example.com")
	ctx := f.login(t, "s1", "u2@example.com")

	if err := f.e.Users.GenerateTOTP(ctx); err != nil {
		t.Fatalf("GenerateTOTP failed: %v", err)
	}
	secret, err := f.e.Users.GetGeneratedTOTP(ctx)
	if err != nil {
		t.Fatalf("GetGeneratedTOTP failed: %v", err)
	}
	if secret.Base32 == "" || secret.URI == "" {
		t.Fatalf("unexpected secret %+v", secret)
	}
	if _, err := f.e.Users.GetGeneratedTOTP(ctx); !errors.Is(err, ErrUnvalidRequest) {
		t.Fatalf("second reveal: expected ErrUnvalidRequest, got %v", err)
	}

	// Pending secrets do not affect login.
	res, err := f.e.Users.LogInPWA(context.Background(), "s2", "u2@example.com", testPassword)
	if err != nil || res.MFARequired() {
		t.Fatalf("pending TOTP must not challenge login: %+v, %v", res, err)
	}

	if err := f.e.Users.ActivateTOTP(ctx, "000000x"); !errors.Is(err, ErrUnvalidRequest) {
		t.Fatalf("malformed code: expected ErrUnvalidRequest, got %v", err)
	}
	code, err := f.e.totp.codeAt(secret.Base32, f.clock.Now())
	if err != nil {
		t.Fatalf("codeAt failed: %v", err)
	}
	if err := f.e.Users.ActivateTOTP(ctx, code); err != nil {
		t.Fatalf("ActivateTOTP failed: %v", err)
	}

	// The activation code's window is spent; move to the next one.
	f.clock.Advance(30 * time.Second)

	challenge, err := f.e.Users.LogInPWA(context.Background(), "s3", "u2@example.com", testPassword)
	if err != nil {
		t.Fatalf("LogInPWA failed: %v", err)
	}
	if !challenge.MFARequired() || challenge.TypeMFA != MFATypeTOTP || challenge.Locale != "en-US" || challenge.AuthToken != "" {
		t.Fatalf("expected TOTP challenge, got %+v", challenge)
	}

	if _, err := f.e.Users.LogInTOTP(context.Background(), challenge.MFAToken, "123"); !errors.Is(err, ErrUnvalidRequest) {
		t.Fatalf("bad code: expected ErrUnvalidRequest, got %v", err)
	}
	code, err = f.e.totp.codeAt(secret.Base32, f.clock.Now())
	if err != nil {
		t.Fatalf("codeAt failed: %v", err)
	}
	session, err := f.e.Users.LogInTOTP(context.Background(), challenge.MFAToken, code)
	if err != nil {
		t.Fatalf("LogInTOTP failed: %v", err)
	}
	if session.AuthToken == "" || session.SessionID != "s3" || session.Locale != "en-US" {
		t.Fatalf("unexpected session %+v", session)
	}
	if _, err := f.e.Users.VerifyAuthToken(WithAuthToken(context.Background(), session.AuthToken)); err != nil {
		t.Fatalf("TOTP session does not verify: %v", err)
	}

	again, err := f.e.Users.LogInPWA(context.Background(), "s4", "u2@example.com", testPassword)
	if err != nil {
		t.Fatalf("LogInPWA failed: %v", err)
	}
	if _, err := f.e.Users.LogInTOTP(context.Background(), again.MFAToken, code); !errors.Is(err, ErrUnvalidRequest) {
		t.Fatalf("replayed code: expected ErrUnvalidRequest, got %v", err)
	}
	if got := f.e.MetricsSnapshot().Counters[MetricTOTPReplay]; got == 0 {
		t.Fatal("replay not counted")
	}
	if _, err := f.e.Users.LogInTOTP(context.Background(), session.AuthToken, code); !errors.Is(err, ErrUnvalidToken) {
		t.Fatalf("authToken as mfaToken: expected ErrUnvalidToken, got %v", err)
	}
}

func TestActivationCodeIsSpentForLogin(t *testing.T) {
	f := newFixture(t)
	f.register(t, "u3", "u3@example.com")
	ctx := f.login(t, "s1", "u3@example.com")
	if err := f.e.Users.GenerateTOTP(ctx); err != nil {
		t.Fatalf("GenerateTOTP failed: %v", err)
	}
	secret, err := f.e.Users.GetGeneratedTOTP(ctx)
	if err != nil {
		t.Fatalf("GetGeneratedTOTP failed: %v", err)
	}
	code, err := f.e.totp.codeAt(secret.Base32, f.clock.Now())
	if err != nil {
		t.Fatalf("codeAt failed: %v", err)
	}
	if err := f.e.Users.ActivateTOTP(ctx, code); err != nil {
		t.Fatalf("ActivateTOTP failed: %v", err)
	}
	if st := f.userState(t, "u3"); st.TOTP.LastCounter == 0 {
		t.Fatal("activation did not record its counter")
	}

	challenge, err := f.e.Users.LogInPWA(context.Background(), "s2", "u3@example.com", testPassword)
	if err != nil || !challenge.MFARequired() {
		t.Fatalf("expected TOTP challenge, got %+v, %v", challenge, err)
	}
	if _, err := f.e.Users.LogInTOTP(context.Background(), challenge.MFAToken, code); !errors.Is(err, ErrUnvalidRequest) {
		t.Fatalf("activation code reused: expected ErrUnvalidRequest, got %v", err)
	}
	if got := f.e.MetricsSnapshot().Counters[MetricTOTPReplay]; got != 1 {
		t.Fatalf("MetricTOTPReplay = %d, want 1", got)
	}
	if st := f.userState(t, "u3"); len(st.Sessions) != 1 {
		t.Fatalf("sessions = %d, want only the password session", len(st.Sessions))
	}

	f.clock.Advance(30 * time.Second)
	next, err := f.e.totp.codeAt(secret.Base32, f.clock.Now())
	if err != nil {
		t.Fatalf("codeAt failed: %v", err)
	}
	if _, err := f.e.Users.LogInTOTP(context.Background(), challenge.MFAToken, next); err != nil {
		t.Fatalf("LogInTOTP with the next code failed: %v", err)
	}
}

func TestPasswordRateLimit(t *testing.T) {
	f := newFixture(t, withRedis(t))
	f.register(t, "u1", "u1@example.com")

	for i := 0; i < 2; i++ {
		if _, err := f.e.Users.LogInPWA(context.Background(), "s1", "u1@example.com", "wrong password!"); !errors.Is(err, ErrUnvalidRequest) {
			t.Fatalf("attempt %d: expected ErrUnvalidRequest, got %v", i, err)
		}
	}
	if _, err := f.e.Users.LogInPWA(context.Background(), "s1", "u1@example.com", testPassword); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestInvitationsReachLateRegistrants(t *testing.T) {
	f := newFixture(t)
	admin := f.userCtx(t, "admin", "admin@example.com")
	if err := f.e.Groups.Create(admin, "g1", "Group One"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := f.e.Groups.InviteUser(admin, "g1", "late@example.com"); err != nil {
		t.Fatalf("InviteUser failed: %v", err)
	}

	late := f.userCtx(t, "late", "late@example.com")
	view, err := f.e.Users.Get(late)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	inv, ok := view.Invitations["g1"]
	if !ok || inv.Label != "Group One" || inv.InvitedBy != "admin@example.com" || inv.InvitationToken == "" {
		t.Fatalf("unexpected invitations %+v", view.Invitations)
	}
	if err := f.e.Groups.Join(late, inv.InvitationToken); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	view, err = f.e.Users.Get(late)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, still := view.Invitations["g1"]; still {
		t.Fatal("consumed invitation still listed")
	}
	if m := view.Groups["g1"]; m.Role != "member" || m.Label != "Group One" {
		t.Fatalf("unexpected membership %+v", view.Groups)
	}
}

// switchableHasher lets a test raise argon2 costs between calls.
type switchableHasher struct {
	cur atomic.Pointer[password.Argon2]
}

func (h *switchableHasher) Hash(plain string) (string, error) { return h.cur.Load().Hash(plain) }

func (h *switchableHasher) Verify(plain, encoded string) (bool, error) {
	return h.cur.Load().Verify(plain, encoded)
}

func (h *switchableHasher) NeedsUpgrade(encoded string) (bool, error) {
	return h.cur.Load().NeedsUpgrade(encoded)
}

func argon2WithTime(t *testing.T, cost uint32) *password.Argon2 {
	t.Helper()
	h, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        cost,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return h
}

func TestLoginRehashesOutdatedPassword(t *testing.T) {
	hasher := &switchableHasher{}
	hasher.cur.Store(argon2WithTime(t, 1))
	f := newFixture(t, func(_ *Config, b *Builder) { b.WithPasswordHasher(hasher) })
	f.register(t, "u1", "u1@example.com")
	before := f.userState(t, "u1").PasswordHash

	stronger := argon2WithTime(t, 2)
	hasher.cur.Store(stronger)
	f.login(t, "s1", "u1@example.com")

	after := f.userState(t, "u1").PasswordHash
	if after == before {
		t.Fatal("expected the stored hash to be replaced on login")
	}
	if stale, err := stronger.NeedsUpgrade(after); err != nil || stale {
		t.Fatalf("rehashed password still outdated: stale=%v err=%v", stale, err)
	}
	if got := len(f.published(user.EventPasswordChanged)); got != 1 {
		t.Fatalf("PasswordChanged events = %d, want 1", got)
	}

	// Up to date now: a second login neither fails nor rehashes.
	f.login(t, "s2", "u1@example.com")
	if got := len(f.published(user.EventPasswordChanged)); got != 1 {
		t.Fatalf("PasswordChanged events after second login = %d, want 1", got)
	}
}

func TestRehashSkipsConcurrentPasswordChange(t *testing.T) {
	st := user.New()
	if err := st.Apply(eventstore.NewEvent(user.EventRegistered, &user.Registered{
		UserID: "u1", Email: "u1@example.com", PasswordHash: "new-hash",
	})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	events, err := user.RehashPassword(st, "old-hash", "rehashed", time.Now())
	if err != nil || len(events) != 0 {
		t.Fatalf("rehash over a changed password: events=%d err=%v", len(events), err)
	}
}

func TestPasswordLengthBounds(t *testing.T) {
	f := newFixture(t, func(cfg *Config, _ *Builder) { cfg.Password.MaxPasswordBytes = 32 })
	ctx := context.Background()
	long := strings.Repeat("p", 33)

	_, err := f.e.Users.RegisterPWA(ctx, RegisterInput{UserID: "u1", Email: "u1@example.com", Password: long})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("register with %d bytes: expected ErrInvalidInput, got %v", len(long), err)
	}

	f.register(t, "u1", "u1@example.com")
	authCtx := f.login(t, "s1", "u1@example.com")
	if err := f.e.Users.ChangePassword(authCtx, long); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("change to %d bytes: expected ErrInvalidInput, got %v", len(long), err)
	}
	if err := f.e.Users.ChangePassword(authCtx, strings.Repeat("q", 32)); err != nil {
		t.Fatalf("change at the limit failed: %v", err)
	}

	if _, err := f.e.Users.LogInPWA(ctx, "s2", "u1@example.com", long); !errors.Is(err, ErrUnvalidRequest) {
		t.Fatalf("login with oversized password: expected ErrUnvalidRequest, got %v", err)
	}
	if _, err := f.e.Users.LogInPWA(ctx, "s3", "u1@example.com", strings.Repeat("q", 32)); err != nil {
		t.Fatalf("login with changed password failed: %v", err)
	}
}
