package jwt

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"

	"github.com/MrEthical07/goIdentity/token"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newEdManager(t *testing.T, mutate func(*Config)) (*Manager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv := newEdKeys(t)
	cfg := Config{
		DefaultTTL:    time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, priv
}

func TestSignVerifyRoundTrip(t *testing.T) {
	m, _ := newEdManager(t, nil)
	ctx := context.Background()

	raw, err := m.Sign(ctx, token.PurposeUser, token.Claims{
		UserID:    "u1",
		SessionID: "s1",
		User:      &token.UserInfo{UID: "u1", Email: "a@example.com", Locale: "en", CreatedAt: 42},
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := token.Expect(ctx, m, raw, token.PurposeUser)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.UserID != "u1" || got.SessionID != "s1" || got.TokenID == "" {
		t.Fatalf("unexpected claims: %+v", got)
	}
	if got.User == nil || got.User.Email != "a@example.com" || got.User.CreatedAt != 42 {
		t.Fatalf("user info not carried: %+v", got.User)
	}
}

func TestVerifyRejectsWrongPurpose(t *testing.T) {
	m, _ := newEdManager(t, nil)
	ctx := context.Background()

	raw, err := m.Sign(ctx, token.PurposeAuth, token.Claims{UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := token.Expect(ctx, m, raw, token.PurposeUser); !errors.Is(err, token.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for wrong purpose, got %v", err)
	}
}

func TestPurposeTTLApplied(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m, _ := newEdManager(t, func(c *Config) {
		c.Now = func() time.Time { return now }
		c.TTLs = map[token.Purpose]time.Duration{token.PurposeMFA: 5 * time.Minute}
	})
	ctx := context.Background()

	raw, err := m.Sign(ctx, token.PurposeMFA, token.Claims{UserID: "u1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := m.Verify(ctx, raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !got.ExpiresAt.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("expected purpose ttl, got expiry %v", got.ExpiresAt)
	}
	if m.TTL(token.PurposeAccess) != time.Minute {
		t.Fatalf("expected default ttl for unmapped purpose")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m, _ := newEdManager(t, func(c *Config) {
		c.Now = func() time.Time { return now }
	})
	ctx := context.Background()

	raw, err := m.Sign(ctx, token.PurposeAccess, token.Claims{UserID: "u1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := m.Verify(ctx, raw); !errors.Is(err, token.ErrInvalid) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestExplicitTokenIDAndExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m, _ := newEdManager(t, func(c *Config) {
		c.Now = func() time.Time { return now }
	})
	ctx := context.Background()

	raw, err := m.Sign(ctx, token.PurposeInvitation, token.Claims{
		TokenID:   "jti-1",
		GroupID:   "g1",
		Email:     "b@example.com",
		ExpiresAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := m.Verify(ctx, raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.TokenID != "jti-1" || got.GroupID != "g1" || got.Email != "b@example.com" {
		t.Fatalf("unexpected claims: %+v", got)
	}
	if !got.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected explicit expiry, got %v", got.ExpiresAt)
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	m, _ := newEdManager(t, nil)

	wire := claims{Type: string(token.PurposeAccess), RegisteredClaims: gjwt.RegisteredClaims{
		ID:        "x",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, wire)
	raw, err := tok.SignedString([]byte("secret-secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.Verify(context.Background(), raw); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestVerifyIssuerAndAudience(t *testing.T) {
	m, priv := newEdManager(t, func(c *Config) {
		c.Issuer = "identity"
		c.Audience = "api"
		c.Leeway = 30 * time.Second
	})
	ctx := context.Background()

	raw, err := m.Sign(ctx, token.PurposeAccess, token.Claims{UserID: "u"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(ctx, raw); err != nil {
		t.Fatalf("expected valid token to verify: %v", err)
	}

	forge := func(issuer, audience string) string {
		wire := claims{Type: string(token.PurposeAccess), RegisteredClaims: gjwt.RegisteredClaims{
			ID:        "x",
			Issuer:    issuer,
			Audience:  gjwt.ClaimStrings{audience},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
		}}
		out, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, wire).SignedString(priv)
		if err != nil {
			t.Fatalf("sign forged: %v", err)
		}
		return out
	}
	if _, err := m.Verify(ctx, forge("other", "api")); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}
	if _, err := m.Verify(ctx, forge("identity", "other-api")); err == nil {
		t.Fatal("expected wrong audience to fail")
	}
}

func TestVerifyRejectsMissingType(t *testing.T) {
	m, priv := newEdManager(t, nil)
	wire := claims{RegisteredClaims: gjwt.RegisteredClaims{
		ID:        "x",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	raw, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, wire).SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(context.Background(), raw); !errors.Is(err, token.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestKeyRotationByKid(t *testing.T) {
	oldPub, oldPriv := newEdKeys(t)
	newPub, newPriv := newEdKeys(t)
	ctx := context.Background()

	oldMgr, err := NewManager(Config{
		DefaultTTL: time.Minute, SigningMethod: MethodEd25519,
		PrivateKey: oldPriv, KeyID: "k1",
		VerifyKeys: map[string][]byte{"k1": oldPub},
	})
	if err != nil {
		t.Fatalf("old manager: %v", err)
	}
	raw, err := oldMgr.Sign(ctx, token.PurposeAccess, token.Claims{UserID: "u"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rotated, err := NewManager(Config{
		DefaultTTL: time.Minute, SigningMethod: MethodEd25519,
		PrivateKey: newPriv, KeyID: "k2",
		VerifyKeys: map[string][]byte{"k1": oldPub, "k2": newPub},
	})
	if err != nil {
		t.Fatalf("rotated manager: %v", err)
	}
	if _, err := rotated.Verify(ctx, raw); err != nil {
		t.Fatalf("expected old kid to verify after rotation: %v", err)
	}

	dropped, err := NewManager(Config{
		DefaultTTL: time.Minute, SigningMethod: MethodEd25519,
		PrivateKey: newPriv, KeyID: "k2",
		VerifyKeys: map[string][]byte{"k2": newPub},
	})
	if err != nil {
		t.Fatalf("dropped manager: %v", err)
	}
	if _, err := dropped.Verify(ctx, raw); err == nil {
		t.Fatal("expected retired kid to fail")
	}
}

func TestHS256(t *testing.T) {
	m, err := NewManager(Config{
		DefaultTTL:    time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	raw, err := m.Sign(context.Background(), token.PurposeACL, token.Claims{UserID: "u", GroupID: "g", Role: "admin"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := m.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Role != "admin" || got.GroupID != "g" {
		t.Fatalf("unexpected claims: %+v", got)
	}
}

func TestNewManagerValidation(t *testing.T) {
	pub, _ := newEdKeys(t)
	cases := map[string]Config{
		"zero ttl":       {SigningMethod: MethodEd25519, PublicKey: pub},
		"short hmac key": {DefaultTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		"unknown method": {DefaultTTL: time.Minute, SigningMethod: "rs256"},
		"no ed keys":     {DefaultTTL: time.Minute, SigningMethod: MethodEd25519},
		"huge leeway":    {DefaultTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub, Leeway: time.Hour},
		"bad purpose ttl": {DefaultTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub,
			TTLs: map[token.Purpose]time.Duration{"bogus": time.Minute}},
		"kid not in verify keys": {DefaultTTL: time.Minute, SigningMethod: MethodEd25519, KeyID: "k9",
			VerifyKeys: map[string][]byte{"k1": pub}},
	}
	for name, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSignWithoutPrivateKeyFails(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{DefaultTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Sign(context.Background(), token.PurposeAuth, token.Claims{UserID: "u"}); err == nil {
		t.Fatal("expected verify-only manager to refuse signing")
	}
}
