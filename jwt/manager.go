package jwt

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MrEthical07/goIdentity/token"
)

// SigningMethod selects the JWS algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Config configures a Manager.
//
// TTLs maps purposes to lifetimes; purposes without an entry use DefaultTTL.
// With VerifyKeys set, tokens must carry a kid naming one of them, which
// allows rotating signing keys without invalidating live tokens.
type Config struct {
	DefaultTTL    time.Duration
	TTLs          map[token.Purpose]time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
	Now           func() time.Time
}

// Manager signs and verifies purpose-scoped tokens.
type Manager struct {
	config  Config
	signKey any
	method  jwt.SigningMethod
}

var _ token.Signer = (*Manager)(nil)

// claims is the wire form. Field names follow the public token format.
type claims struct {
	Type      string           `json:"type"`
	UserID    string           `json:"userId,omitempty"`
	AgentID   string           `json:"agentId,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	GroupID   string           `json:"groupId,omitempty"`
	Role      string           `json:"role,omitempty"`
	Email     string           `json:"email,omitempty"`
	Locale    string           `json:"locale,omitempty"`
	User      *token.UserInfo  `json:"user,omitempty"`
	Agent     *token.AgentInfo `json:"agent,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and parses keys up front.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.DefaultTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	for purpose, ttl := range cfg.TTLs {
		if !purpose.Valid() {
			return nil, fmt.Errorf("unknown token purpose %q", purpose)
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("invalid TTL for %s", purpose)
		}
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a key of at least 32 bytes")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			key, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = key
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return m, nil
}

// TTL returns the lifetime applied to purpose.
func (j *Manager) TTL(purpose token.Purpose) time.Duration {
	if ttl, ok := j.config.TTLs[purpose]; ok {
		return ttl
	}
	return j.config.DefaultTTL
}

// Sign mints a token for purpose. A zero ExpiresAt takes the purpose TTL
// and an empty TokenID gets a random UUID.
func (j *Manager) Sign(_ context.Context, purpose token.Purpose, c token.Claims) (string, error) {
	if !purpose.Valid() {
		return "", fmt.Errorf("unknown token purpose %q", purpose)
	}
	if j.signKey == nil {
		return "", errors.New("manager has no signing key")
	}

	now := j.config.Now()
	expires := c.ExpiresAt
	if expires.IsZero() {
		expires = now.Add(j.TTL(purpose))
	}
	jti := c.TokenID
	if jti == "" {
		jti = uuid.NewString()
	}
	subject := c.UserID
	if subject == "" {
		subject = c.AgentID
	}

	wire := claims{
		Type:      string(purpose),
		UserID:    c.UserID,
		AgentID:   c.AgentID,
		SessionID: c.SessionID,
		GroupID:   c.GroupID,
		Role:      c.Role,
		Email:     c.Email,
		Locale:    c.Locale,
		User:      c.User,
		Agent:     c.Agent,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    j.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if j.config.Audience != "" {
		wire.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	tok := jwt.NewWithClaims(j.method, wire)
	if j.config.KeyID != "" {
		tok.Header["kid"] = j.config.KeyID
	}
	return tok.SignedString(j.signKey)
}

// Verify checks signature, algorithm, expiry, issuer and audience. Every
// rejection wraps token.ErrInvalid.
func (j *Manager) Verify(_ context.Context, raw string) (token.Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(raw, &claims{}, j.keyFunc)
	if err != nil {
		return token.Claims{}, fmt.Errorf("%w: %v", token.ErrInvalid, err)
	}
	wire, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return token.Claims{}, token.ErrInvalid
	}
	purpose := token.Purpose(wire.Type)
	if !purpose.Valid() || wire.ID == "" {
		return token.Claims{}, fmt.Errorf("%w: missing type or jti", token.ErrInvalid)
	}
	if wire.IssuedAt != nil && wire.IssuedAt.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return token.Claims{}, fmt.Errorf("%w: iat too far in the future", token.ErrInvalid)
	}

	out := token.Claims{
		Purpose:   purpose,
		TokenID:   wire.ID,
		UserID:    wire.UserID,
		AgentID:   wire.AgentID,
		SessionID: wire.SessionID,
		GroupID:   wire.GroupID,
		Role:      wire.Role,
		Email:     wire.Email,
		Locale:    wire.Locale,
		User:      wire.User,
		Agent:     wire.Agent,
	}
	if wire.IssuedAt != nil {
		out.IssuedAt = wire.IssuedAt.Time
	}
	if wire.ExpiresAt != nil {
		out.ExpiresAt = wire.ExpiresAt.Time
	}
	return out, nil
}

func (j *Manager) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != j.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.verifyKey(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	if j.config.SigningMethod == MethodHS256 {
		return j.config.PrivateKey, nil
	}
	return j.verifyKey(j.config.PublicKey)
}

func (j *Manager) verifyKey(key []byte) (any, error) {
	if j.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
