package goIdentity

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/token"
)

// Config is the Engine configuration. Instances are configured during
// initialization and then treated as immutable.
type Config struct {
	Store      StoreConfig
	Tokens     TokenConfig
	TOTP       TOTPConfig
	Password   PasswordConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	RateLimit  RateLimitConfig
	Projection ProjectionConfig
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig tunes the aggregate repository.
type StoreConfig struct {
	// SnapshotThreshold is the number of events appended after the last
	// snapshot that triggers a new one.
	SnapshotThreshold uint64
	// MaxAttempts bounds the load/decide/append cycle under conflicts.
	MaxAttempts     uint
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	DefaultLogLimit int
	MaxLogLimit     int
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds the lifetime of every token purpose.
type TokenConfig struct {
	AuthTTL         time.Duration
	UserTTL         time.Duration
	MFATTL          time.Duration
	AccessTTL       time.Duration
	ACLTTL          time.Duration
	AgentTTL        time.Duration
	ConfirmationTTL time.Duration
	InvitationTTL   time.Duration
}

// TTL returns the configured lifetime for p, or zero for unknown purposes.
func (c TokenConfig) TTL(p token.Purpose) time.Duration {
	switch p {
	case token.PurposeAuth:
		return c.AuthTTL
	case token.PurposeUser:
		return c.UserTTL
	case token.PurposeMFA:
		return c.MFATTL
	case token.PurposeAccess:
		return c.AccessTTL
	case token.PurposeACL:
		return c.ACLTTL
	case token.PurposeAgent:
		return c.AgentTTL
	case token.PurposeConfirmation:
		return c.ConfirmationTTL
	case token.PurposeInvitation:
		return c.InvitationTTL
	default:
		return 0
	}
}

// PurposeTTLs returns the lifetimes keyed by purpose, in the form the jwt
// package accepts.
func (c TokenConfig) PurposeTTLs() map[token.Purpose]time.Duration {
	out := make(map[token.Purpose]time.Duration, 8)
	for _, p := range []token.Purpose{
		token.PurposeAuth, token.PurposeUser, token.PurposeMFA, token.PurposeAccess,
		token.PurposeACL, token.PurposeAgent, token.PurposeConfirmation, token.PurposeInvitation,
	} {
		out[p] = c.TTL(p)
	}
	return out
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls one-time code generation and verification.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	Skew      int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters for user passwords.
type PasswordConfig struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig throttles failed credential attempts. It needs a Redis
// client on the Builder; without one it is ignored.
type RateLimitConfig struct {
	Enabled             bool
	RedisPrefix         string
	PasswordAttempts    int
	PasswordWindow      time.Duration
	TOTPAttempts        int
	TOTPWindow          time.Duration
	AgentSecretAttempts int
	AgentSecretWindow   time.Duration
}

/*
====================================
PROJECTION CONFIG
====================================
*/

// ProjectionConfig bounds the cross-aggregate projections run after a
// Group or Agent command commits.
type ProjectionConfig struct {
	Timeout time.Duration
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Store: StoreConfig{
			SnapshotThreshold: 10,
			MaxAttempts:       5,
			InitialBackoff:    5 * time.Millisecond,
			MaxBackoff:        200 * time.Millisecond,
			DefaultLogLimit:   100,
			MaxLogLimit:       1000,
		},
		Tokens: TokenConfig{
			AuthTTL:         7 * 24 * time.Hour,
			UserTTL:         15 * time.Minute,
			MFATTL:          5 * time.Minute,
			AccessTTL:       2 * time.Minute,
			ACLTTL:          15 * time.Minute,
			AgentTTL:        15 * time.Minute,
			ConfirmationTTL: 72 * time.Hour,
			InvitationTTL:   14 * 24 * time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer:    "goIdentity",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		Password: PasswordConfig{
			Memory:           64 * 1024,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		RateLimit: RateLimitConfig{
			Enabled:             false,
			RedisPrefix:         "idr:",
			PasswordAttempts:    5,
			PasswordWindow:      15 * time.Minute,
			TOTPAttempts:        5,
			TOTPWindow:          5 * time.Minute,
			AgentSecretAttempts: 20,
			AgentSecretWindow:   time.Minute,
		},
		Projection: ProjectionConfig{
			Timeout: 5 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Store
	if c.Store.SnapshotThreshold == 0 {
		return errors.New("Store SnapshotThreshold must be > 0")
	}
	if c.Store.MaxAttempts == 0 {
		return errors.New("Store MaxAttempts must be > 0")
	}
	if c.Store.InitialBackoff <= 0 || c.Store.MaxBackoff < c.Store.InitialBackoff {
		return errors.New("Store backoff must satisfy 0 < InitialBackoff <= MaxBackoff")
	}
	if c.Store.DefaultLogLimit <= 0 || c.Store.MaxLogLimit < c.Store.DefaultLogLimit {
		return errors.New("Store log limits must satisfy 0 < DefaultLogLimit <= MaxLogLimit")
	}

	// Tokens
	for p, ttl := range c.Tokens.PurposeTTLs() {
		if ttl <= 0 {
			return errors.New("Tokens TTL for " + string(p) + " must be > 0")
		}
	}

	// TOTP
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("TOTP Digits must be between 6 and 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		return errors.New("TOTP Skew must be between 0 and 3")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MaxPasswordBytes <= 0 {
		return errors.New("Password MaxPasswordBytes must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Rate limiting
	if c.RateLimit.Enabled {
		if c.RateLimit.PasswordAttempts < 0 || c.RateLimit.TOTPAttempts < 0 || c.RateLimit.AgentSecretAttempts < 0 {
			return errors.New("RateLimit attempts must be >= 0")
		}
		if (c.RateLimit.PasswordAttempts > 0 && c.RateLimit.PasswordWindow <= 0) ||
			(c.RateLimit.TOTPAttempts > 0 && c.RateLimit.TOTPWindow <= 0) ||
			(c.RateLimit.AgentSecretAttempts > 0 && c.RateLimit.AgentSecretWindow <= 0) {
			return errors.New("RateLimit windows must be > 0 for enabled rules")
		}
	}

	// Projection
	if c.Projection.Timeout <= 0 {
		return errors.New("Projection Timeout must be > 0")
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is a valid but questionable setting.
type LintWarning struct {
	Code    string
	Message string
}

type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Code
	}
	return out
}

// Lint reports settings that pass Validate but weaken the deployment.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	if c.Tokens.AccessTTL > 10*time.Minute {
		ws = append(ws, LintWarning{"access_ttl_long", "accessToken lifetime above 10m widens the replay window"})
	}
	if c.Tokens.ACLTTL > time.Hour {
		ws = append(ws, LintWarning{"acl_ttl_long", "aclToken role claims outlive membership changes for over an hour"})
	}
	if c.Tokens.MFATTL > 15*time.Minute {
		ws = append(ws, LintWarning{"mfa_ttl_long", "mfaToken lifetime above 15m"})
	}
	if !c.RateLimit.Enabled {
		ws = append(ws, LintWarning{"rate_limits_disabled", "failed credential attempts are not throttled"})
	}
	if !c.Audit.Enabled {
		ws = append(ws, LintWarning{"audit_disabled", "security events are not audited"})
	}
	if c.TOTP.Skew > 1 {
		ws = append(ws, LintWarning{"totp_skew_wide", "TOTP skew above 1 accepts codes from more than one adjacent window"})
	}
	if c.Store.SnapshotThreshold > 500 {
		ws = append(ws, LintWarning{"snapshot_threshold_high", "long replays between snapshots"})
	}
	return ws
}
