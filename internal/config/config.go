// Package config loads the identityd configuration.
//
// Values are layered in a fixed order: built-in defaults, then the YAML file
// named by --config or IDENTITY_CONFIG, then IDENTITY_* environment
// variables, then command-line flags. Later layers only override what they
// set.
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	goIdentity "github.com/MrEthical07/goIdentity"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "IDENTITY_"

// File is the on-disk and environment form of the service configuration.
type File struct {
	Listen    string `yaml:"listen" env:"LISTEN"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	Store      StoreFile      `yaml:"store" envPrefix:"STORE_"`
	Redis      RedisFile      `yaml:"redis" envPrefix:"REDIS_"`
	Encryption EncryptionFile `yaml:"encryption" envPrefix:"ENCRYPTION_"`
	Signing    SigningFile    `yaml:"signing" envPrefix:"SIGNING_"`
	Publisher  PublisherFile  `yaml:"publisher" envPrefix:"PUBLISHER_"`
	Tokens     TokensFile     `yaml:"tokens" envPrefix:"TOKENS_"`
	TOTP       TOTPFile       `yaml:"totp" envPrefix:"TOTP_"`
	Audit      AuditFile      `yaml:"audit" envPrefix:"AUDIT_"`
	Metrics    MetricsFile    `yaml:"metrics" envPrefix:"METRICS_"`
	RateLimit  RateLimitFile  `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

// StoreFile selects the event store backend.
type StoreFile struct {
	// Backend is one of memory, redis, sqlite or postgres.
	Backend           string        `yaml:"backend" env:"BACKEND"`
	DSN               string        `yaml:"dsn" env:"DSN"`
	MaxOpenConns      int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	RedisPrefix       string        `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	Compression       string        `yaml:"compression" env:"COMPRESSION"`
	SnapshotThreshold uint64        `yaml:"snapshot_threshold" env:"SNAPSHOT_THRESHOLD"`
	MaxAttempts       uint          `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialBackoff    time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	MaxBackoff        time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	ProjectionTimeout time.Duration `yaml:"projection_timeout" env:"PROJECTION_TIMEOUT"`
}

type RedisFile struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// EncryptionFile configures the payload Encryptor.
type EncryptionFile struct {
	// Provider is keyring or age.
	Provider string `yaml:"provider" env:"PROVIDER"`
	// Keys maps key ids to hex-encoded 32-byte root keys.
	Keys          map[string]string `yaml:"keys" env:"KEYS"`
	ActiveKeyID   string            `yaml:"active_key_id" env:"ACTIVE_KEY_ID"`
	AgeRecipients []string          `yaml:"age_recipients" env:"AGE_RECIPIENTS"`
	AgeIdentities []string          `yaml:"age_identities" env:"AGE_IDENTITIES"`
}

// SigningFile configures the token signer. Keys are hex encoded.
type SigningFile struct {
	Method     string `yaml:"method" env:"METHOD"`
	PrivateKey string `yaml:"private_key" env:"PRIVATE_KEY"`
	PublicKey  string `yaml:"public_key" env:"PUBLIC_KEY"`
	KeyID      string `yaml:"key_id" env:"KEY_ID"`
	Issuer     string `yaml:"issuer" env:"ISSUER"`
	Audience   string `yaml:"audience" env:"AUDIENCE"`
}

// PublisherFile selects where committed events go.
type PublisherFile struct {
	// Kind is none, slog, kafka, amqp or redis.
	Kind       string   `yaml:"kind" env:"KIND"`
	Brokers    []string `yaml:"brokers" env:"BROKERS"`
	Topic      string   `yaml:"topic" env:"TOPIC"`
	URL        string   `yaml:"url" env:"URL"`
	Exchange   string   `yaml:"exchange" env:"EXCHANGE"`
	Stream     string   `yaml:"stream" env:"STREAM"`
	MaxLen     int64    `yaml:"max_len" env:"MAX_LEN"`
	Async      bool     `yaml:"async" env:"ASYNC"`
	BufferSize int      `yaml:"buffer_size" env:"BUFFER_SIZE"`
	DropIfFull bool     `yaml:"drop_if_full" env:"DROP_IF_FULL"`
}

type TokensFile struct {
	AuthTTL         time.Duration `yaml:"auth_ttl" env:"AUTH_TTL"`
	UserTTL         time.Duration `yaml:"user_ttl" env:"USER_TTL"`
	MFATTL          time.Duration `yaml:"mfa_ttl" env:"MFA_TTL"`
	AccessTTL       time.Duration `yaml:"access_ttl" env:"ACCESS_TTL"`
	ACLTTL          time.Duration `yaml:"acl_ttl" env:"ACL_TTL"`
	AgentTTL        time.Duration `yaml:"agent_ttl" env:"AGENT_TTL"`
	ConfirmationTTL time.Duration `yaml:"confirmation_ttl" env:"CONFIRMATION_TTL"`
	InvitationTTL   time.Duration `yaml:"invitation_ttl" env:"INVITATION_TTL"`
}

type TOTPFile struct {
	Issuer string `yaml:"issuer" env:"ISSUER"`
	Skew   int    `yaml:"skew" env:"SKEW"`
}

type AuditFile struct {
	Enabled    bool   `yaml:"enabled" env:"ENABLED"`
	Sink       string `yaml:"sink" env:"SINK"` // json (stdout) or slog
	BufferSize int    `yaml:"buffer_size" env:"BUFFER_SIZE"`
	DropIfFull bool   `yaml:"drop_if_full" env:"DROP_IF_FULL"`
}

type MetricsFile struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	Latency bool `yaml:"latency" env:"LATENCY"`
}

type RateLimitFile struct {
	Enabled             bool          `yaml:"enabled" env:"ENABLED"`
	PasswordAttempts    int           `yaml:"password_attempts" env:"PASSWORD_ATTEMPTS"`
	PasswordWindow      time.Duration `yaml:"password_window" env:"PASSWORD_WINDOW"`
	TOTPAttempts        int           `yaml:"totp_attempts" env:"TOTP_ATTEMPTS"`
	TOTPWindow          time.Duration `yaml:"totp_window" env:"TOTP_WINDOW"`
	AgentSecretAttempts int           `yaml:"agent_secret_attempts" env:"AGENT_SECRET_ATTEMPTS"`
	AgentSecretWindow   time.Duration `yaml:"agent_secret_window" env:"AGENT_SECRET_WINDOW"`
}

// Default returns a development configuration: in-memory store, HS256
// signing and a slog publisher. Keys are empty and must be supplied.
func Default() File {
	d := goIdentity.DefaultConfig()
	return File{
		Listen:    ":8080",
		LogLevel:  "info",
		LogFormat: "json",
		Store: StoreFile{
			Backend:           "memory",
			RedisPrefix:       "ides:",
			Compression:       "none",
			SnapshotThreshold: d.Store.SnapshotThreshold,
			MaxAttempts:       d.Store.MaxAttempts,
			InitialBackoff:    d.Store.InitialBackoff,
			MaxBackoff:        d.Store.MaxBackoff,
			ProjectionTimeout: d.Projection.Timeout,
		},
		Redis: RedisFile{Addr: "localhost:6379"},
		Encryption: EncryptionFile{
			Provider: "keyring",
		},
		Signing: SigningFile{
			Method: "ed25519",
			Issuer: "identityd",
		},
		Publisher: PublisherFile{
			Kind:       "slog",
			Topic:      "identity-events",
			Exchange:   "identity-events",
			Stream:     "identity-events",
			MaxLen:     100000,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Tokens: TokensFile{
			AuthTTL:         d.Tokens.AuthTTL,
			UserTTL:         d.Tokens.UserTTL,
			MFATTL:          d.Tokens.MFATTL,
			AccessTTL:       d.Tokens.AccessTTL,
			ACLTTL:          d.Tokens.ACLTTL,
			AgentTTL:        d.Tokens.AgentTTL,
			ConfirmationTTL: d.Tokens.ConfirmationTTL,
			InvitationTTL:   d.Tokens.InvitationTTL,
		},
		TOTP: TOTPFile{Issuer: d.TOTP.Issuer, Skew: d.TOTP.Skew},
		Audit: AuditFile{
			Enabled:    true,
			Sink:       "json",
			BufferSize: d.Audit.BufferSize,
			DropIfFull: d.Audit.DropIfFull,
		},
		Metrics: MetricsFile{Enabled: true, Latency: true},
		RateLimit: RateLimitFile{
			PasswordAttempts:    d.RateLimit.PasswordAttempts,
			PasswordWindow:      d.RateLimit.PasswordWindow,
			TOTPAttempts:        d.RateLimit.TOTPAttempts,
			TOTPWindow:          d.RateLimit.TOTPWindow,
			AgentSecretAttempts: d.RateLimit.AgentSecretAttempts,
			AgentSecretWindow:   d.RateLimit.AgentSecretWindow,
		},
	}
}

// ReadFile decodes YAML at path over f. Unknown keys are rejected.
func ReadFile(path string, f *File) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return decodeYAML(raw, f)
}

func decodeYAML(raw []byte, f *File) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays IDENTITY_* variables onto f. A nil environ reads the
// process environment.
func ApplyEnv(f *File, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(f, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports settings that cannot produce a working service.
func (f File) Validate() error {
	switch f.Store.Backend {
	case "memory", "redis":
	case "sqlite", "postgres":
		if strings.TrimSpace(f.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for %s", f.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store.backend %q", f.Store.Backend)
	}
	switch f.Encryption.Provider {
	case "keyring":
		if len(f.Encryption.Keys) == 0 {
			return errors.New("encryption.keys is required for the keyring provider")
		}
		if _, err := f.KeyringKeys(); err != nil {
			return err
		}
	case "age":
		if len(f.Encryption.AgeRecipients) == 0 || len(f.Encryption.AgeIdentities) == 0 {
			return errors.New("encryption.age_recipients and encryption.age_identities are required for the age provider")
		}
	default:
		return fmt.Errorf("unknown encryption.provider %q", f.Encryption.Provider)
	}
	if strings.TrimSpace(f.Signing.PrivateKey) == "" {
		return errors.New("signing.private_key is required")
	}
	switch f.Publisher.Kind {
	case "", "none", "slog":
	case "kafka":
		if len(f.Publisher.Brokers) == 0 {
			return errors.New("publisher.brokers is required for kafka")
		}
	case "amqp":
		if f.Publisher.URL == "" {
			return errors.New("publisher.url is required for amqp")
		}
	case "redis":
	default:
		return fmt.Errorf("unknown publisher.kind %q", f.Publisher.Kind)
	}
	switch f.Audit.Sink {
	case "", "json", "slog":
	default:
		return fmt.Errorf("unknown audit.sink %q", f.Audit.Sink)
	}
	return nil
}

// NeedsRedis reports whether any configured component talks to Redis.
func (f File) NeedsRedis() bool {
	return f.Store.Backend == "redis" || f.Publisher.Kind == "redis" || f.RateLimit.Enabled
}

// KeyringKeys decodes the hex root keys.
func (f File) KeyringKeys() (map[string][]byte, error) {
	out := make(map[string][]byte, len(f.Encryption.Keys))
	for id, v := range f.Encryption.Keys {
		key, err := hex.DecodeString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("encryption key %q: %w", id, err)
		}
		out[id] = key
	}
	return out, nil
}

// SigningKeys decodes the hex signing keys. The public key may be empty.
func (f File) SigningKeys() (private, public []byte, err error) {
	private, err = hex.DecodeString(strings.TrimSpace(f.Signing.PrivateKey))
	if err != nil {
		return nil, nil, fmt.Errorf("signing.private_key: %w", err)
	}
	if f.Signing.PublicKey != "" {
		public, err = hex.DecodeString(strings.TrimSpace(f.Signing.PublicKey))
		if err != nil {
			return nil, nil, fmt.Errorf("signing.public_key: %w", err)
		}
	}
	return private, public, nil
}

// EngineConfig maps f onto the Engine configuration.
func (f File) EngineConfig() goIdentity.Config {
	cfg := goIdentity.DefaultConfig()

	cfg.Store.SnapshotThreshold = f.Store.SnapshotThreshold
	cfg.Store.MaxAttempts = f.Store.MaxAttempts
	cfg.Store.InitialBackoff = f.Store.InitialBackoff
	cfg.Store.MaxBackoff = f.Store.MaxBackoff
	cfg.Projection.Timeout = f.Store.ProjectionTimeout

	cfg.Tokens = goIdentity.TokenConfig{
		AuthTTL:         f.Tokens.AuthTTL,
		UserTTL:         f.Tokens.UserTTL,
		MFATTL:          f.Tokens.MFATTL,
		AccessTTL:       f.Tokens.AccessTTL,
		ACLTTL:          f.Tokens.ACLTTL,
		AgentTTL:        f.Tokens.AgentTTL,
		ConfirmationTTL: f.Tokens.ConfirmationTTL,
		InvitationTTL:   f.Tokens.InvitationTTL,
	}
	cfg.TOTP.Issuer = f.TOTP.Issuer
	cfg.TOTP.Skew = f.TOTP.Skew

	cfg.Audit = goIdentity.AuditConfig{
		Enabled:    f.Audit.Enabled,
		BufferSize: f.Audit.BufferSize,
		DropIfFull: f.Audit.DropIfFull,
	}
	cfg.Metrics = goIdentity.MetricsConfig{
		Enabled:                 f.Metrics.Enabled,
		EnableLatencyHistograms: f.Metrics.Latency,
	}

	cfg.RateLimit.Enabled = f.RateLimit.Enabled
	cfg.RateLimit.PasswordAttempts = f.RateLimit.PasswordAttempts
	cfg.RateLimit.PasswordWindow = f.RateLimit.PasswordWindow
	cfg.RateLimit.TOTPAttempts = f.RateLimit.TOTPAttempts
	cfg.RateLimit.TOTPWindow = f.RateLimit.TOTPWindow
	cfg.RateLimit.AgentSecretAttempts = f.RateLimit.AgentSecretAttempts
	cfg.RateLimit.AgentSecretWindow = f.RateLimit.AgentSecretWindow
	return cfg
}
