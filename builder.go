package goIdentity

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goIdentity/codec"
	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/domain/agent"
	"github.com/MrEthical07/goIdentity/internal/domain/email"
	"github.com/MrEthical07/goIdentity/internal/domain/group"
	"github.com/MrEthical07/goIdentity/internal/domain/user"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/token"
)

// Builder assembles an Engine from its capabilities. A Builder is used
// once; configure it during initialization and call Build.
type Builder struct {
	config Config

	backend    eventstore.Backend
	encryptor  eventstore.Encryptor
	serializer eventstore.Serializer
	publisher  eventstore.Publisher
	signer     token.Signer
	hasher     password.Hasher

	redis     redis.UniversalClient
	auditSink AuditSink
	logger    *slog.Logger
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBackend sets the event persistence backend. Required.
func (b *Builder) WithBackend(backend eventstore.Backend) *Builder {
	b.backend = backend
	return b
}

// WithEncryptor sets the encryption provider for event payloads,
// snapshots and recoverable agent secrets. Required.
func (b *Builder) WithEncryptor(enc eventstore.Encryptor) *Builder {
	b.encryptor = enc
	return b
}

// WithSerializer overrides the canonical CBOR codec.
func (b *Builder) WithSerializer(s eventstore.Serializer) *Builder {
	b.serializer = s
	return b
}

// WithPublisher sets where committed events are broadcast. Defaults to
// discarding them.
func (b *Builder) WithPublisher(p eventstore.Publisher) *Builder {
	b.publisher = p
	return b
}

// WithSigner sets the token signing provider. Required.
func (b *Builder) WithSigner(s token.Signer) *Builder {
	b.signer = s
	return b
}

// WithPasswordHasher overrides the argon2id hasher built from
// Config.Password.
func (b *Builder) WithPasswordHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithRedis enables failed-attempt throttling when Config.RateLimit is
// enabled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for event timestamps, token lifetimes and
// TOTP windows.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrEngineBuilt
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.backend == nil {
		return nil, errors.New("backend required")
	}
	if b.encryptor == nil {
		return nil, errors.New("encryptor required")
	}
	if b.signer == nil {
		return nil, errors.New("signer required")
	}
	if cfg.RateLimit.Enabled && b.redis == nil {
		return nil, errors.New("RateLimit requires redis client")
	}

	serializer := b.serializer
	if serializer == nil {
		c, err := codec.NewCBOR()
		if err != nil {
			return nil, err
		}
		serializer = c
	}

	hasher := b.hasher
	if hasher == nil {
		h, err := password.NewArgon2(password.Config{
			Memory:           cfg.Password.Memory,
			Time:             cfg.Password.Time,
			Parallelism:      cfg.Password.Parallelism,
			SaltLength:       cfg.Password.SaltLength,
			KeyLength:        cfg.Password.KeyLength,
			MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
		})
		if err != nil {
			return nil, err
		}
		hasher = h
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	e := &Engine{
		config:    cfg,
		signer:    b.signer,
		hasher:    hasher,
		encryptor: b.encryptor,
		totp:      newTOTPManager(cfg.TOTP),
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger,
		clock:     clock,
	}

	// -------- EVENT REGISTRY --------
	registry := eventstore.NewRegistry()
	user.RegisterEvents(registry)
	group.RegisterEvents(registry)
	agent.RegisterEvents(registry)
	email.RegisterEvents(registry)

	// -------- REPOSITORY --------
	repo, err := eventstore.NewRepository(eventstore.Deps{
		Backend:    b.backend,
		Encryptor:  b.encryptor,
		Serializer: serializer,
		Publisher:  b.publisher,
		Registry:   registry,
	}, eventstore.Options{
		SnapshotThreshold: cfg.Store.SnapshotThreshold,
		MaxAttempts:       cfg.Store.MaxAttempts,
		InitialBackoff:    cfg.Store.InitialBackoff,
		MaxBackoff:        cfg.Store.MaxBackoff,
		DefaultLogLimit:   cfg.Store.DefaultLogLimit,
		MaxLogLimit:       cfg.Store.MaxLogLimit,
		Now:               clock,
		Logger:            logger,
		Hooks: eventstore.Hooks{
			OnConflict: func(string, string, int) { e.metrics.Inc(MetricConcurrencyRetry) },
			OnSnapshot: func(string, string, uint64) { e.metrics.Inc(MetricSnapshotWritten) },
			OnSnapshotFailure: func(string, string, error) {
				e.metrics.Inc(MetricSnapshotFailure)
			},
			OnPublishFailure: func(eventstore.Event, error) { e.metrics.Inc(MetricPublishFailure) },
		},
	})
	if err != nil {
		return nil, err
	}
	e.repo = repo

	// -------- RATE LIMITER --------
	if cfg.RateLimit.Enabled {
		e.limiter = rate.New(b.redis, rate.Config{
			Prefix:      cfg.RateLimit.RedisPrefix,
			Password:    rate.Rule{MaxAttempts: cfg.RateLimit.PasswordAttempts, Window: cfg.RateLimit.PasswordWindow},
			TOTP:        rate.Rule{MaxAttempts: cfg.RateLimit.TOTPAttempts, Window: cfg.RateLimit.TOTPWindow},
			AgentSecret: rate.Rule{MaxAttempts: cfg.RateLimit.AgentSecretAttempts, Window: cfg.RateLimit.AgentSecretWindow},
		})
	}

	// -------- AUDIT --------
	e.audit = audit.NewTrail(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, e.now)

	e.Users = &Users{e: e}
	e.Groups = &Groups{e: e}
	e.Agents = &Agents{e: e}

	b.built = true
	return e, nil
}
