package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/codec"
	"github.com/MrEthical07/goIdentity/encryption"
	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/eventstore/memstore"
	"github.com/MrEthical07/goIdentity/eventstore/redisstore"
	"github.com/MrEthical07/goIdentity/eventstore/sqlstore"
	"github.com/MrEthical07/goIdentity/internal/config"
	"github.com/MrEthical07/goIdentity/internal/httpapi"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/publish"
)

// components holds everything built from a config.File. close releases
// them in reverse order of construction.
type components struct {
	engine  *goIdentity.Engine
	checks  map[string]httpapi.HealthCheck
	closers []func()
}

func (c *components) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func newLogger(file config.File) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(file.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(file.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// build wires the Engine described by file. On error everything built so
// far is released.
func build(ctx context.Context, file config.File, logger *slog.Logger) (_ *components, err error) {
	c := &components{checks: map[string]httpapi.HealthCheck{}}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	var rdb redis.UniversalClient
	if file.NeedsRedis() {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{file.Redis.Addr},
			Password: file.Redis.Password,
			DB:       file.Redis.DB,
		})
		c.onClose(func() { _ = rdb.Close() })
		c.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	backend, err := openBackend(ctx, c, file, rdb)
	if err != nil {
		return nil, err
	}
	enc, err := openEncryptor(file)
	if err != nil {
		return nil, err
	}
	serializer, err := openSerializer(file)
	if err != nil {
		return nil, err
	}
	signer, err := openSigner(file)
	if err != nil {
		return nil, err
	}
	pub, err := openPublisher(c, file, rdb, logger)
	if err != nil {
		return nil, err
	}

	b := goIdentity.New().
		WithConfig(file.EngineConfig()).
		WithBackend(backend).
		WithEncryptor(enc).
		WithSerializer(serializer).
		WithSigner(signer).
		WithLogger(logger)
	if pub != nil {
		b.WithPublisher(pub)
	}
	if rdb != nil {
		b.WithRedis(rdb)
	}
	if file.Audit.Enabled {
		if file.Audit.Sink == "slog" {
			b.WithAuditSink(goIdentity.NewSlogSink(logger))
		} else {
			b.WithAuditSink(goIdentity.NewJSONWriterSink(os.Stdout))
		}
	}
	engine, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	c.engine = engine
	c.onClose(engine.Close)
	return c, nil
}

func openBackend(ctx context.Context, c *components, file config.File, rdb redis.UniversalClient) (eventstore.Backend, error) {
	switch file.Store.Backend {
	case "memory":
		return memstore.New(), nil
	case "redis":
		store := redisstore.New(rdb, file.Store.RedisPrefix)
		c.checks["store"] = func(ctx context.Context) error {
			_, err := store.Ping(ctx)
			return err
		}
		return store, nil
	case "sqlite", "postgres":
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		store, err := sqlstore.Open(openCtx, sqlstore.Config{
			Dialect:      file.Store.Backend,
			DSN:          file.Store.DSN,
			MaxOpenConns: file.Store.MaxOpenConns,
		})
		if err != nil {
			return nil, err
		}
		c.onClose(func() { _ = store.Close() })
		c.checks["store"] = store.Ping
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", file.Store.Backend)
	}
}

func openEncryptor(file config.File) (eventstore.Encryptor, error) {
	if file.Encryption.Provider == "age" {
		return encryption.NewAgeSealer(file.Encryption.AgeRecipients, file.Encryption.AgeIdentities)
	}
	keys, err := file.KeyringKeys()
	if err != nil {
		return nil, err
	}
	return encryption.NewKeyring(keys, file.Encryption.ActiveKeyID)
}

func openSerializer(file config.File) (eventstore.Serializer, error) {
	algo, err := codec.ParseCompression(file.Store.Compression)
	if err != nil {
		return nil, err
	}
	base, err := codec.NewCBOR()
	if err != nil {
		return nil, err
	}
	if algo == codec.CompressionNone {
		return base, nil
	}
	return codec.NewCompressed(base, algo)
}

func openSigner(file config.File) (*jwt.Manager, error) {
	private, public, err := file.SigningKeys()
	if err != nil {
		return nil, err
	}
	method := jwt.SigningMethod(strings.ToLower(file.Signing.Method))
	if method == jwt.MethodEd25519 && public == nil && len(private) == ed25519.PrivateKeySize {
		public = ed25519.PrivateKey(private).Public().(ed25519.PublicKey)
	}
	cfg := file.EngineConfig()
	return jwt.NewManager(jwt.Config{
		DefaultTTL:    cfg.Tokens.UserTTL,
		TTLs:          cfg.Tokens.PurposeTTLs(),
		SigningMethod: method,
		PrivateKey:    private,
		PublicKey:     public,
		KeyID:         file.Signing.KeyID,
		Issuer:        file.Signing.Issuer,
		Audience:      file.Signing.Audience,
	})
}

func openPublisher(c *components, file config.File, rdb redis.UniversalClient, logger *slog.Logger) (eventstore.Publisher, error) {
	var (
		pub eventstore.Publisher
		err error
	)
	p := file.Publisher
	switch p.Kind {
	case "", "none":
		return nil, nil
	case "slog":
		pub = publish.NewSlog(logger, slog.LevelInfo)
	case "kafka":
		k, kerr := publish.NewKafka(p.Brokers, p.Topic, publish.JSON{})
		if kerr != nil {
			return nil, kerr
		}
		c.onClose(func() { _ = k.Close() })
		pub = k
	case "amqp":
		a, aerr := publish.DialAMQP(p.URL, p.Exchange, publish.JSON{})
		if aerr != nil {
			return nil, aerr
		}
		c.onClose(func() { _ = a.Close() })
		pub = a
	case "redis":
		pub, err = publish.NewRedisStream(rdb, p.Stream, p.MaxLen, publish.JSON{})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown publisher %q", p.Kind)
	}

	if !p.Async {
		return pub, nil
	}
	d := publish.NewDispatcher(publish.DispatcherConfig{
		BufferSize: p.BufferSize,
		DropIfFull: p.DropIfFull,
		Logger:     logger,
	}, pub)
	c.onClose(d.Close)
	return d, nil
}
