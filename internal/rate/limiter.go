package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind selects the counter family an attempt is recorded in.
type Kind string

const (
	KindPassword    Kind = "pw"
	KindTOTP        Kind = "totp"
	KindAgentSecret Kind = "as"
)

const defaultPrefix = "idr:"

// Rule bounds failures per identifier within one window. A zero
// MaxAttempts disables the rule.
type Rule struct {
	MaxAttempts int
	Window      time.Duration
}

// Config holds rate limiter tuning parameters.
type Config struct {
	Prefix      string
	Password    Rule
	TOTP        Rule
	AgentSecret Rule
}

// Limiter counts failed credential attempts in Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *Limiter) rule(kind Kind) Rule {
	switch kind {
	case KindPassword:
		return l.config.Password
	case KindTOTP:
		return l.config.TOTP
	case KindAgentSecret:
		return l.config.AgentSecret
	default:
		return Rule{}
	}
}

// Check returns ErrRateLimited when id already used its budget. It does
// not count an attempt.
func (l *Limiter) Check(ctx context.Context, kind Kind, id string) error {
	rule := l.rule(kind)
	if rule.MaxAttempts <= 0 {
		return nil
	}
	count, err := l.Attempts(ctx, kind, id)
	if err != nil {
		return err
	}
	if count >= rule.MaxAttempts {
		return ErrRateLimited
	}
	return nil
}

// Fail records a failed attempt. It returns ErrRateLimited when the
// attempt exceeded the budget.
func (l *Limiter) Fail(ctx context.Context, kind Kind, id string) error {
	rule := l.rule(kind)
	if rule.MaxAttempts <= 0 {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.key(kind, id), rule.Window)
	if err != nil {
		return err
	}
	if count > int64(rule.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter after a successful attempt.
func (l *Limiter) Reset(ctx context.Context, kind Kind, id string) error {
	if l.rule(kind).MaxAttempts <= 0 {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(kind, id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the current counter. Missing keys return zero.
func (l *Limiter) Attempts(ctx context.Context, kind Kind, id string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(kind, id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

func (l *Limiter) key(kind Kind, id string) string {
	return l.config.Prefix + string(kind) + ":" + id
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
