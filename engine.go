package goIdentity

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/token"
)

// Engine hosts the User, Group and Agent services over one aggregate
// repository. Build it with New().…Build(). Safe for concurrent use.
type Engine struct {
	config    Config
	repo      *eventstore.Repository
	signer    token.Signer
	hasher    password.Hasher
	encryptor eventstore.Encryptor
	totp      *totpManager
	limiter   *rate.Limiter
	audit     *audit.Trail
	metrics   *Metrics
	logger    *slog.Logger
	clock     func() time.Time
	closed    atomic.Bool

	Users  *Users
	Groups *Groups
	Agents *Agents
}

// Close flushes pending audit events. Calls made after Close fail with
// ErrEngineNotReady.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.audit.Close()
}

// AuditDropped returns the number of audit events dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) ready() error {
	if e == nil || e.repo == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// track times a command and counts infrastructure failures. Use as
// defer e.track(time.Now(), &err).
func (e *Engine) track(start time.Time, err *error) {
	e.metrics.Observe(MetricCommandLatency, time.Since(start))
	if err != nil && *err != nil {
		if errors.Is(*err, ErrInfrastructure) {
			e.metrics.Inc(MetricInfrastructureFailure)
			e.logger.Error("command aborted", "error", *err)
		}
		if errors.Is(*err, ErrTransient) {
			e.metrics.Inc(MetricRetriesExhausted)
		}
	}
}

/*
====================================
TOKENS
====================================
*/

// issue signs claims for purpose with the configured lifetime.
func (e *Engine) issue(ctx context.Context, op string, purpose token.Purpose, claims token.Claims) (string, error) {
	now := e.now()
	claims.Purpose = purpose
	claims.IssuedAt = now
	claims.ExpiresAt = now.Add(e.config.Tokens.TTL(purpose))
	tok, err := e.signer.Sign(ctx, purpose, claims)
	if err != nil {
		return "", &InfrastructureError{Op: op + ": sign " + string(purpose), Err: err}
	}
	return tok, nil
}

// verify checks signature, lifetime and purpose. Invalid tokens become
// UnvalidToken; signer outages become infrastructure errors.
func (e *Engine) verify(ctx context.Context, op, raw string, purpose token.Purpose) (token.Claims, error) {
	claims, err := token.Expect(ctx, e.signer, raw, purpose)
	if err != nil {
		if errors.Is(err, token.ErrInvalid) {
			return token.Claims{}, tokenError(raw)
		}
		return token.Claims{}, &InfrastructureError{Op: op + ": verify " + string(purpose), Err: err}
	}
	return claims, nil
}

// tokenDigest is what a session stores in place of its authToken.
func tokenDigest(tok string) string {
	return hex.EncodeToString(password.HashSecret([]byte(tok)))
}

/*
====================================
RATE LIMITING
====================================
*/

func (e *Engine) checkRate(ctx context.Context, kind rate.Kind, id string) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Check(ctx, kind, id); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metrics.Inc(MetricRateLimitHit)
			e.emitAudit(ctx, AuditEvent{Action: audit.ActionRateLimited, Metadata: map[string]string{"kind": string(kind)}})
			return ErrRateLimited
		}
		return &InfrastructureError{Op: "rate limit", Err: err}
	}
	return nil
}

// recordFailure counts a failed attempt. Limiter outages are logged and
// never mask the authentication error.
func (e *Engine) recordFailure(ctx context.Context, kind rate.Kind, id string) {
	if e.limiter == nil {
		return
	}
	if err := e.limiter.Fail(ctx, kind, id); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		e.logger.Warn("rate limiter unavailable", "kind", string(kind), "error", err)
	}
}

func (e *Engine) resetRate(ctx context.Context, kind rate.Kind, id string) {
	if e.limiter == nil {
		return
	}
	if err := e.limiter.Reset(ctx, kind, id); err != nil {
		e.logger.Warn("rate limiter unavailable", "kind", string(kind), "error", err)
	}
}

/*
====================================
PROJECTIONS
====================================
*/

// project runs fn after a source aggregate committed. It is detached
// from the caller's cancellation and bounded by Projection.Timeout.
// Failures are logged, counted and audited; the source commit stands.
func (e *Engine) project(ctx context.Context, name string, target string, fn func(ctx context.Context) error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Projection.Timeout)
	defer cancel()
	if err := fn(pctx); err != nil {
		e.metrics.Inc(MetricProjectionFailure)
		e.logger.Warn("projection failed", "projection", name, "target", target, "error", err)
		e.emitAudit(ctx, AuditEvent{
			Action:   audit.ActionProjectionFailure,
			Error:    err.Error(),
			Metadata: map[string]string{"projection": name, "target": target},
		})
	}
}

/*
====================================
EVENT LOG
====================================
*/

func (e *Engine) queryLog(ctx context.Context, aggregateType, aggregateID string, q LogQuery) (LogPage, error) {
	page, err := e.repo.QueryLog(ctx, aggregateType, aggregateID, eventstore.LogQuery{
		From:         q.From,
		AfterVersion: q.AfterVersion,
		Limit:        q.Limit,
	})
	if err != nil {
		return LogPage{}, err
	}
	out := LogPage{
		Events:      make([]LogEntry, len(page.Events)),
		Count:       page.Count,
		Limit:       page.Limit,
		More:        page.More,
		NextVersion: page.NextVersion,
	}
	for i, evt := range page.Events {
		out.Events[i] = LogEntry{
			Name:       evt.Name,
			Version:    evt.Version,
			OccurredAt: evt.OccurredAt,
			Payload:    evt.Payload,
		}
	}
	return out, nil
}
