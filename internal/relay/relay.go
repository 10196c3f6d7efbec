// Package relay moves identity events (audit records, committed domain
// events) off the command path. A Relay owns one bounded queue and one
// worker goroutine that hands each item to a delivery function.
package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config tunes a Relay.
type Config struct {
	BufferSize int
	// DropIfFull counts and discards items when the queue is full instead
	// of blocking the caller until space frees up or its context ends.
	DropIfFull bool
	// Timeout bounds a single delivery. Zero leaves delivery unbounded.
	Timeout time.Duration
}

// Deliver hands one item downstream.
type Deliver[T any] func(ctx context.Context, item T) error

// Relay is safe for concurrent Offer calls. A nil *Relay accepts and
// discards everything, which is how disabled audit trails are expressed.
type Relay[T any] struct {
	cfg     Config
	deliver Deliver[T]
	onError func(T, error)

	queue     chan T
	stop      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopped   atomic.Bool
	dropped   atomic.Uint64
	failed    atomic.Uint64
	delivered atomic.Uint64
}

// Option customizes a Relay.
type Option[T any] func(*Relay[T])

// OnError is called from the worker goroutine for every failed delivery.
func OnError[T any](fn func(item T, err error)) Option[T] {
	return func(r *Relay[T]) { r.onError = fn }
}

// New starts the worker. Close drains whatever is queued.
func New[T any](cfg Config, deliver Deliver[T], opts ...Option[T]) *Relay[T] {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	r := &Relay[T]{
		cfg:     cfg,
		deliver: deliver,
		queue:   make(chan T, cfg.BufferSize),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.wg.Add(1)
	go r.work()
	return r
}

func (r *Relay[T]) work() {
	defer r.wg.Done()
	for {
		select {
		case item := <-r.queue:
			r.hand(item)
		case <-r.stop:
			for {
				select {
				case item := <-r.queue:
					r.hand(item)
				default:
					return
				}
			}
		}
	}
}

func (r *Relay[T]) hand(item T) {
	ctx := context.Background()
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	if err := r.deliver(ctx, item); err != nil {
		r.failed.Add(1)
		if r.onError != nil {
			r.onError(item, err)
		}
		return
	}
	r.delivered.Add(1)
}

// Offer queues item and reports whether it was accepted. Items offered
// after Close, or rejected by a full queue in drop mode, are counted as
// dropped.
func (r *Relay[T]) Offer(ctx context.Context, item T) bool {
	if r == nil {
		return false
	}
	if r.stopped.Load() {
		r.dropped.Add(1)
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if r.cfg.DropIfFull {
		select {
		case r.queue <- item:
			return true
		default:
			r.dropped.Add(1)
			return false
		}
	}
	select {
	case r.queue <- item:
		return true
	case <-ctx.Done():
	case <-r.stop:
	}
	r.dropped.Add(1)
	return false
}

// Close stops intake and waits for queued items to be delivered. It is
// idempotent.
func (r *Relay[T]) Close() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.stop)
		r.wg.Wait()
	})
}

// Dropped counts items that never reached the queue.
func (r *Relay[T]) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Failed counts deliveries that returned an error.
func (r *Relay[T]) Failed() uint64 {
	if r == nil {
		return 0
	}
	return r.failed.Load()
}

// Delivered counts successful deliveries.
func (r *Relay[T]) Delivered() uint64 {
	if r == nil {
		return 0
	}
	return r.delivered.Load()
}
