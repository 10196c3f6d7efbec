package rate

import "errors"

var (
	// ErrRateLimited is returned once an identifier exhausts its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis command failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
