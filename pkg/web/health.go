package web

import (
	"context"
	"sync"
	"time"
)

// Health check defaults. Provider checks may cost an API call, so results
// are reused for DefaultHealthTTL.
const (
	DefaultHealthTTL     = time.Minute
	DefaultHealthTimeout = 5 * time.Second
)

// HealthChecker reports whether a backend can serve requests.
// inference.Provider satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// healthCache runs at most one check per ttl. Concurrent callers wait for
// the check in progress instead of starting their own.
type healthCache struct {
	checker HealthChecker
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	checked time.Time
	err     error
}

func newHealthCache(checker HealthChecker, ttl, timeout time.Duration) *healthCache {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	return &healthCache{checker: checker, ttl: ttl, timeout: timeout, now: time.Now}
}

// Check returns the cached result, refreshing it once it is older than ttl.
func (h *healthCache) Check(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.checked.IsZero() && h.now().Sub(h.checked) < h.ttl {
		return h.err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()
	h.err = h.checker.Health(ctx)
	h.checked = h.now()
	return h.err
}
