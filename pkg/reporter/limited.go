package reporter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limited drops measurements that exceed a per-metric token bucket.
// Nothing waits and nothing is retried: an over-budget report fails with ErrRateLimited.
type Limited struct {
	next     Reporter
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

// NewLimited wraps next
// rps: reports per second per metric name
// burst: maximum burst size
func NewLimited(next Reporter, rps float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{
		next:     next,
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// GetLimiter returns the limiter for a metric name
func (l *Limited) GetLimiter(name string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[name]
	if !exists {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[name] = limiter
	}

	return limiter
}

// Allow checks if a report for name fits the budget
func (l *Limited) Allow(name string) bool {
	return l.GetLimiter(name).Allow()
}

// Report forwards m when the budget allows it
func (l *Limited) Report(ctx context.Context, m Measurement) error {
	if !l.Allow(m.Name) {
		return ErrRateLimited
	}
	return l.next.Report(ctx, m)
}
