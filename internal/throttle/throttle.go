package throttle

import (
	"context"
	"sync"
	"time"
)

// Limiter spaces SMTP probes against the same receiving domain. Batch
// jobs routinely carry hundreds of addresses at one provider, and mail
// servers greylist or tarpit callers that probe back-to-back.
type Limiter struct {
	gap     time.Duration
	mu      sync.Mutex
	lastHit map[string]time.Time
}

// New builds a Limiter enforcing the given minimum gap per domain. A
// non-positive gap disables waiting.
func New(gap time.Duration) *Limiter {
	return &Limiter{
		gap:     gap,
		lastHit: make(map[string]time.Time),
	}
}

// Wait blocks until the domain's gap has elapsed, then claims the slot.
// Concurrent waiters on one domain leave one winner per gap window; the
// rest re-queue. Returns early with the context's error on cancellation.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	if l.gap <= 0 {
		return nil
	}

	for {
		l.mu.Lock()
		now := time.Now()
		last, seen := l.lastHit[domain]
		if !seen || now.Sub(last) >= l.gap {
			l.lastHit[domain] = now
			l.mu.Unlock()
			return nil
		}
		remaining := l.gap - now.Sub(last)
		l.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// prune drops entries whose gap has already elapsed; they would admit
// the next caller immediately anyway.
func (l *Limiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for domain, last := range l.lastHit {
		if now.Sub(last) >= l.gap {
			delete(l.lastHit, domain)
		}
	}
}

// StartCleanup launches a goroutine that prunes the ledger every
// interval until ctx is cancelled.
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.prune()
			case <-ctx.Done():
				return
			}
		}
	}()
}
