// Package pacing enforces the process-wide minimum interval between requests
// to a single marketplace. Both upstreams throttle bursts aggressively, so
// every client routes through one Pacer per venue: no two callers can bypass
// the shared clock regardless of how many goroutines are fetching.
package pacing

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// breatherEvery inserts an extra randomized pause after this many
	// requests; breatherMin/breatherMax bound its length.
	breatherEvery = 10
	breatherMin   = 3 * time.Second
	breatherMax   = 6 * time.Second
)

// Pacer is the shared request clock for one marketplace. Wait blocks until
// the caller may issue the next request; the minimum interval is
// reconfigurable at runtime without dropping queued waiters.
type Pacer struct {
	name    string
	limiter *rate.Limiter

	mu       sync.Mutex
	requests int64
}

// New creates a Pacer with the given minimum inter-request interval. A zero
// or negative interval disables pacing.
func New(name string, minInterval time.Duration) *Pacer {
	return &Pacer{
		name:    name,
		limiter: rate.NewLimiter(limitFor(minInterval), 1),
	}
}

// Wait blocks until the global clock permits the next request, then counts
// it. Every tenth request additionally sleeps a randomized 3-6 s breather.
// Cancelling ctx aborts either wait immediately.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing: %s: %w", p.name, err)
	}

	p.mu.Lock()
	p.requests++
	breather := p.requests%breatherEvery == 0
	p.mu.Unlock()

	if !breather {
		return nil
	}

	extra := breatherMin + time.Duration(rand.Int63n(int64(breatherMax-breatherMin)))
	timer := time.NewTimer(extra)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pacing: %s: %w", p.name, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// SetMinInterval updates the minimum inter-request interval. Waiters already
// queued pick up the new rate on their next reservation.
func (p *Pacer) SetMinInterval(minInterval time.Duration) {
	p.limiter.SetLimit(limitFor(minInterval))
}

// Requests returns how many requests this pacer has admitted.
func (p *Pacer) Requests() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

func limitFor(minInterval time.Duration) rate.Limit {
	if minInterval <= 0 {
		return rate.Inf
	}
	return rate.Every(minInterval)
}
