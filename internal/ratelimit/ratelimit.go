package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy is the pacing for one provider.
type Policy struct {
	Delay      time.Duration
	Jitter     time.Duration
	MaxBackoff int
}

type provider struct {
	policy  Policy
	limiter *rate.Limiter
	level   int
}

// Limiter spaces out records per provider. The interval is counted from
// the end of the previous record (see Done), and a random jitter is added
// on top. Each rate-limit signal doubles the interval up to 2^MaxBackoff
// times the base delay; a success resets it.
type Limiter struct {
	mu        sync.Mutex
	providers map[string]*provider
	rnd       *rand.Rand

	// Sleep is used for the jitter pause. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func New(policies map[string]Policy) *Limiter {
	l := &Limiter{
		providers: make(map[string]*provider, len(policies)),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		Sleep:     SleepContext,
	}
	for name, p := range policies {
		l.providers[name] = &provider{
			policy:  p,
			limiter: rate.NewLimiter(every(p.Delay), 1),
		}
	}
	return l
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Wait blocks until the provider may be called again. Unknown providers
// are not paced.
func (l *Limiter) Wait(ctx context.Context, name string) error {
	l.mu.Lock()
	p, ok := l.providers[name]
	var (
		jitter time.Duration
		lim    *rate.Limiter
	)
	if ok {
		lim = p.limiter
		if p.policy.Jitter > 0 {
			jitter = time.Duration(l.rnd.Int63n(int64(p.policy.Jitter)))
		}
	}
	l.mu.Unlock()
	if !ok {
		return ctx.Err()
	}

	if err := lim.Wait(ctx); err != nil {
		return err
	}
	if jitter > 0 {
		return l.Sleep(ctx, jitter)
	}
	return nil
}

// Done marks the end of a record for the provider. The next Wait blocks
// for the full current interval from this moment, however long the
// record itself took.
func (l *Limiter) Done(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.providers[name]
	if !ok {
		return
	}
	lim := rate.NewLimiter(every(p.policy.Delay<<p.level), 1)
	lim.Allow()
	p.limiter = lim
}

// Penalize records a rate-limit signal from the provider.
func (l *Limiter) Penalize(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.providers[name]
	if !ok {
		return
	}
	if p.level < p.policy.MaxBackoff {
		p.level++
	}
	p.limiter.SetLimit(every(p.policy.Delay << p.level))
}

// Reset drops the provider back to its base interval.
func (l *Limiter) Reset(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.providers[name]
	if !ok || p.level == 0 {
		return
	}
	p.level = 0
	p.limiter.SetLimit(every(p.policy.Delay))
}

// Interval is the current gap enforced for the provider.
func (l *Limiter) Interval(name string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.providers[name]
	if !ok {
		return 0
	}
	return p.policy.Delay << p.level
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
