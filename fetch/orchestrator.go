package fetch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/rustyeddy/marketsync/market"
)

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	Attempts int           // total tries, including the first
	Initial  time.Duration // first backoff
	Max      time.Duration // backoff cap
}

// DefaultRetry is 4 attempts starting at 500ms, capped at 10s.
var DefaultRetry = RetryPolicy{Attempts: 4, Initial: 500 * time.Millisecond, Max: 10 * time.Second}

// Backoff returns the nominal delay before try number attempt+1.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Limiter is the shared request budget. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewLimiter returns a token bucket allowing perSecond requests with the
// given burst. perSecond <= 0 means unlimited.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Result is what a successful fetch produced.
type Result struct {
	Records  []market.Record
	Attempts int
	Dropped  int // records at or before since
}

// Orchestrator runs fetches against registered providers.
type Orchestrator struct {
	Providers *Registry
	Retry     RetryPolicy
	Limiter   Limiter
	Logger    *slog.Logger
}

func NewOrchestrator(reg *Registry, retry RetryPolicy, lim Limiter, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{Providers: reg, Retry: retry, Limiter: lim, Logger: logger}
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Fetch retrieves new records for e. Transient failures are retried with
// exponential backoff and jitter; permanent failures return at once. The
// returned error is an *Error, or the context error when ctx is done.
func (o *Orchestrator) Fetch(ctx context.Context, e market.Entity, since *market.Key) (Result, error) {
	var res Result
	if o.Providers == nil {
		return res, &Error{Kind: Permanent, Provider: e.Provider, Entity: e.Key(), Err: errors.New("no providers registered")}
	}
	f, err := o.Providers.Lookup(e.Provider)
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			fe.Entity = e.Key()
		}
		return res, err
	}

	attempts := o.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr *Error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			d := jitter(o.Retry.Backoff(attempt - 1))
			o.logger().Debug("retrying fetch",
				"entity", e.Key(),
				"attempt", attempt,
				"backoff", d,
				"err", lastErr,
			)
			if err := sleep(ctx, d); err != nil {
				return res, err
			}
		}

		if o.Limiter != nil {
			if err := o.Limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				return res, &Error{Kind: Transient, Provider: e.Provider, Entity: e.Key(), Err: err}
			}
		}

		res.Attempts = attempt
		recs, err := f.Fetch(ctx, e, since)
		if err == nil {
			res.Records, res.Dropped = after(recs, since)
			return res, nil
		}

		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		classified := Classify(err)
		fe, ok := classified.(*Error)
		if !ok {
			return res, classified
		}
		if fe.Provider == "" {
			fe.Provider = e.Provider
		}
		if fe.Entity == "" {
			fe.Entity = e.Key()
		}
		lastErr = fe
		if fe.Kind == Permanent {
			return res, fe
		}
	}
	return res, lastErr
}

// after drops records whose key is not strictly after since.
func after(recs []market.Record, since *market.Key) ([]market.Record, int) {
	if since == nil {
		return recs, 0
	}
	out := recs[:0:0]
	for _, r := range recs {
		if r.Key.After(*since) {
			out = append(out, r)
		}
	}
	return out, len(recs) - len(out)
}

// jitter spreads d over [d/2, 3d/2).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
