// Package retry implements the Retry Policy Engine: exponential backoff
// with jitter around a caller-supplied operation, classifying errors by
// agenterr.Kind to decide whether another attempt is worthwhile.
//
// The Policy shape is grounded on the teacher's engine.RetryPolicy
// (MaxAttempts/InitialInterval/BackoffCoefficient), generalized with an
// explicit retryable-error set and a pluggable random source so jitter
// stays deterministic under test.
package retry

import (
	"context"
	"time"

	"github.com/agentgate/core/agenterr"
)

// Policy configures one retry run. A zero-value Policy never retries
// (MaxRetries 0): callers should start from Default, Aggressive or None.
type Policy struct {
	MaxRetries        int
	BackoffMs         int64
	BackoffMultiplier float64
	MaxBackoffMs      int64
	RetryableErrors   map[agenterr.Kind]bool
	RetryOnTimeout    bool
	Jitter            bool

	// RandFloat returns a value in [0,1) used to compute jitter. Tests
	// inject a deterministic source; production uses math/rand/v2.
	RandFloat func() float64
}

var (
	// Default retries transient failures a handful of times with modest backoff.
	Default = Policy{
		MaxRetries:        3,
		BackoffMs:         1000,
		BackoffMultiplier: 2,
		MaxBackoffMs:      30000,
		RetryableErrors: map[agenterr.Kind]bool{
			agenterr.KindSystem:  true,
			agenterr.KindGitHub:  true,
			agenterr.KindNetwork: true,
		},
		RetryOnTimeout: true,
		Jitter:         true,
	}

	// Aggressive retries more often and backs off further, for flaky
	// external collaborators (CI polling, registries under load).
	Aggressive = Policy{
		MaxRetries:        8,
		BackoffMs:         500,
		BackoffMultiplier: 2,
		MaxBackoffMs:      120000,
		RetryableErrors: map[agenterr.Kind]bool{
			agenterr.KindSystem:  true,
			agenterr.KindGitHub:  true,
			agenterr.KindNetwork: true,
		},
		RetryOnTimeout: true,
		Jitter:         true,
	}

	// None disables retries entirely; Execute runs the operation exactly once.
	None = Policy{MaxRetries: 0}
)

// Attempt records one execution inside an Execute call.
type Attempt struct {
	Number     int
	Err        error
	DurationMs int64
}

// Result summarizes a completed Execute call.
type Result struct {
	Success       bool
	Value         any
	FinalErr      error
	Attempts      []Attempt
	RetriedCount  int
	TotalDurationMs int64
}

// Operation is the unit of work Execute retries. ctx carries cancellation.
// A returned error that is not already an *agenterr.Error is treated as
// agenterr.KindSystem (agenterr.FromError) when deciding whether to retry.
type Operation func(ctx context.Context, attempt int) (any, error)

// Execute runs op, retrying according to p until it succeeds, the
// context is canceled, or the retry budget is exhausted. It never
// retries past MaxRetries+1 total attempts.
func (p Policy) Execute(ctx context.Context, op Operation) Result {
	start := time.Now()
	var attempts []Attempt
	backoff := p.BackoffMs

	for n := 1; ; n++ {
		attemptStart := time.Now()
		val, err := op(ctx, n)
		dur := time.Since(attemptStart).Milliseconds()
		attempts = append(attempts, Attempt{Number: n, Err: err, DurationMs: dur})

		if err == nil {
			return Result{
				Success:         true,
				Value:           val,
				Attempts:        attempts,
				RetriedCount:    n - 1,
				TotalDurationMs: time.Since(start).Milliseconds(),
			}
		}

		if n > p.MaxRetries || !p.retryable(err) {
			return Result{
				Success:         false,
				FinalErr:        err,
				Attempts:        attempts,
				RetriedCount:    n - 1,
				TotalDurationMs: time.Since(start).Milliseconds(),
			}
		}

		select {
		case <-ctx.Done():
			return Result{
				Success:         false,
				FinalErr:        agenterr.Wrap(agenterr.KindCancelled, "retry: context canceled", ctx.Err()),
				Attempts:        attempts,
				RetriedCount:    n - 1,
				TotalDurationMs: time.Since(start).Milliseconds(),
			}
		case <-time.After(p.delay(backoff)):
		}

		backoff = p.nextBackoff(backoff)
	}
}

func (p Policy) retryable(err error) bool {
	e := agenterr.FromError(err)
	if e == nil {
		return false
	}
	if e.Kind == agenterr.KindAgentTimeout && !p.RetryOnTimeout {
		return false
	}
	if p.RetryableErrors == nil {
		return e.Kind.Retryable()
	}
	return p.RetryableErrors[e.Kind]
}

func (p Policy) nextBackoff(current int64) int64 {
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	next := int64(float64(current) * mult)
	if p.MaxBackoffMs > 0 && next > p.MaxBackoffMs {
		next = p.MaxBackoffMs
	}
	return next
}

func (p Policy) delay(backoff int64) time.Duration {
	if !p.Jitter {
		return time.Duration(backoff) * time.Millisecond
	}
	r := p.RandFloat
	if r == nil {
		r = defaultRandFloat
	}
	// full jitter: a uniform value in [0, backoff]
	jittered := int64(r() * float64(backoff))
	return time.Duration(jittered) * time.Millisecond
}
