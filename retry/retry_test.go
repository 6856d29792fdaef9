package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentgate/core/agenterr"
)

func TestExecute_SucceedsFirstTry(t *testing.T) {
	t.Parallel()
	p := Policy{MaxRetries: 3, BackoffMs: 1, Jitter: false}
	calls := 0
	result := p.Execute(context.Background(), func(_ context.Context, attempt int) (any, error) {
		calls++
		return "ok", nil
	})
	require.True(t, result.Success)
	require.Equal(t, "ok", result.Value)
	require.Equal(t, 0, result.RetriedCount)
	require.Equal(t, 1, calls)
}

// Mirrors spec.md's S4 scenario: maxRetries=2, backoffMs=10, jitter=false,
// multiplier=2, two SYSTEM_ERROR failures then success.
func TestExecute_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	p := Policy{
		MaxRetries:        2,
		BackoffMs:         10,
		BackoffMultiplier: 2,
		Jitter:            false,
		RetryableErrors:   map[agenterr.Kind]bool{agenterr.KindSystem: true},
	}
	attempt := 0
	result := p.Execute(context.Background(), func(_ context.Context, n int) (any, error) {
		attempt++
		if attempt <= 2 {
			return nil, agenterr.New(agenterr.KindSystem, "boom")
		}
		return "ok", nil
	})
	require.True(t, result.Success)
	require.Equal(t, "ok", result.Value)
	require.Equal(t, 2, result.RetriedCount)
	require.Len(t, result.Attempts, 3)
	require.GreaterOrEqual(t, result.TotalDurationMs, int64(30))
}

func TestExecute_ExhaustsRetriesAndFails(t *testing.T) {
	t.Parallel()
	p := Policy{
		MaxRetries:      1,
		BackoffMs:       1,
		RetryableErrors: map[agenterr.Kind]bool{agenterr.KindSystem: true},
	}
	result := p.Execute(context.Background(), func(_ context.Context, n int) (any, error) {
		return nil, agenterr.New(agenterr.KindSystem, "still broken")
	})
	require.False(t, result.Success)
	require.Error(t, result.FinalErr)
	require.Equal(t, 1, result.RetriedCount)
	require.Len(t, result.Attempts, 2)
}

func TestExecute_NonRetryableErrorStopsImmediately(t *testing.T) {
	t.Parallel()
	p := Policy{
		MaxRetries:      5,
		BackoffMs:       1,
		RetryableErrors: map[agenterr.Kind]bool{agenterr.KindSystem: true},
	}
	calls := 0
	result := p.Execute(context.Background(), func(_ context.Context, n int) (any, error) {
		calls++
		return nil, agenterr.New(agenterr.KindPolicyViolation, "not retryable")
	})
	require.False(t, result.Success)
	require.Equal(t, 1, calls)
	require.Equal(t, 0, result.RetriedCount)
}

func TestExecute_NoneNeverRetries(t *testing.T) {
	t.Parallel()
	calls := 0
	result := None.Execute(context.Background(), func(_ context.Context, n int) (any, error) {
		calls++
		return nil, agenterr.New(agenterr.KindSystem, "fails once")
	})
	require.False(t, result.Success)
	require.Equal(t, 1, calls)
}

func TestExecute_ContextCancellationStopsRetries(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		MaxRetries:      5,
		BackoffMs:       50,
		RetryableErrors: map[agenterr.Kind]bool{agenterr.KindSystem: true},
	}
	calls := 0
	result := p.Execute(ctx, func(_ context.Context, n int) (any, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return nil, agenterr.New(agenterr.KindSystem, "still failing")
	})
	require.False(t, result.Success)
	require.Equal(t, agenterr.KindCancelled, agenterr.FromError(result.FinalErr).Kind)
}

func TestPolicy_JitterStaysWithinBounds(t *testing.T) {
	t.Parallel()
	p := Policy{
		MaxRetries:        1,
		BackoffMs:         100,
		BackoffMultiplier: 2,
		Jitter:            true,
		RandFloat:         func() float64 { return 0.5 },
		RetryableErrors:   map[agenterr.Kind]bool{agenterr.KindSystem: true},
	}
	d := p.delay(100)
	require.Equal(t, 50*time.Millisecond, d)
}

func TestPolicy_MaxBackoffCaps(t *testing.T) {
	t.Parallel()
	p := Policy{BackoffMultiplier: 10, MaxBackoffMs: 1000}
	require.Equal(t, int64(1000), p.nextBackoff(500))
}
