package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds how often a transient failure is retried. Attempts counts
// the first try, so a zero or one Attempts never retries.
type Policy struct {
	Attempts int
	Backoff  time.Duration
	Jitter   time.Duration
}

type AttemptFunc func(ctx context.Context) error

// Do runs attempt until it succeeds, fails permanently, or the policy or
// ctx runs out. It returns the number of retries made and the last error.
func Do(ctx context.Context, policy Policy, onRetry func(reason string), attempt AttemptFunc) (int, error) {
	maxAttempts := policy.Attempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	retries := 0
	for {
		err := attempt(ctx)
		if err == nil {
			return retries, nil
		}
		if ctx.Err() != nil {
			return retries, err
		}
		reason, retryable := ClassifyError(err)
		if !retryable || retries+1 >= maxAttempts {
			return retries, err
		}
		retries++
		if onRetry != nil {
			onRetry(reason)
		}
		if !sleepWithBackoff(ctx, policy.Backoff*time.Duration(retries), policy.Jitter) {
			return retries, err
		}
	}
}

func sleepWithBackoff(ctx context.Context, backoff time.Duration, jitter time.Duration) bool {
	delay := backoff
	if jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(jitter) + 1))
	}
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
