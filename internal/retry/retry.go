// Package retry provides exponential-backoff retry helpers for calls to the
// WMS HTTP API, the Go analogue of the original's utils/retry.py
// retry_async.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Backoff returns an exponential backoff duration capped at maxBackoff,
// with jitter added the same way utils.CalculateBackoff does: 1s, 2s, 4s,
// 8s, ... before the cap, plus up to one minute of jitter.
func Backoff(attempt int, maxBackoff time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := time.Duration(1<<uint(attempt-1)) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Float64() * float64(time.Minute))
	result := d + jitter
	if result > maxBackoff {
		result = maxBackoff
	}
	return result
}

// Do runs fn up to maxRetries+1 times, sleeping with Backoff between
// attempts, and returns the last error if every attempt fails.
func Do(ctx context.Context, maxRetries int, maxBackoff time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Backoff(attempt, maxBackoff)):
			}
		}
		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
