package rpc

import (
	"context"
	"math/rand"
	"time"
)

// fibonacciBackoff yields the Fibonacci retry delay schedule required by
// §4.1 and §5: unjittered delays grow as the Fibonacci sequence (in
// seconds), each capped at 60s, jittered by up to +/-20% to avoid
// thundering-herd retries across concurrent ChainGateway callers.
type fibonacciBackoff struct {
	a, b time.Duration
}

func newFibonacciBackoff() *fibonacciBackoff {
	return &fibonacciBackoff{a: time.Second, b: time.Second}
}

const maxBackoff = 60 * time.Second

func (f *fibonacciBackoff) next() time.Duration {
	d := f.a
	if d > maxBackoff {
		d = maxBackoff
	}
	f.a, f.b = f.b, f.a+f.b
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	if rand.Intn(2) == 0 {
		return d + jitter
	}
	return d - jitter
}

// maxAttempts is the hard retry ceiling of §4.1/§5.
const maxAttempts = 10

// withRetry invokes fn, retrying transient failures per isTransient up to
// maxAttempts times with Fibonacci backoff. Permanent errors (isTransient
// returns false) are returned immediately without retry, matching §4.1's
// "permanent errors (malformed input) do not retry".
func withRetry(ctx context.Context, onRetry func(attempt int), isTransient func(error) bool, fn func() error) error {
	backoff := newFibonacciBackoff()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff.next()):
		}
	}
	return lastErr
}
