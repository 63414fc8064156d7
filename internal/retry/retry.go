// Package retry runs an operation until it succeeds, fails permanently or
// runs out of attempts, sleeping with exponential backoff in between.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
)

// Backoff describes the retry schedule.
type Backoff struct {
	Attempts int           // total attempts, including the first
	Base     time.Duration // delay before the first retry
	Max      time.Duration // cap on any single delay
	Factor   float64       // growth per retry
	Jitter   float64       // extra random delay as a fraction of the delay

	// AttemptTimeout bounds each attempt independently of the caller's
	// context. Zero means no per-attempt limit.
	AttemptTimeout time.Duration
}

// DefaultBackoff is the schedule used for media downloads.
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts:       5,
		Base:           500 * time.Millisecond,
		Max:            8 * time.Second,
		Factor:         2,
		Jitter:         0.25,
		AttemptTimeout: 2 * time.Minute,
	}
}

// Delay returns the wait before retry number n (1 for the first retry).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	delay := float64(b.Base) * math.Pow(factor, float64(n-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 {
		delay += delay * b.Jitter * rand.Float64()
	}
	return time.Duration(delay)
}

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Op is one attempt. attempt counts from 1.
type Op func(ctx context.Context, attempt int) error

// ExhaustedError is returned when every attempt failed with a retryable
// error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs op under the schedule. A non-retryable error is returned as is.
// Cancelling ctx aborts both attempts and the sleeps between them.
func Do(ctx context.Context, label string, b Backoff, classify Classifier, op Op) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := b.Delay(attempt - 1)
			log.Printf("[Retry] %s retry %d/%d (waiting %v): %v", label, attempt-1, attempts-1, delay, lastErr)
			if err := Sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s cancelled: %w", label, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s cancelled: %w", label, err)
		}

		err := runAttempt(ctx, b.AttemptTimeout, attempt, op)
		if err == nil {
			if attempt > 1 {
				log.Printf("[Retry] %s succeeded on attempt %d", label, attempt)
			}
			return nil
		}
		lastErr = err

		// The caller's context going away is never retryable, even when the
		// error it produced looks like a timeout.
		if ctx.Err() != nil {
			return fmt.Errorf("%s cancelled: %w", label, ctx.Err())
		}
		if classify == nil || !classify(err) {
			return err
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt int, op Op) error {
	if timeout <= 0 {
		return op(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx, attempt)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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

// IsNetworkError reports whether err looks like a transport failure:
// timeouts, resets, refused connections and truncated bodies.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}
