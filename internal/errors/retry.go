package errors

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"time"
)

// RetryConfig bounds an in-process retry loop. MaxRetries counts the
// attempts after the first one.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         bool
}

// StorageRetryConfig suits object-storage uploads made by workers.
func StorageRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2,
		Jitter:         true,
	}
}

// ProbeRetryConfig is short because a client waits on the submission.
func ProbeRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     3 * time.Second,
		BackoffFactor:  2,
		Jitter:         true,
	}
}

// Retry runs fn until it succeeds, fails permanently, or the attempts run
// out. A nil cfg makes a single attempt.
func Retry(ctx context.Context, cfg *RetryConfig, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is Retry for functions that produce a value.
func RetryWithResult[T any](ctx context.Context, cfg *RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cfg == nil {
		cfg = &RetryConfig{}
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= cfg.MaxRetries || !transient(err) {
			return zero, err
		}

		timer := time.NewTimer(cfg.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff)
	if c.BackoffFactor > 0 {
		d *= math.Pow(c.BackoffFactor, float64(attempt))
	}
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if c.Jitter {
		// +/-25%
		d += d * 0.25 * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"slowdown",
	"502",
	"503",
	"504",
	"429",
}

// transient reports whether an attempt failed for a reason worth waiting
// out. AppErrors defer to IsRetryable; other errors are judged by network
// timeouts and well-known messages.
func transient(err error) bool {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if _, ok := As(err); ok {
		return IsRetryable(err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
