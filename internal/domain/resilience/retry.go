package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig configures the jittered-backoff retry wrapper. Zero values
// fall back to the package defaults.
type RetryConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFactor   float64
	IsRetryable    func(error) bool // nil means "retry anything"
}

const (
	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = 1 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultJitterFactor = 0.5
	minBackoff          = 100 * time.Millisecond
)

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = func(error) bool { return true }
	}
	return c
}

// JitteredBackoff computes the delay before retry attempt `attempt` (0
// indexed): exponential growth from BaseDelay, capped at MaxDelay, with
// uniform random noise in ±(capped*JitterFactor), floored at 100ms and
// re-capped at MaxDelay after adding jitter.
func JitteredBackoff(attempt int, cfg RetryConfig) time.Duration {
	cfg = cfg.withDefaults()
	expDelay := float64(cfg.BaseDelay) * pow2(attempt)
	capped := expDelay
	if capped > float64(cfg.MaxDelay) {
		capped = float64(cfg.MaxDelay)
	}
	jitterRange := capped * cfg.JitterFactor
	jitter := (rand.Float64()*2 - 1) * jitterRange
	final := capped + jitter
	if final < float64(minBackoff) {
		final = float64(minBackoff)
	}
	if final > float64(cfg.MaxDelay) {
		final = float64(cfg.MaxDelay)
	}
	return time.Duration(final)
}

func pow2(n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= 2
	}
	return r
}

// RetryableHTTPCodes is the closed set of HTTP statuses considered
// transient and thus retryable when the wrapped operation is an HTTP call.
var RetryableHTTPCodes = map[int]bool{
	408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

// IsRetryableHTTPStatus reports whether the given status code is in
// RetryableHTTPCodes.
func IsRetryableHTTPStatus(code int) bool {
	return RetryableHTTPCodes[code]
}

// WithRetry runs fn under the named circuit breaker and this retry policy:
// acquire the circuit, call fn, record success/failure on the circuit, and
// retry with jittered backoff on retryable failures until attempts are
// exhausted. A circuit-Open error is never retried locally — it propagates
// immediately, since the circuit itself is what's protecting the call.
func WithRetry(ctx context.Context, registry *Registry, service string, cfg RetryConfig, fn func(context.Context) error) error {
	cfg = cfg.withDefaults()
	cb := registry.Get(service)

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := cb.Acquire(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			cb.RecordSuccess()
			return nil
		}
		lastErr = err

		retryable := cfg.IsRetryable(err)
		isLast := attempt == cfg.MaxAttempts-1
		if !retryable || isLast {
			cb.RecordFailure()
			return err
		}

		delay := JitteredBackoff(attempt, cfg)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			cb.RecordFailure()
			return ctx.Err()
		}
	}
	return lastErr
}

// errRetryable is a small helper error wrapper retry callers can use to mark
// a returned error as retryable without needing a custom IsRetryable
// predicate per call site.
type errRetryable struct{ err error }

func (e *errRetryable) Error() string { return e.err.Error() }
func (e *errRetryable) Unwrap() error { return e.err }

// MarkRetryable wraps err so the default IsRetryable predicate (below)
// recognizes it as transient.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &errRetryable{err: err}
}

// DefaultIsRetryable recognizes errors wrapped with MarkRetryable as
// retryable and everything else as fatal. Callers needing HTTP-status-based
// retry should build their own predicate using IsRetryableHTTPStatus.
func DefaultIsRetryable(err error) bool {
	var r *errRetryable
	return errors.As(err, &r)
}
