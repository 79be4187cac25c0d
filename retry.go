package objectplugin

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures retry behavior for unary RPC calls.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (1 = no retries).
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff delay.
	// Default: 10s
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2.0
	BackoffMultiplier float64

	// Jitter randomizes each delay by +/-50%.
	// Default: true
	Jitter bool

	// IsRetryable determines if an error should trigger a retry.
	// If nil, uses defaultIsRetryable.
	IsRetryable func(error) bool
}

// DefaultRetryPolicy returns a retry policy with sensible defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		IsRetryable:       defaultIsRetryable,
	}
}

// defaultIsRetryable retries transport-level failures only. Internal
// errors are not retried: they carry object type failures, which repeat.
func defaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch connect.CodeOf(err) {
	case connect.CodeUnavailable,
		connect.CodeResourceExhausted,
		connect.CodeUnknown,
		connect.CodeDeadlineExceeded:
		return true
	default:
		return false
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = 100 * time.Millisecond
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = 10 * time.Second
	}
	if p.BackoffMultiplier == 0 {
		p.BackoffMultiplier = 2.0
	}
	if p.IsRetryable == nil {
		p.IsRetryable = defaultIsRetryable
	}
	return p
}

// backOff builds the schedule for one call.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = p.BackoffMultiplier
	b.MaxElapsedTime = 0
	if p.Jitter {
		b.RandomizationFactor = 0.5
	} else {
		b.RandomizationFactor = 0
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// RetryInterceptor returns a Connect unary interceptor that retries failed calls.
// Streams are not retried.
func RetryInterceptor(policy RetryPolicy) connect.UnaryInterceptorFunc {
	policy = policy.withDefaults()

	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			var lastErr error
			resp, err := backoff.RetryWithData(func() (connect.AnyResponse, error) {
				resp, err := next(ctx, req)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if !policy.IsRetryable(err) {
					return nil, backoff.Permanent(err)
				}
				return nil, err
			}, policy.backOff(ctx))

			// A cancelled wait reports the context error; the caller wants
			// the last RPC error instead.
			if err != nil && lastErr != nil && ctx.Err() != nil {
				return nil, lastErr
			}
			return resp, err
		}
	}
}
