package gdrive

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
)

// RetryConfig configures retries of failed API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// 0 means no retries (fail on first error).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay grows after each retry.
	Multiplier float64

	// Jitter adds up to +/- Jitter*delay of random variation.
	Jitter float64
}

// DefaultRetryConfig returns the retry settings used by New.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Pacer spaces out API calls with a token bucket and retries calls that
// fail with a retryable error.
type Pacer struct {
	limiter *rate.Limiter
	retry   RetryConfig
	onRetry func(attempt int, delay time.Duration, err error)
}

// NewPacer creates a pacer allowing qps calls per second with the given
// burst. A qps of zero or less disables rate limiting.
func NewPacer(qps float64, burst int, retry RetryConfig) *Pacer {
	limit := rate.Inf
	if qps > 0 {
		limit = rate.Limit(qps)
	}
	if burst <= 0 {
		burst = 1
	}
	if retry.InitialDelay <= 0 {
		retry.InitialDelay = time.Second
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 30 * time.Second
	}
	if retry.Multiplier <= 0 {
		retry.Multiplier = 2.0
	}
	return &Pacer{limiter: rate.NewLimiter(limit, burst), retry: retry}
}

// Call runs op until it succeeds, fails with a non-retryable error, the
// retries are used up, or ctx ends.
func (p *Pacer) Call(ctx context.Context, op func() error) error {
	delay := p.retry.InitialDelay
	for attempt := 0; ; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		err := op()
		if err == nil {
			return nil
		}
		if !shouldRetry(err) || ctx.Err() != nil {
			return err
		}
		if attempt >= p.retry.MaxRetries {
			return &RetryError{Attempts: attempt + 1, LastErr: err}
		}

		wait := p.jitter(delay)
		if p.onRetry != nil {
			p.onRetry(attempt+1, wait, err)
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}

		delay = min(time.Duration(float64(delay)*p.retry.Multiplier), p.retry.MaxDelay)
	}
}

func (p *Pacer) jitter(d time.Duration) time.Duration {
	if p.retry.Jitter <= 0 {
		return d
	}
	j := float64(d) * p.retry.Jitter
	return d + time.Duration((rand.Float64()*2-1)*j) //nolint:gosec // G404: timing jitter only
}

// RetryError reports a call that still failed after all retries.
type RetryError struct {
	Attempts int
	LastErr  error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryError) Unwrap() error {
	return e.LastErr
}

// shouldRetry reports whether err is a server error, a rate limit, or a
// transient network failure.
func shouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code >= 500 && gerr.Code < 600 || gerr.Code == http.StatusTooManyRequests {
			return true
		}
		if len(gerr.Errors) > 0 {
			switch gerr.Errors[0].Reason {
			case "rateLimitExceeded", "userRateLimitExceeded":
				return true
			}
		}
		return false
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return false
}
