package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// APIError is a non-2xx response from the model API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini api %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini api %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether err is worth another attempt: rate limiting,
// server-side failures, per-attempt deadline expiry, and plain transport
// errors all qualify. Client-side API errors and cancellation do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	// Transport-level failure with no status to classify.
	return true
}

// IsFatal reports whether err indicates a misconfigured request or bad
// credentials, where neither retrying nor falling back can help.
func IsFatal(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

// IsOverloaded reports whether err is the model pushing back on load.
func IsOverloaded(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests ||
		apiErr.StatusCode == http.StatusServiceUnavailable
}

// RetryPolicy runs an operation up to MaxAttempts times with exponential
// backoff starting at BaseDelay (doubling per attempt).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do invokes op until it succeeds, a non-retryable error occurs, attempts
// run out, or ctx is done. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= attempts || !IsRetryable(lastErr) {
			return lastErr
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return lastErr
		}
		delay *= 2
	}
	return lastErr
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
