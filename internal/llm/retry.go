package llm

import (
	"context"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// RetryConfig defines retry behavior for provider calls.
type RetryConfig struct {
	MaxRetries    int           `json:"maxRetries"`
	BaseDelay     time.Duration `json:"baseDelay"`
	MaxDelay      time.Duration `json:"maxDelay"`
	BackoffFactor float64       `json:"backoffFactor"`
	JitterFactor  float64       `json:"jitterFactor"`
}

// DefaultRetryConfig returns a sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// retryableStatusCodes are the HTTP statuses worth retrying.
var retryableStatusCodes = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// IsRetryableError reports whether an error is transient enough to retry.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if retryErr, ok := err.(*RetryableError); ok {
		_, retryable := retryableStatusCodes[retryErr.StatusCode]
		return retryable
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"overloaded",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}

// RetryableError wraps an HTTP-level provider failure with its status code.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return e.Message
}

// CalculateBackoffDelay computes the exponential backoff delay with jitter
// for the given attempt.
func CalculateBackoffDelay(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.BackoffFactor, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	jitter := delay * config.JitterFactor * rand.Float64()
	return time.Duration(delay + jitter)
}

// WrapWithRetry decorates a handler so stream creation retries transient
// failures per config. Errors arriving mid-stream are not retried; by then
// partial output has already been delivered.
func WrapWithRetry(h ApiHandler, config RetryConfig) ApiHandler {
	return &retryHandler{inner: h, config: config}
}

type retryHandler struct {
	inner  ApiHandler
	config RetryConfig
}

func (r *retryHandler) CreateMessage(ctx context.Context, systemPrompt string, messages []Message) (ApiStream, error) {
	return WithRetry(ctx, r.config, func(ctx context.Context) (ApiStream, error) {
		return r.inner.CreateMessage(ctx, systemPrompt, messages)
	})
}

// WithRetry runs op, retrying transient failures with exponential backoff.
func WithRetry[T any](ctx context.Context, config RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(CalculateBackoffDelay(attempt-1, config)):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			return zero, err
		}
	}

	return zero, lastErr
}
