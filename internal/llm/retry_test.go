package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCalculateBackoffDelay(t *testing.T) {
	config := DefaultRetryConfig()

	d0 := CalculateBackoffDelay(0, config)
	d1 := CalculateBackoffDelay(1, config)
	d2 := CalculateBackoffDelay(2, config)

	require.Less(t, d0, d1)
	require.Less(t, d1, d2)

	// Long attempts respect the cap (plus jitter headroom).
	long := CalculateBackoffDelay(10, config)
	maxWithJitter := time.Duration(float64(config.MaxDelay) * (1 + config.JitterFactor))
	require.LessOrEqual(t, long, maxWithJitter)
}

func TestIsRetryableError(t *testing.T) {
	require.False(t, IsRetryableError(nil))
	require.False(t, IsRetryableError(errors.New("invalid api key")))
	require.True(t, IsRetryableError(errors.New("dial tcp: connection refused")))
	require.True(t, IsRetryableError(&RetryableError{StatusCode: http.StatusTooManyRequests, Message: "rate limited"}))
	require.False(t, IsRetryableError(&RetryableError{StatusCode: http.StatusBadRequest, Message: "bad request"}))
}

func TestWithRetry(t *testing.T) {
	t.Run("succeeds_after_transient_failures", func(t *testing.T) {
		config := DefaultRetryConfig()
		config.BaseDelay = time.Millisecond
		config.MaxRetries = 3

		attempts := 0
		result, err := WithRetry(context.Background(), config, func(ctx context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", errors.New("timeout")
			}
			return "ok", nil
		})

		require.NoError(t, err)
		require.Equal(t, "ok", result)
		require.Equal(t, 3, attempts)
	})

	t.Run("gives_up_on_permanent_errors", func(t *testing.T) {
		config := DefaultRetryConfig()
		config.BaseDelay = time.Millisecond

		attempts := 0
		_, err := WithRetry(context.Background(), config, func(ctx context.Context) (string, error) {
			attempts++
			return "", errors.New("invalid api key")
		})

		require.Error(t, err)
		require.Equal(t, 1, attempts)
	})
}

type scriptedHandler struct {
	chunks   []ApiStreamChunk
	failures int
	attempts int
}

func (h *scriptedHandler) CreateMessage(ctx context.Context, systemPrompt string, messages []Message) (ApiStream, error) {
	h.attempts++
	if h.attempts <= h.failures {
		return nil, &RetryableError{StatusCode: http.StatusServiceUnavailable, Message: "overloaded"}
	}

	out := make(chan ApiStreamChunk, len(h.chunks))
	for _, c := range h.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func TestWrapWithRetry(t *testing.T) {
	config := DefaultRetryConfig()
	config.BaseDelay = time.Millisecond

	t.Run("stream_creation_retries_transient_failures", func(t *testing.T) {
		h := &scriptedHandler{
			failures: 2,
			chunks:   []ApiStreamChunk{ApiStreamTextChunk{Text: "ok"}, ApiStreamFinishChunk{Reason: "stop"}},
		}
		wrapped := WrapWithRetry(h, config)

		got, err := CompletePrompt(context.Background(), wrapped, "hi")
		require.NoError(t, err)
		require.Equal(t, "ok", got)
		require.Equal(t, 3, h.attempts)
	})

	t.Run("exhausted_retries_return_last_error", func(t *testing.T) {
		h := &scriptedHandler{failures: 10}
		wrapped := WrapWithRetry(h, config)

		_, err := wrapped.CreateMessage(context.Background(), "", nil)
		require.Error(t, err)
		require.Equal(t, config.MaxRetries+1, h.attempts)
	})
}

func TestCompletePrompt(t *testing.T) {
	h := &scriptedHandler{chunks: []ApiStreamChunk{
		ApiStreamTextChunk{Text: "Hello"},
		ApiStreamTextChunk{Text: " World"},
		ApiStreamFinishChunk{Reason: "stop"},
	}}

	got, err := CompletePrompt(context.Background(), h, "say hello")
	require.NoError(t, err)
	require.Equal(t, "Hello World", got)
}
