package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/mx-proto/mx/message"
)

// isRetryable reports whether err looks like a transient failure worth
// retrying — the same heuristic substrings the teacher's retry middleware
// matched against the legacy RPCMessage.Error string, checked here directly
// against the Go error instead.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused")
}

// RetryMiddleware retries a failing invocation up to maxRetries times with
// exponential backoff, stopping early on success or a non-retryable error.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RequestMessage, reqCapture, respCapture *message.StreamCapture) (*message.ResponseMessage, error) {
			resp, err := next(ctx, req, reqCapture, respCapture)
			for i := 0; i < maxRetries && isRetryable(err); i++ {
				time.Sleep(baseDelay * time.Duration(int64(1)<<uint(i)))
				resp, err = next(ctx, req, reqCapture, respCapture)
			}
			return resp, err
		}
	}
}
