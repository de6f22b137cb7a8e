package dispatch

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/mx-proto/mx/message"
)

// RateLimitMiddleware bounds invocation throughput with a token-bucket
// limiter shared across every call through the chain it wraps.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RequestMessage, reqCapture, respCapture *message.StreamCapture) (*message.ResponseMessage, error) {
			if !limiter.Allow() {
				return nil, fmt.Errorf("dispatch: rate limit exceeded for %s.%s", req.ServiceName, req.MethodName)
			}
			return next(ctx, req, reqCapture, respCapture)
		}
	}
}
