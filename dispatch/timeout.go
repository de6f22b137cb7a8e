package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/mx-proto/mx/message"
)

// TimeoutMiddleware bounds an invocation to timeout, returning an error if
// the handler has not completed in time. The underlying goroutine is left
// running to completion; handlers that need to stop early must watch
// ctx.Done() themselves.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RequestMessage, reqCapture, respCapture *message.StreamCapture) (*message.ResponseMessage, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				resp *message.ResponseMessage
				err  error
			}
			done := make(chan result, 1)
			go func() {
				resp, err := next(ctx, req, reqCapture, respCapture)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				return nil, fmt.Errorf("dispatch: %s.%s timed out after %s", req.ServiceName, req.MethodName, timeout)
			}
		}
	}
}
