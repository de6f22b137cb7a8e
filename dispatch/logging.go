package dispatch

import (
	"context"
	"time"

	"github.com/mx-proto/mx/logx"
	"github.com/mx-proto/mx/message"
)

// LoggingMiddleware logs each invocation's target and duration, and its
// error if it failed.
func LoggingMiddleware(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RequestMessage, reqCapture, respCapture *message.StreamCapture) (*message.ResponseMessage, error) {
			start := time.Now()
			resp, err := next(ctx, req, reqCapture, respCapture)
			fields := []logx.Field{
				logx.String("service", req.ServiceName),
				logx.String("method", req.MethodName),
				logx.Duration("duration", time.Since(start)),
			}
			if err != nil {
				log.Error("dispatch invocation failed", append(fields, logx.Error(err))...)
			} else {
				log.Info("dispatch invocation completed", fields...)
			}
			return resp, err
		}
	}
}
