package dispatch

import (
	"context"

	"github.com/mx-proto/mx/message"
)

// HandlerFunc is the context-carrying invocation shape middleware wraps.
// reqCapture holds the spooled bytes of any attachments the peer sent
// alongside req; respCapture is where the handler attaches response-side
// attachment sources. Registry.Invoke has this shape and sits at the
// innermost end of a chain.
type HandlerFunc func(ctx context.Context, req *message.RequestMessage, reqCapture, respCapture *message.StreamCapture) (*message.ResponseMessage, error)

// Middleware wraps a HandlerFunc with cross-cutting behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, applied in the order given:
// Chain(A, B, C)(handler) runs A's before-logic, then B's, then C's, then
// handler, then C's after-logic, then B's, then A's — the same onion
// ordering as the teacher's middleware.Chain.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// ToExchangeHandler adapts a HandlerFunc to the context-free shape the
// exchange package's role state machines call — the boundary where this
// package's middleware stack meets package exchange.
func ToExchangeHandler(h HandlerFunc) func(req *message.RequestMessage, reqCapture, respCapture *message.StreamCapture) (*message.ResponseMessage, error) {
	return func(req *message.RequestMessage, reqCapture, respCapture *message.StreamCapture) (*message.ResponseMessage, error) {
		return h(context.Background(), req, reqCapture, respCapture)
	}
}
