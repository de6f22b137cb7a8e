// Package exchange implements the exchange protocol state machine: the three
// role perspectives (client, subscriber, server) that sequence the exchange
// stream's primitives into complete exchanges (§4.3).
package exchange

import (
	"github.com/mx-proto/mx/message"
)

// Handler is the invocation dispatcher collaborator named in §6: given a
// decoded request, the capture that holds the spooled bytes of any
// attachments the peer sent alongside it, and a capture the handler may
// attach response-side attachment sources to, it produces a response or
// raises an error. A raised error is never fatal to the connection —
// invokeAndWrap converts it to an error ResponseMessage locally (§4.3, §7
// Handler failure).
type Handler func(req *message.RequestMessage, reqCapture, respCapture *message.StreamCapture) (*message.ResponseMessage, error)

// invokeAndWrap is the common helper shared by the subscriber-serving and
// client-serving loops (§4.3's "invoke_and_wrap"). On a handler error it
// produces a ResponseMessage carrying the request's correlation id and the
// innermost (unpacked) cause, so the peer sees the original fault rather
// than a wrapper chain.
func invokeAndWrap(handler Handler, req *message.RequestMessage, reqCapture, respCapture *message.StreamCapture) *message.ResponseMessage {
	resp, err := handler(req, reqCapture, respCapture)
	if err != nil {
		return message.NewErrorResponse(req.CorrelationID, err)
	}
	if resp == nil {
		return &message.ResponseMessage{CorrelationID: req.CorrelationID}
	}
	return resp
}
