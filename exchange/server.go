package exchange

import (
	"errors"
	"io"

	"github.com/mx-proto/mx/message"
	"github.com/mx-proto/mx/stream"
)

// Queue is the pending-request queue collaborator named in §6: Dequeue
// blocks up to an implementation-defined polling timeout and reports ok=false
// to mean "no work, terminate the session gracefully" (the null sentinel).
type Queue interface {
	Dequeue() (req *message.RequestMessage, ok bool)
	ApplyResponse(resp *message.ResponseMessage)
}

// QueueLookup resolves the pending-request queue for a newly identified
// subscriber (§6).
type QueueLookup func(identity message.RemoteIdentity) Queue

// Serve implements the server role (§4.3.3): read the remote's declared
// identity, identify as a server, then fork into the client-serving or
// subscriber-serving loop. Any other declared identity is a protocol error.
func Serve(s *stream.ExchangeStream, handler Handler, queueLookup QueueLookup) error {
	identity, err := s.ReadRemoteIdentity()
	if err != nil {
		return err
	}
	if err := s.IdentifyAsServer(); err != nil {
		return err
	}

	switch identity.Kind {
	case message.IdentityClient:
		return serveClient(s, handler)
	case message.IdentitySubscriber:
		queue := queueLookup(identity)
		return serveSubscriber(s, queue)
	default:
		return &stream.ProtocolError{Detail: "unexpected remote identity for server role: " + identity.Kind.String()}
	}
}

// serveClient implements the client-serving loop (§4.3.4). Resolution of the
// first open question in §9: the loop is explicit, not implicit in a read
// failure — it runs until expect_hello observes a clean end-of-stream between
// exchanges, which is reported as nil rather than an error.
func serveClient(s *stream.ExchangeStream, handler Handler) error {
	for {
		if err := s.ExpectHello(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := s.SendProceed(); err != nil {
			return err
		}

		env, reqCapture, err := s.Receive()
		if err != nil {
			return err
		}
		if env.IsNull() {
			// A client is not expected to send the null sentinel; treat it as
			// the end of this connection's useful life.
			return nil
		}

		respCapture := s.NewCapture()
		resp := invokeAndWrap(handler, env.Request, reqCapture, respCapture)
		if err := s.Send(message.NewResponseEnvelope(resp), respCapture); err != nil {
			return err
		}
	}
}

// serveSubscriber implements the subscriber-serving loop (§4.3.5): drains the
// subscriber's pending queue one request at a time. Resolution of the second
// open question in §9: a receive() failure after a request has already been
// dispatched to the wire is reported back to the queue as an error response
// before the connection unwinds, so the in-flight request's caller is not
// left dangling.
func serveSubscriber(s *stream.ExchangeStream, queue Queue) error {
	for {
		next, ok := queue.Dequeue()
		if !ok {
			return s.SendNull()
		}

		capture := s.NewCapture()
		if err := s.Send(message.NewRequestEnvelope(next), capture); err != nil {
			return err
		}

		env, _, err := s.Receive()
		if err != nil {
			queue.ApplyResponse(message.NewErrorResponse(next.CorrelationID, err))
			return err
		}
		if env.IsNull() {
			queue.ApplyResponse(message.NewErrorResponse(next.CorrelationID,
				&stream.ProtocolError{Detail: "subscriber sent null in place of a response"}))
			return &stream.ProtocolError{Detail: "subscriber sent null in place of a response"}
		}

		queue.ApplyResponse(env.Response)
	}
}
