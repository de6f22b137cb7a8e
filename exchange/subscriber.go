package exchange

import (
	"github.com/mx-proto/mx/message"
	"github.com/mx-proto/mx/stream"
)

// RunSubscriber implements the subscriber role (§4.3.2): identify as a
// subscriber for subscriptionURI, then loop receiving requests and sending
// handler responses until the server sends the null sentinel. It returns the
// count of non-null requests processed.
func RunSubscriber(s *stream.ExchangeStream, subscriptionURI string, handler Handler) (int, error) {
	if err := s.IdentifyAsSubscriber(subscriptionURI); err != nil {
		return 0, &stream.ConnectionInitializationError{Cause: err}
	}

	processed := 0
	for {
		env, reqCapture, err := s.Receive()
		if err != nil {
			return processed, err
		}
		if env.IsNull() {
			return processed, nil
		}

		respCapture := s.NewCapture()
		resp := invokeAndWrap(handler, env.Request, reqCapture, respCapture)
		if err := s.Send(message.NewResponseEnvelope(resp), respCapture); err != nil {
			return processed, err
		}
		processed++
	}
}
