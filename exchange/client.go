package exchange

import (
	"github.com/mx-proto/mx/message"
	"github.com/mx-proto/mx/stream"
)

// Client implements the client role (§4.3.1): exchange_as_client(request) ->
// response. A Client may be reused for many requests over the same
// connection; it identifies itself only on the first exchange, matching the
// teacher's "one Dial, many Call" client usage pattern.
type Client struct {
	s          *stream.ExchangeStream
	identified bool
}

// NewClient wraps an already-connected exchange stream. The connection must
// be freshly established; NewClient performs no I/O itself.
func NewClient(s *stream.ExchangeStream) *Client {
	return &Client{s: s}
}

// Exchange performs one client exchange: identify (if not already done),
// hello/proceed, send the request, and return the matched response.
//
// Failures during identify/hello/proceed are wrapped as
// *stream.ConnectionInitializationError — retryable on a fresh connection.
// Failures sending the request or awaiting the response propagate with their
// native error taxonomy unchanged (§4.3.1).
func (c *Client) Exchange(req *message.RequestMessage, capture *message.StreamCapture) (*message.ResponseMessage, *message.StreamCapture, error) {
	if err := c.ensureIdentified(); err != nil {
		return nil, nil, err
	}

	if err := c.s.SendHello(); err != nil {
		return nil, nil, &stream.ConnectionInitializationError{Cause: err}
	}
	if err := c.s.ExpectProceed(); err != nil {
		// Wrapped per §4.3.1, but the underlying AuthenticationError (§7) is
		// still reachable via errors.As through ConnectionInitializationError's
		// Unwrap, so callers can distinguish a TLS-trust-rejection-shaped
		// close from a generic initialization failure.
		return nil, nil, &stream.ConnectionInitializationError{Cause: err}
	}

	env := message.NewRequestEnvelope(req)
	if err := c.s.Send(env, capture); err != nil {
		return nil, nil, err
	}

	respEnv, respCapture, err := c.s.Receive()
	if err != nil {
		return nil, nil, err
	}
	if respEnv.IsNull() {
		return nil, nil, nil
	}
	return respEnv.Response, respCapture, nil
}

func (c *Client) ensureIdentified() error {
	if c.identified {
		return nil
	}
	if err := c.s.IdentifyAsClient(); err != nil {
		return &stream.ConnectionInitializationError{Cause: err}
	}
	c.identified = true
	return nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.s.Close()
}
