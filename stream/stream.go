// Package stream implements the exchange stream: the protocol-meaningful
// primitives (identify, hello/proceed, send/receive message) layered over
// the protocol package's frame codec (§4.2). It owns the transport and the
// buffers layered over it; callers never touch the transport directly
// between construction and teardown.
//
// An ExchangeStream is not safe for concurrent use from multiple goroutines:
// the core is single-threaded per connection (§5), matching the teacher's
// client_transport/server handleConn design of one sequential reader and one
// serialized writer per connection — without that design's background
// recvLoop goroutine and seq-keyed multiplexing, which the spec's Non-goals
// explicitly exclude.
package stream

import (
	"bufio"
	"errors"
	"io"

	"github.com/mx-proto/mx/message"
	"github.com/mx-proto/mx/protocol"
)

// ExchangeStream wraps a transport connection and exposes the primitives the
// exchange protocol state machine (package exchange) sequences into complete
// exchanges.
type ExchangeStream struct {
	conn     io.ReadWriteCloser
	r        *bufio.Reader
	w        *bufio.Writer
	spoolDir string
}

// New wraps conn. spoolDir is where received attachments are spooled; an
// empty string uses the OS default temp directory.
func New(conn io.ReadWriteCloser, spoolDir string) *ExchangeStream {
	return &ExchangeStream{
		conn:     conn,
		r:        bufio.NewReader(conn),
		w:        bufio.NewWriter(conn),
		spoolDir: spoolDir,
	}
}

// Close closes the underlying transport, which is how cancellation is
// realized (§5): any currently-blocked read or write fails with an I/O error.
func (s *ExchangeStream) Close() error {
	return s.conn.Close()
}

// --- identification (§4.2) ---

// IdentifyAsClient writes "MX-CLIENT 1.0" and verifies the remote replies
// as a Server.
func (s *ExchangeStream) IdentifyAsClient() error {
	if err := s.writeIdentityLine(message.RemoteIdentity{Kind: message.IdentityClient, Version: message.CurrentVersion}); err != nil {
		return err
	}
	remote, err := s.ReadRemoteIdentity()
	if err != nil {
		return err
	}
	if remote.Kind != message.IdentityServer {
		return newUnexpectedToken(message.IdentityServer.String(), remote.Kind.String())
	}
	return nil
}

// IdentifyAsSubscriber writes "MX-SUBSCRIBER 1.0 <uri>" and verifies the
// remote replies as a Server.
func (s *ExchangeStream) IdentifyAsSubscriber(subscriptionURI string) error {
	id := message.RemoteIdentity{Kind: message.IdentitySubscriber, Version: message.CurrentVersion, SubscriptionURI: subscriptionURI}
	if err := s.writeIdentityLine(id); err != nil {
		return err
	}
	remote, err := s.ReadRemoteIdentity()
	if err != nil {
		return err
	}
	if remote.Kind != message.IdentityServer {
		return newUnexpectedToken(message.IdentityServer.String(), remote.Kind.String())
	}
	return nil
}

// IdentifyAsServer writes "MX-SERVER 1.0". It does not expect a reply: the
// remote already identified itself first (§4.3.3 step 1 precedes step 2).
func (s *ExchangeStream) IdentifyAsServer() error {
	return s.writeIdentityLine(message.RemoteIdentity{Kind: message.IdentityServer, Version: message.CurrentVersion})
}

func (s *ExchangeStream) writeIdentityLine(id message.RemoteIdentity) error {
	if err := protocol.WriteLine(s.w, id.IdentityLine()); err != nil {
		return err
	}
	// Each identity line is followed by an extra blank line for human readability.
	return protocol.WriteLine(s.w, "")
}

// ReadRemoteIdentity reads and parses one identity line, then consumes the
// blank line that follows it.
func (s *ExchangeStream) ReadRemoteIdentity() (message.RemoteIdentity, error) {
	line, err := protocol.ReadLine(s.r)
	if err != nil {
		return message.RemoteIdentity{}, err
	}
	id, err := message.ParseIdentityLine(line)
	if err != nil {
		return message.RemoteIdentity{}, &ProtocolError{Detail: err.Error()}
	}
	// The blank line is consumed here so it is not left in front of what the
	// peer sends next: the subscriber role reads an envelope right after the
	// handshake.
	blank, err := s.r.ReadString('\n')
	if err != nil {
		return message.RemoteIdentity{}, err
	}
	if blank != "\n" && blank != "\r\n" {
		return message.RemoteIdentity{}, &ProtocolError{Detail: "identity line not followed by a blank line"}
	}
	return id, nil
}

// --- flow control (§4.2) ---

const (
	lineHello   = "HELLO"
	lineProceed = "PROCEED"
)

// SendHello writes the bare HELLO line.
func (s *ExchangeStream) SendHello() error {
	return protocol.WriteLine(s.w, lineHello)
}

// ExpectHello reads one line and requires it to be HELLO.
func (s *ExchangeStream) ExpectHello() error {
	line, err := protocol.ReadLine(s.r)
	if err != nil {
		return err
	}
	if line != lineHello {
		return newUnexpectedToken(lineHello, line)
	}
	return nil
}

// SendProceed writes the bare PROCEED line.
func (s *ExchangeStream) SendProceed() error {
	return protocol.WriteLine(s.w, lineProceed)
}

// ExpectProceed reads one line and requires it to be PROCEED. End-of-stream
// here is reported as an AuthenticationError rather than a generic
// ProtocolError (§4.2, §7): in the target deployment a silent close at this
// point almost always indicates a TLS trust rejection upstream.
func (s *ExchangeStream) ExpectProceed() error {
	line, err := protocol.ReadLine(s.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &AuthenticationError{Cause: err}
		}
		return err
	}
	if line != lineProceed {
		return newUnexpectedToken(lineProceed, line)
	}
	return nil
}

// --- message primitives (§4.2) ---

// NewCapture returns a fresh, empty capture rooted at this stream's spool
// directory, for a caller that needs to attach outbound attachment sources
// before building the envelope to Send.
func (s *ExchangeStream) NewCapture() *message.StreamCapture {
	return message.NewStreamCapture(s.spoolDir)
}

// Send writes env, then every attachment registered in the caller's capture,
// in registration order (§4.2 send(msg)). A nil capture sends no attachments.
func (s *ExchangeStream) Send(env *message.MessageEnvelope, capture *message.StreamCapture) error {
	if err := protocol.WriteEnvelope(s.w, env); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	if capture == nil {
		return nil
	}
	for _, desc := range capture.Writers() {
		if err := protocol.WriteAttachment(s.w, desc); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

// SendNull sends the graceful "no message" sentinel envelope.
func (s *ExchangeStream) SendNull() error {
	return s.Send(message.NewNullEnvelope(), nil)
}

// Receive opens a fresh capture, reads one envelope into it, then reads
// exactly as many attachment blocks as the envelope referenced, spooling each
// to a temporary file (§4.2 receive()). A nil envelope with a nil error and
// a nil capture is the legal null-envelope result.
func (s *ExchangeStream) Receive() (*message.MessageEnvelope, *message.StreamCapture, error) {
	capture := s.NewCapture()

	env, err := protocol.ReadEnvelope(s.r, capture)
	if err != nil {
		return nil, nil, err
	}
	if env.IsNull() {
		return nil, nil, nil
	}

	for i := 0; i < capture.Len(); i++ {
		if _, err := protocol.ReadAttachment(s.r, capture); err != nil {
			return nil, nil, err
		}
	}

	return env, capture, nil
}
