package exchange

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/mx-proto/mx/message"
	"github.com/mx-proto/mx/stream"
)

func newExchangePair(t *testing.T) (*stream.ExchangeStream, *stream.ExchangeStream) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return stream.New(a, t.TempDir()), stream.New(b, t.TempDir())
}

// newExchangePairWithConns is like newExchangePair but also returns the raw
// net.Conn ends, for the rare test that must misbehave below the
// ExchangeStream abstraction.
func newExchangePairWithConns(t *testing.T) (*stream.ExchangeStream, *stream.ExchangeStream, net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return stream.New(a, t.TempDir()), stream.New(b, t.TempDir()), a, b
}

func echoHandler(req *message.RequestMessage, _, _ *message.StreamCapture) (*message.ResponseMessage, error) {
	return &message.ResponseMessage{
		CorrelationID: req.CorrelationID,
		Result:        append([]byte(nil), req.Arguments...),
	}, nil
}

// Scenario 1: client / single request.
func TestScenarioClientSingleRequest(t *testing.T) {
	clientSide, serverSide := newExchangePair(t)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- Serve(serverSide, echoHandler, nil)
	}()

	client := NewClient(clientSide)
	req := &message.RequestMessage{
		CorrelationID: message.NewCorrelationID(),
		ServiceName:   "Echo",
		MethodName:    "Say",
		Arguments:     []byte("R1-payload"),
	}
	resp, _, err := client.Exchange(req, nil)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if resp.CorrelationID != req.CorrelationID {
		t.Fatalf("correlation id mismatch")
	}
	if string(resp.Result) != "R1-payload" {
		t.Fatalf("got %q", resp.Result)
	}

	client.Close()
	if err := <-serverErr; err != nil {
		t.Fatalf("Serve returned error: %v", err)
	}
}

// Scenario 2: client / two requests on one connection — no second identify.
func TestScenarioClientTwoRequestsNoReidentify(t *testing.T) {
	clientSide, serverSide := newExchangePair(t)

	var identityLines int
	var mu sync.Mutex
	serverErr := make(chan error, 1)
	go func() {
		// First exchange drives the identity read directly so the test can
		// count how many identity lines the server actually observes.
		identity, err := serverSide.ReadRemoteIdentity()
		if err != nil {
			serverErr <- err
			return
		}
		mu.Lock()
		identityLines++
		mu.Unlock()
		if identity.Kind != message.IdentityClient {
			serverErr <- errors.New("expected client identity")
			return
		}
		if err := serverSide.IdentifyAsServer(); err != nil {
			serverErr <- err
			return
		}
		serverErr <- serveClient(serverSide, echoHandler)
	}()

	client := NewClient(clientSide)
	for i := 0; i < 2; i++ {
		req := &message.RequestMessage{CorrelationID: message.NewCorrelationID(), Arguments: []byte("ping")}
		if _, _, err := client.Exchange(req, nil); err != nil {
			t.Fatalf("Exchange #%d: %v", i, err)
		}
	}
	client.Close()
	<-serverErr

	mu.Lock()
	defer mu.Unlock()
	if identityLines != 1 {
		t.Fatalf("server observed %d identity lines, want 1", identityLines)
	}
}

// Scenario 3: subscriber drains three queued requests then the sentinel.
type fakeQueue struct {
	mu        sync.Mutex
	items     []*message.RequestMessage
	responses []*message.ResponseMessage
}

func (q *fakeQueue) Dequeue() (*message.RequestMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	next := q.items[0]
	q.items = q.items[1:]
	return next, true
}

func (q *fakeQueue) ApplyResponse(resp *message.ResponseMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.responses = append(q.responses, resp)
}

func TestScenarioSubscriberDrainsQueueThenSentinel(t *testing.T) {
	clientSide, serverSide := newExchangePair(t)

	queue := &fakeQueue{items: []*message.RequestMessage{
		{CorrelationID: message.NewCorrelationID(), Arguments: []byte("Q1")},
		{CorrelationID: message.NewCorrelationID(), Arguments: []byte("Q2")},
		{CorrelationID: message.NewCorrelationID(), Arguments: []byte("Q3")},
	}}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- Serve(serverSide, nil, func(message.RemoteIdentity) Queue { return queue })
	}()

	processed, err := RunSubscriber(clientSide, "poll://q", echoHandler)
	if err != nil {
		t.Fatalf("RunSubscriber: %v", err)
	}
	if processed != 3 {
		t.Fatalf("got %d processed, want 3", processed)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if len(queue.responses) != 3 {
		t.Fatalf("got %d responses applied, want 3", len(queue.responses))
	}
	for i, resp := range queue.responses {
		want := []string{"Q1", "Q2", "Q3"}[i]
		if string(resp.Result) != want {
			t.Fatalf("response %d: got %q, want %q", i, resp.Result, want)
		}
	}
}

// Scenario 4: attachment round trip with SHA-256 echo, driven through the
// real Serve/serveClient path so the handler's reqCapture argument — not a
// hand-rolled Receive() call — is what actually supplies the spooled
// attachment bytes.
func TestScenarioAttachmentRoundTrip(t *testing.T) {
	clientSide, serverSide := newExchangePair(t)

	hashingHandler := func(req *message.RequestMessage, reqCapture, _ *message.StreamCapture) (*message.ResponseMessage, error) {
		hashes := make([]string, 0, len(req.Attachments))
		for _, ref := range req.Attachments {
			desc, ok := reqCapture.Get(ref.ID)
			if !ok {
				return nil, fmt.Errorf("attachment %s missing from request capture", ref.ID)
			}
			r, err := desc.Read()
			if err != nil {
				return nil, err
			}
			data, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				return nil, err
			}
			sum := sha256.Sum256(data)
			hashes = append(hashes, hex.EncodeToString(sum[:]))
		}
		result, err := json.Marshal(hashes)
		if err != nil {
			return nil, err
		}
		return &message.ResponseMessage{CorrelationID: req.CorrelationID, Result: result}, nil
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- Serve(serverSide, hashingHandler, nil)
	}()

	client := NewClient(clientSide)
	capture := clientSide.NewCapture()
	emptyRef := capture.Attach(strings.NewReader(""), 0)
	bigPayload := strings.Repeat("x", 200000)
	bigRef := capture.Attach(strings.NewReader(bigPayload), int64(len(bigPayload)))

	req := &message.RequestMessage{
		CorrelationID: message.NewCorrelationID(),
		Arguments:     []byte("upload"),
		Attachments:   []message.AttachmentRef{emptyRef, bigRef},
	}
	resp, _, err := client.Exchange(req, capture)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	client.Close()
	if err := <-serverErr; err != nil {
		t.Fatalf("Serve returned error: %v", err)
	}

	var gotHashes []string
	if err := json.Unmarshal(resp.Result, &gotHashes); err != nil {
		t.Fatalf("decoding hashes: %v", err)
	}
	if len(gotHashes) != 2 {
		t.Fatalf("got %d hashes, want 2", len(gotHashes))
	}

	emptySum := sha256.Sum256(nil)
	bigSum := sha256.Sum256([]byte(bigPayload))
	if gotHashes[0] != hex.EncodeToString(emptySum[:]) {
		t.Fatalf("empty attachment hash mismatch")
	}
	if gotHashes[1] != hex.EncodeToString(bigSum[:]) {
		t.Fatalf("large attachment hash mismatch")
	}
}

// Scenario 5: protocol violation — GREETINGS where HELLO is expected.
func TestScenarioProtocolViolation(t *testing.T) {
	_, serverSide, clientConn, _ := newExchangePairWithConns(t)

	go func() {
		_, _ = clientConn.Write([]byte("MX-CLIENT 1.0\n\nGREETINGS\n"))
		// Drain the server's MX-SERVER reply so its write does not block.
		_, _ = io.Copy(io.Discard, clientConn)
	}()

	identity, err := serverSide.ReadRemoteIdentity()
	if err != nil {
		t.Fatalf("ReadRemoteIdentity: %v", err)
	}
	if identity.Kind != message.IdentityClient {
		t.Fatalf("expected client identity")
	}
	if err := serverSide.IdentifyAsServer(); err != nil {
		t.Fatalf("IdentifyAsServer: %v", err)
	}

	err = serveClient(serverSide, echoHandler)
	var protoErr *stream.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("got %v (%T), want *stream.ProtocolError", err, err)
	}
	if protoErr.Expected != "HELLO" || protoErr.Observed != "GREETINGS" {
		t.Fatalf("got %+v", protoErr)
	}
}

// Scenario 6: TLS-style silent close while client awaits PROCEED.
func TestScenarioSilentCloseDuringProceed(t *testing.T) {
	clientSide, serverSide := newExchangePair(t)

	go func() {
		if _, err := serverSide.ReadRemoteIdentity(); err != nil {
			return
		}
		if err := serverSide.IdentifyAsServer(); err != nil {
			return
		}
		// Reads HELLO but never sends PROCEED: simulates a TLS trust
		// rejection closing the connection while the client awaits PROCEED.
		if err := serverSide.ExpectHello(); err != nil {
			return
		}
		serverSide.Close()
	}()

	client := NewClient(clientSide)
	_, _, err := client.Exchange(&message.RequestMessage{CorrelationID: message.NewCorrelationID()}, nil)

	var initErr *stream.ConnectionInitializationError
	if !errors.As(err, &initErr) {
		t.Fatalf("got %v (%T), want *stream.ConnectionInitializationError", err, err)
	}
	var authErr *stream.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected an AuthenticationError in the chain, got %v", err)
	}
}
