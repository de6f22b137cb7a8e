package stream

import "fmt"

// ProtocolError is a wire-format violation: an unknown identity token, a
// missing subscription URI, an unexpected token where HELLO/PROCEED was
// required, an unknown attachment id, or a truncated attachment. The state
// machine never attempts to continue after a ProtocolError — the connection
// is considered poisoned (§7).
type ProtocolError struct {
	Expected string
	Observed string
	Detail   string
}

func (e *ProtocolError) Error() string {
	if e.Expected == "" && e.Observed == "" {
		return fmt.Sprintf("stream: protocol error: %s", e.Detail)
	}
	return fmt.Sprintf("stream: protocol error: expected %q, observed %q", e.Expected, e.Observed)
}

func newUnexpectedToken(expected, observed string) *ProtocolError {
	return &ProtocolError{Expected: expected, Observed: observed}
}

// ConnectionInitializationError wraps any failure raised during the
// client-side identify/hello/proceed sequence (§4.3.1 steps 1-3). It is
// retryable on a fresh connection, unlike a failure mid-request.
type ConnectionInitializationError struct {
	Cause error
}

func (e *ConnectionInitializationError) Error() string {
	return fmt.Sprintf("stream: connection initialization failed: %v", e.Cause)
}

func (e *ConnectionInitializationError) Unwrap() error { return e.Cause }

// AuthenticationError is raised distinctly from a generic ProtocolError when
// the peer closes the stream while the client awaits PROCEED — in the target
// deployment this strongly indicates a TLS trust rejection upstream (§7).
type AuthenticationError struct {
	Cause error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("stream: authentication-like failure awaiting PROCEED: %v", e.Cause)
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }
