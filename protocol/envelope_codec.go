package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mx-proto/mx/message"
)

// WriteEnvelope opens a DEFLATE compressor over w, BSON-encodes env into it,
// then flushes and closes the compressor — leaving w itself open, per the
// compression framing rule in §4.1. Attachment writers referenced by env must
// already be registered in capture by the caller before this is called
// (message.StreamCapture.Attach); WriteEnvelope does not discover them.
func WriteEnvelope(w io.Writer, env *message.MessageEnvelope) error {
	doc, err := bson.Marshal(wireEnvelope{
		Kind:     int(env.Kind),
		Request:  env.Request,
		Response: env.Response,
	})
	if err != nil {
		return fmt.Errorf("protocol: marshal envelope: %w", err)
	}

	fw, err := flate.NewWriter(w, flate.DefaultCompression)
	if err != nil {
		return fmt.Errorf("protocol: open deflate writer: %w", err)
	}
	if _, err := fw.Write(doc); err != nil {
		return fmt.Errorf("protocol: write envelope body: %w", err)
	}
	// Close flushes and terminates the DEFLATE stream without touching w.
	if err := fw.Close(); err != nil {
		return fmt.Errorf("protocol: close deflate writer: %w", err)
	}
	return nil
}

// ReadEnvelope opens a DEFLATE decompressor over r, BSON-decodes one envelope
// from it, and registers every attachment reference it finds into capture so
// the exchange stream knows exactly how many attachment blocks follow. The
// null sentinel (§4.2 receive()) is not a read failure here: it arrives as an
// ordinary envelope with Kind == message.KindNull, which this function
// decodes and returns like any other envelope, leaving the nil-collapsing
// (MessageEnvelope.IsNull) to its callers.
func ReadEnvelope(r io.Reader, capture *message.StreamCapture) (*message.MessageEnvelope, error) {
	fr := flate.NewReader(r)
	defer fr.Close()

	doc, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("protocol: read envelope body: %w", err)
	}

	var wire wireEnvelope
	if err := bson.Unmarshal(doc, &wire); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}

	env := &message.MessageEnvelope{
		Kind:     message.EnvelopeKind(wire.Kind),
		Request:  wire.Request,
		Response: wire.Response,
	}

	switch env.Kind {
	case message.KindRequest:
		if env.Request == nil {
			return nil, fmt.Errorf("protocol: envelope tagged KindRequest carries no request")
		}
		for _, ref := range env.Request.Attachments {
			capture.RegisterReceived(ref)
		}
	case message.KindResponse:
		if env.Response == nil {
			return nil, fmt.Errorf("protocol: envelope tagged KindResponse carries no response")
		}
		for _, ref := range env.Response.Attachments {
			capture.RegisterReceived(ref)
		}
	case message.KindNull:
		// No payload, no attachments: the graceful "no message" sentinel.
	default:
		return nil, fmt.Errorf("protocol: unknown envelope kind %d", wire.Kind)
	}

	return env, nil
}

// wireEnvelope is the closed, explicit BSON document shape actually written
// to the wire: a Kind discriminator plus at most one populated payload field,
// never an open type-name-with-assembly-hint tag (§9 Design Notes /
// REDESIGN FLAGS).
type wireEnvelope struct {
	Kind     int                      `bson:"kind"`
	Request  *message.RequestMessage  `bson:"request,omitempty"`
	Response *message.ResponseMessage `bson:"response,omitempty"`
}

// EncodeEnvelopeBytes is a convenience used by tests and by components that
// need the raw compressed bytes without an io.Writer (e.g. to size a buffer
// before sending). It is not used by the exchange stream itself.
func EncodeEnvelopeBytes(env *message.MessageEnvelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
