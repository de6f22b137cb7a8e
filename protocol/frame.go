// Package protocol implements the mx wire alphabet: text lines, a
// deflate-compressed BSON envelope, and length-prefixed attachment blocks.
//
// It solves the same "how does the reader know where one logical unit ends
// and the next begins" problem the teacher mini-rpc protocol solves with a
// fixed header — here the boundaries are a line break, a DEFLATE stream
// close, and an explicit 8-byte length prefix, one per alphabet element.
package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mx-proto/mx/message"
)

// AttachmentHeaderSize is the fixed portion of an attachment block:
// 16 bytes of id followed by an 8-byte little-endian signed length.
const AttachmentHeaderSize = 16 + 8

// WriteLine writes text followed by a single line break, then flushes w. The
// blank line that follows every identity line on the wire (§4.2) is written
// by the caller as a second, empty WriteLine.
func WriteLine(w *bufio.Writer, text string) error {
	if _, err := w.WriteString(text); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// ReadLine returns the next non-empty line, skipping blank lines in between
// (§4.1: "a reader of 'the next line' returns the first non-empty line").
// io.EOF is returned once the stream ends without producing a non-empty line.
func ReadLine(r *bufio.Reader) (string, error) {
	for {
		line, err := r.ReadString('\n')
		trimmed := trimEOL(line)
		if trimmed != "" {
			return trimmed, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// WriteAttachmentHeader writes the fixed 24-byte id+length header of an
// attachment block.
func WriteAttachmentHeader(w io.Writer, id message.AttachmentID, length int64) error {
	var buf [AttachmentHeaderSize]byte
	copy(buf[0:16], id[:])
	binary.LittleEndian.PutUint64(buf[16:24], uint64(length))
	_, err := w.Write(buf[:])
	return err
}

// ReadAttachmentHeader reads the fixed 24-byte id+length header of an
// attachment block.
func ReadAttachmentHeader(r io.Reader) (message.AttachmentID, int64, error) {
	var buf [AttachmentHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		var id message.AttachmentID
		return id, 0, err
	}
	var id message.AttachmentID
	copy(id[:], buf[0:16])
	length := int64(binary.LittleEndian.Uint64(buf[16:24]))
	if length < 0 {
		return id, 0, fmt.Errorf("protocol: negative attachment length %d for %s", length, id)
	}
	return id, length, nil
}

// WriteAttachment writes one complete attachment block for desc directly to
// w, uncompressed, immediately after the envelope's DEFLATE stream has been
// closed (§4.1 compression framing rule).
func WriteAttachment(w io.Writer, desc *message.AttachmentDescriptor) error {
	if err := WriteAttachmentHeader(w, desc.ID, desc.Length); err != nil {
		return err
	}
	return desc.WriteTo(w)
}

// ReadAttachment reads one complete attachment block from r and spools its
// payload into capture via the matching descriptor. Returns the attachment id
// read, for logging/diagnostics.
func ReadAttachment(r io.Reader, capture *message.StreamCapture) (message.AttachmentID, error) {
	id, length, err := ReadAttachmentHeader(r)
	if err != nil {
		return id, err
	}
	if err := capture.SpoolReceivedBlock(id, length, r); err != nil {
		return id, err
	}
	return id, nil
}
