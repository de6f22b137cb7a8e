package message

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// AttachmentID is the 128-bit identifier of an attachment/data stream, unique
// within a single envelope.
type AttachmentID [16]byte

// NewAttachmentID returns a fresh random attachment id.
func NewAttachmentID() AttachmentID {
	var id AttachmentID
	_, _ = rand.Read(id[:])
	return id
}

func (id AttachmentID) String() string {
	return hex.EncodeToString(id[:])
}

// AttachmentRef is the wire-visible reference to an attachment: its id and
// byte length, embedded inside a RequestMessage/ResponseMessage. The actual
// bytes travel out-of-band as an attachment block (§4.1), not inside the
// envelope document.
type AttachmentRef struct {
	ID     AttachmentID `bson:"id"`
	Length int64        `bson:"length"`
}

type attachmentState int

const (
	stateUnread attachmentState = iota
	stateConsumed
)

// ErrAttachmentConsumed is returned by Read when the descriptor's single
// allowed read has already happened.
var ErrAttachmentConsumed = errors.New("message: attachment already consumed")

// AttachmentDescriptor (the spec's "DataStream") is either a sender-side
// writer that knows how to emit its own bytes, or a receiver-side handle
// bound to a spooled temporary file. Receiver-side descriptors are single-use:
// Read may be called exactly once; a second call fails deterministically, and
// the backing temp file is deleted when the reader returned by the first Read
// is closed, however much of it was read.
type AttachmentDescriptor struct {
	ID     AttachmentID
	Length int64

	mu       sync.Mutex
	state    attachmentState
	source   io.Reader // sender-side: produces the bytes to write
	tempFile string    // receiver-side: path to the spooled bytes
}

// WriteTo copies a sender-side descriptor's bytes to w. It is only valid on
// descriptors created via StreamCapture.Attach.
func (d *AttachmentDescriptor) WriteTo(w io.Writer) error {
	if d.source == nil {
		return fmt.Errorf("message: attachment %s has no source to write", d.ID)
	}
	_, err := io.Copy(w, d.source)
	return err
}

// deleteOnCloseReader wraps an *os.File so that Close both closes and deletes
// the underlying temp file, regardless of how much was read.
type deleteOnCloseReader struct {
	*os.File
}

func (r deleteOnCloseReader) Close() error {
	closeErr := r.File.Close()
	removeErr := os.Remove(r.File.Name())
	if closeErr != nil {
		return closeErr
	}
	return removeErr
}

// Read returns a single-use reader over the receiver-side spooled bytes.
// The backing temp file is deleted as soon as the returned reader is closed.
// Calling Read a second time returns ErrAttachmentConsumed.
func (d *AttachmentDescriptor) Read() (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == stateConsumed {
		return nil, ErrAttachmentConsumed
	}
	if d.tempFile == "" {
		return nil, fmt.Errorf("message: attachment %s has no spooled bytes to read", d.ID)
	}

	f, err := os.Open(d.tempFile)
	if err != nil {
		return nil, err
	}
	d.state = stateConsumed
	return deleteOnCloseReader{f}, nil
}

// StreamCapture is the per-exchange registry of attachments discovered while
// serializing or deserializing a single envelope. Exactly one capture is
// active per Send/Receive; it is threaded explicitly through the codec calls
// rather than held as ambient mutable package state (§9 Design Notes), which
// keeps the process-wide envelope codec safe for concurrent use.
type StreamCapture struct {
	mu          sync.Mutex
	order       []AttachmentID
	descriptors map[AttachmentID]*AttachmentDescriptor
	spoolDir    string
}

// NewStreamCapture returns an empty capture. spoolDir is the directory new
// receiver-side temp files are created in; an empty string uses os.TempDir().
func NewStreamCapture(spoolDir string) *StreamCapture {
	return &StreamCapture{
		descriptors: make(map[AttachmentID]*AttachmentDescriptor),
		spoolDir:    spoolDir,
	}
}

// Attach registers a sender-side attachment backed by source, returning the
// AttachmentRef to embed in the envelope being built. Registration order is
// preserved and is the order attachment blocks are written on the wire.
func (c *StreamCapture) Attach(source io.Reader, length int64) AttachmentRef {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := NewAttachmentID()
	c.descriptors[id] = &AttachmentDescriptor{ID: id, Length: length, source: source}
	c.order = append(c.order, id)
	return AttachmentRef{ID: id, Length: length}
}

// RegisterReceived is called by the envelope codec as it deserializes each
// AttachmentRef found in the envelope graph, creating a placeholder
// descriptor to be bound to spooled bytes once the matching attachment block
// arrives.
func (c *StreamCapture) RegisterReceived(ref AttachmentRef) *AttachmentDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	desc := &AttachmentDescriptor{ID: ref.ID, Length: ref.Length}
	c.descriptors[ref.ID] = desc
	c.order = append(c.order, ref.ID)
	return desc
}

// Writers returns the sender-side descriptors in registration order, for the
// frame codec to write attachment blocks after the envelope.
func (c *StreamCapture) Writers() []*AttachmentDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*AttachmentDescriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.descriptors[id])
	}
	return out
}

// Len reports how many descriptors are registered — the exact number of
// attachment blocks the receiver must read before the exchange step ends.
func (c *StreamCapture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Get looks up a descriptor by id, for a handler that wants to read a
// received attachment.
func (c *StreamCapture) Get(id AttachmentID) (*AttachmentDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.descriptors[id]
	return d, ok
}

// SpoolReceivedBlock is called by the frame codec once it has read a complete
// attachment block off the wire: it spools `length` bytes from r to a
// temporary file and binds the matching descriptor to it. An id with no
// matching descriptor is a fatal protocol error — the sender and receiver
// have disagreed about what the envelope referenced.
func (c *StreamCapture) SpoolReceivedBlock(id AttachmentID, length int64, r io.Reader) error {
	c.mu.Lock()
	desc, ok := c.descriptors[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("message: attachment block %s does not match any descriptor in this envelope", id)
	}

	f, err := os.CreateTemp(c.spoolDirOrDefault(), "mx-attachment-"+id.String()+"-*")
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.CopyN(f, r, length); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("message: truncated attachment %s: %w", id, err)
	}

	desc.tempFile = f.Name()
	return nil
}

func (c *StreamCapture) spoolDirOrDefault() string {
	if c.spoolDir != "" {
		return c.spoolDir
	}
	return os.TempDir()
}

// CleanupUnread removes temp files for descriptors that were never consumed,
// used when a connection closes with attachments still pending.
func (c *StreamCapture) CleanupUnread() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.descriptors {
		d.mu.Lock()
		if d.state == stateUnread && d.tempFile != "" {
			os.Remove(d.tempFile)
			d.state = stateConsumed
		}
		d.mu.Unlock()
	}
}
