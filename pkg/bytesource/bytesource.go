// Package bytesource turns chunks that arrive over time into a synchronous,
// seekable byte source for decoders.
package bytesource

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

var (
	// ErrUnsupportedSeek is returned for seeks before the start of the stream.
	ErrUnsupportedSeek = errors.New("bytesource: unsupported seek")

	// ErrClosed is returned by Read after the source was closed.
	ErrClosed = errors.New("bytesource: source closed")
)

// Source implements io.ReadSeeker over the chunks of a Mailbox.
//
// Read blocks until cursor+len(p) bytes have arrived, or the producer closed the
// mailbox. All bytes ever received are kept, so a decoder can seek backwards
// freely; seeking forward is limited to what has been received so far.
//
// Read and Seek must be called from a single goroutine. Close may be called
// from any goroutine and unblocks a pending Read.
type Source struct {
	mailbox *Mailbox
	buf     []byte
	cursor  int64
	eof     bool

	received atomic.Int64
}

// New creates a Source reading from m.
func New(m *Mailbox) *Source {
	return &Source{mailbox: m}
}

// NewPair creates a mailbox of the given capacity and the Source reading it.
func NewPair(capacity int) (*Source, *Mailbox) {
	m := NewMailbox(capacity)
	return New(m), m
}

// Read copies len(p) bytes starting at the cursor.
//
// When the producer finished before enough bytes arrived, Read returns the
// remaining bytes with io.ErrUnexpectedEOF, and 0, io.EOF at the end.
func (s *Source) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	need := s.cursor + int64(len(p))
	for need > int64(len(s.buf)) && !s.eof {
		if err := s.pull(); err != nil {
			return 0, err
		}
	}

	avail := int64(len(s.buf)) - s.cursor
	if avail <= 0 {
		return 0, io.EOF
	}
	if avail < int64(len(p)) {
		n := copy(p, s.buf[s.cursor:])
		s.cursor += int64(n)
		return n, io.ErrUnexpectedEOF
	}

	n := copy(p, s.buf[s.cursor:need])
	s.cursor = need
	return n, nil
}

// pull appends one more chunk from the mailbox.
func (s *Source) pull() error {
	chunk, ok, closed := s.mailbox.receive()
	if closed {
		return ErrClosed
	}
	if !ok {
		s.eof = true
		return nil
	}
	s.buf = append(s.buf, chunk...)
	s.received.Store(int64(len(s.buf)))
	return nil
}

// Seek moves the cursor. Targets past the received bytes are clamped to the
// received length; targets before zero fail with ErrUnsupportedSeek.
func (s *Source) Seek(offset int64, whence int) (int64, error) {
	length := int64(len(s.buf))

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.cursor + offset
	case io.SeekEnd:
		target = length + offset
	default:
		return s.cursor, fmt.Errorf("bytesource: invalid whence %d", whence)
	}

	if target < 0 {
		return s.cursor, ErrUnsupportedSeek
	}
	s.cursor = min(target, length)
	return s.cursor, nil
}

// IsSeekable reports true; see Seek for the limits.
func (s *Source) IsSeekable() bool {
	return true
}

// ByteLen reports an unknown length: the true length is only known once the
// download completed.
func (s *Source) ByteLen() (int64, bool) {
	return 0, false
}

// Received returns the number of bytes received so far. Safe for concurrent use.
func (s *Source) Received() int64 {
	return s.received.Load()
}

// Close releases the producer and any pending Read.
func (s *Source) Close() error {
	s.mailbox.closeReceiver()
	return nil
}
