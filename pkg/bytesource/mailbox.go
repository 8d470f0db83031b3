package bytesource

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrReceiverClosed is returned by Send once the receiving Source was closed.
	ErrReceiverClosed = errors.New("bytesource: receiver closed")

	// ErrMailboxClosed is returned by Send after CloseSend.
	ErrMailboxClosed = errors.New("bytesource: mailbox closed")
)

// DefaultMailboxCapacity is the number of chunks a mailbox holds before Send blocks.
const DefaultMailboxCapacity = 1

// Mailbox is a bounded queue of byte chunks between one producer and one Source.
//
// The producer calls Send and finally CloseSend. The consumer side is owned by
// the Source; closing the Source releases a producer blocked in Send.
type Mailbox struct {
	chunks chan []byte
	done   chan struct{} // closed when the receiver goes away

	mu         sync.Mutex
	sendClosed bool
	doneOnce   sync.Once
}

// NewMailbox creates a mailbox holding up to capacity chunks.
func NewMailbox(capacity int) *Mailbox {
	if capacity < 1 {
		capacity = DefaultMailboxCapacity
	}
	return &Mailbox{
		chunks: make(chan []byte, capacity),
		done:   make(chan struct{}),
	}
}

// Send queues a chunk, blocking while the mailbox is full.
// The chunk must not be modified after Send returns.
func (m *Mailbox) Send(ctx context.Context, chunk []byte) error {
	m.mu.Lock()
	closed := m.sendClosed
	m.mu.Unlock()
	if closed {
		return ErrMailboxClosed
	}

	select {
	case <-m.done:
		return ErrReceiverClosed
	default:
	}

	select {
	case m.chunks <- chunk:
		return nil
	case <-m.done:
		return ErrReceiverClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseSend marks the end of the stream. Chunks already queued stay readable.
// It must be called by the producer only, once it stopped calling Send.
func (m *Mailbox) CloseSend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendClosed {
		return
	}
	m.sendClosed = true
	close(m.chunks)
}

// Done is closed when the receiving side has been closed.
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

// receive blocks for the next chunk; ok is false once the producer closed the
// mailbox and all chunks were drained. closed reports receiver shutdown.
func (m *Mailbox) receive() (chunk []byte, ok bool, closed bool) {
	select {
	case <-m.done:
		return nil, false, true
	default:
	}
	select {
	case c, ok := <-m.chunks:
		return c, ok, false
	case <-m.done:
		return nil, false, true
	}
}

func (m *Mailbox) closeReceiver() {
	m.doneOnce.Do(func() { close(m.done) })
}
