package downloader

import (
	"sync"
	"sync/atomic"
)

// Chunk is a fragment of the fetched resource together with its byte offset.
type Chunk struct {
	Offset int64
	Data   []byte
}

// End returns the offset just past the chunk.
func (c Chunk) End() int64 {
	return c.Offset + int64(len(c.Data))
}

// Subscription receives the chunks published after it was created.
//
// Regular subscriptions are lossy: when the subscriber falls behind by more
// than its buffer, chunks are dropped and counted. Consumers recover the
// missing bytes from the downloader's accumulated buffer.
type Subscription struct {
	hub      *hub
	ch       chan Chunk
	lossless bool
	closed   chan struct{}
	once     sync.Once
	dropped  atomic.Int64
}

// Chunks returns the channel of published chunks. It is closed when the
// download ends or the subscription is closed.
func (s *Subscription) Chunks() <-chan Chunk {
	return s.ch
}

// Dropped returns the number of chunks this subscriber missed.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		// Release a publisher blocked on a lossless send before taking the lock.
		close(s.closed)
		s.hub.remove(s)
	})
}

// hub fans chunks out to subscribers.
type hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscription]struct{})}
}

func (h *hub) subscribe(buffer int, lossless bool) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	s := &Subscription{
		hub:      h,
		ch:       make(chan Chunk, buffer),
		lossless: lossless,
		closed:   make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// publish delivers c to every subscriber and returns how many received it.
// Having no subscribers is not an error.
func (h *hub) publish(c Chunk) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for s := range h.subs {
		if s.lossless {
			select {
			case s.ch <- c:
				delivered++
			case <-s.closed:
			}
			continue
		}

		select {
		case s.ch <- c:
			delivered++
		default:
			s.dropped.Add(1)
		}
	}
	return delivered
}

// close ends the distribution; subscribers drain what is buffered.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
	}
	clear(h.subs)
}
