// Package audioframeringbuffer hands decoded frames from a producer goroutine
// to a real-time audio callback without locks.
package audioframeringbuffer

import (
	"sync/atomic"

	"github.com/drgolem/podstream/pkg/audioframe"
	"github.com/drgolem/podstream/pkg/types"
)

var (
	ErrInsufficientSpace = types.ErrInsufficientSpace
	ErrInsufficientData  = types.ErrInsufficientData
)

// AudioFrameRingBuffer is a lock-free single-producer single-consumer queue
// of AudioFrames. Slots own their sample storage and keep it between laps,
// so neither side allocates once every slot has held a full frame.
//
// WriteFrame must only be called by the producer goroutine, ReadFrame only
// by the consumer.
type AudioFrameRingBuffer struct {
	slots    []audioframe.AudioFrame
	mask     uint64 // len(slots) - 1
	writePos atomic.Uint64
	readPos  atomic.Uint64
}

// New creates a ring holding capacity frames, rounded up to a power of 2.
func New(capacity uint64) *AudioFrameRingBuffer {
	capacity = nextPowerOf2(capacity)
	return &AudioFrameRingBuffer{
		slots: make([]audioframe.AudioFrame, capacity),
		mask:  capacity - 1,
	}
}

// WriteFrame copies f into the next free slot. The caller may reuse
// f.Samples once it returns. It fails with ErrInsufficientSpace when the
// ring is full.
func (rb *AudioFrameRingBuffer) WriteFrame(f audioframe.AudioFrame) error {
	writePos := rb.writePos.Load()
	if writePos-rb.readPos.Load() == uint64(len(rb.slots)) {
		return ErrInsufficientSpace
	}

	slot := &rb.slots[writePos&rb.mask]
	slot.Format = f.Format
	slot.Samples = append(slot.Samples[:0], f.Samples...)

	rb.writePos.Store(writePos + 1)
	return nil
}

// ReadFrame moves the oldest frame into dst, reusing the capacity of
// dst.Samples. It fails with ErrInsufficientData when the ring is empty.
func (rb *AudioFrameRingBuffer) ReadFrame(dst *audioframe.AudioFrame) error {
	readPos := rb.readPos.Load()
	if rb.writePos.Load() == readPos {
		return ErrInsufficientData
	}

	slot := &rb.slots[readPos&rb.mask]
	dst.Format = slot.Format
	dst.Samples = append(dst.Samples[:0], slot.Samples...)

	rb.readPos.Store(readPos + 1)
	return nil
}

// Len returns the number of queued frames.
func (rb *AudioFrameRingBuffer) Len() uint64 {
	readPos := rb.readPos.Load()
	return rb.writePos.Load() - readPos
}

// Free returns the number of frames that can be written without blocking.
func (rb *AudioFrameRingBuffer) Free() uint64 {
	return rb.Size() - rb.Len()
}

// Size returns the capacity in frames.
func (rb *AudioFrameRingBuffer) Size() uint64 {
	return uint64(len(rb.slots))
}

// Reset drops all queued frames. Neither side may be active.
func (rb *AudioFrameRingBuffer) Reset() {
	rb.readPos.Store(0)
	rb.writePos.Store(0)
}

func nextPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
