package types

import (
	"time"

	"github.com/drgolem/ringbuffer"
)

// Source is a pull-based stream of interleaved 16-bit samples.
// It is what an output sink consumes; the streaming decoder implements it.
type Source interface {
	// NextSample returns the next interleaved sample.
	// ok is false once the stream is exhausted or failed; see Err.
	NextSample() (sample int16, ok bool)

	// CurrentFrameLen returns the number of samples in the current decoded packet.
	CurrentFrameLen() int

	// Channels returns the channel count of the current packet.
	Channels() int

	// SampleRate returns the sample rate of the current packet in Hz.
	SampleRate() int

	// TotalDuration reports the stream duration when it is known.
	TotalDuration() (time.Duration, bool)

	// Err returns the error that ended the stream, nil on a clean end.
	Err() error
}

// PlaybackState is the state of the render loop.
type PlaybackState int

const (
	StateIdle PlaybackState = iota
	StatePlaying
	StatePaused
)

func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// PlaybackStatus holds playback information reported by the render loop.
type PlaybackStatus struct {
	SessionID   string        // Id of the active stream session, empty when idle
	StreamName  string        // Display name of the active stream
	State       PlaybackState // Idle, playing or paused
	Speed       float64       // Playback rate factor (1.0 = normal)
	SampleRate  int           // Sample rate of the last decoded packet in Hz
	Channels    int           // Channel count of the last decoded packet
	Position    time.Duration // Position of the last decoded packet
	ElapsedTime time.Duration // Wall-clock time since the stream was started
}

// PlaybackMonitor is an interface for types that can report playback status.
type PlaybackMonitor interface {
	GetPlaybackStatus() PlaybackStatus
}

// Re-export common ringbuffer errors from github.com/drgolem/ringbuffer
// so the frame ring used by output sinks reports the same values.
var (
	// ErrInsufficientSpace indicates the ringbuffer doesn't have enough space for the write operation
	ErrInsufficientSpace = ringbuffer.ErrInsufficientSpace

	// ErrInsufficientData indicates the ringbuffer doesn't have enough data for the read operation
	ErrInsufficientData = ringbuffer.ErrInsufficientData
)
