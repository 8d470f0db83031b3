// Package output defines the audio devices the render loop plays through.
package output

import (
	"github.com/drgolem/podstream/pkg/types"
)

// EndFunc is called once when a sink has played all of its source. err is
// the error that ended the source, nil at a clean end of stream.
type EndFunc func(err error)

// Sink plays a single source. A new sink starts playing at speed 1.0.
type Sink interface {
	Play()
	Pause()

	// SetSpeed changes the playback rate. Factors that are not positive are ignored.
	SetSpeed(factor float64)

	// Close stops playback and releases the device session without calling
	// the end callback. It does not close the source.
	Close() error
}

// Device is an initialized output device handle.
type Device interface {
	// NewSink starts playing src. onEnd may be nil.
	NewSink(src types.Source, onEnd EndFunc) (Sink, error)

	// Close releases the device. Sinks must be closed first.
	Close() error
}

// Backends lists the names accepted by the play command.
var Backends = []string{"beep", "portaudio"}
