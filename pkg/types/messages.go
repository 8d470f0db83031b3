package types

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// MediaSource is a synchronous, seekable byte source of possibly unknown length.
type MediaSource interface {
	io.ReadSeeker
	io.Closer

	// IsSeekable reports whether Seek is supported.
	IsSeekable() bool

	// ByteLen returns the total length when it is known.
	ByteLen() (int64, bool)
}

// PlaybackInstruction is a command sent from a controller to the render loop.
// Implementations: NewStream, Play, Pause, SetSpeed, SeekTo.
type PlaybackInstruction interface {
	playbackInstruction()
}

// NewStream replaces the active stream with one decoded from Source.
type NewStream struct {
	Source MediaSource
	Name   string
}

// Play resumes the output sink.
type Play struct{}

// Pause pauses the output sink.
type Pause struct{}

// SetSpeed changes the playback rate of the output sink.
type SetSpeed struct {
	Factor float64
}

// SeekTo asks the active decoder to continue from PositionMs.
type SeekTo struct {
	PositionMs uint64
}

func (NewStream) playbackInstruction() {}
func (Play) playbackInstruction()      {}
func (Pause) playbackInstruction()     {}
func (SetSpeed) playbackInstruction()  {}
func (SeekTo) playbackInstruction()    {}

func (i NewStream) String() string { return fmt.Sprintf("NewStream(%s)", i.Name) }
func (Play) String() string        { return "Play" }
func (Pause) String() string       { return "Pause" }
func (i SetSpeed) String() string  { return fmt.Sprintf("SetSpeed(%.2f)", i.Factor) }
func (i SeekTo) String() string    { return fmt.Sprintf("SeekTo(%dms)", i.PositionMs) }

// ReceivedData is an event sent from the decoder to the controller.
// Implementations: Timestamp, Metadata.
type ReceivedData interface {
	receivedData()
}

// Timestamp carries the timestamp of the packet that was just decoded.
// TS is in the track's native time base, Position is TS converted to time.
type Timestamp struct {
	TS       uint64
	Position time.Duration
}

// Metadata carries the latest metadata revision found while probing a stream.
type Metadata struct {
	Revision *MetadataRevision
}

func (Timestamp) receivedData() {}
func (Metadata) receivedData()  {}

// StreamKind selects how the bytes of a stream are sourced.
type StreamKind int

const (
	StreamFile StreamKind = iota
	StreamURL
)

// Stream is a File(path) or Url(address) selection.
type Stream struct {
	Kind StreamKind
	Path string
	URL  *url.URL
}

// FileStream selects a local file.
func FileStream(path string) Stream {
	return Stream{Kind: StreamFile, Path: path}
}

// URLStream selects a remote resource.
func URLStream(u *url.URL) Stream {
	return Stream{Kind: StreamURL, URL: u}
}

// ParseStream treats http and https addresses as URL streams and anything else as a file path.
func ParseStream(arg string) (Stream, error) {
	lower := strings.ToLower(arg)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		u, err := url.Parse(arg)
		if err != nil {
			return Stream{}, fmt.Errorf("invalid url %q: %w", arg, err)
		}
		return URLStream(u), nil
	}
	if arg == "" {
		return Stream{}, fmt.Errorf("empty stream location")
	}
	return FileStream(arg), nil
}

func (s Stream) String() string {
	if s.Kind == StreamURL && s.URL != nil {
		return s.URL.String()
	}
	return s.Path
}
