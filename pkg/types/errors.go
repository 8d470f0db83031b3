package types

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported indicates an unsupported container, codec or feature.
	ErrUnsupported = errors.New("unsupported format")

	// ErrNoStreams indicates a container without a playable track.
	ErrNoStreams = errors.New("no audio streams")

	// ErrResetRequired indicates the codec must be rebuilt before decoding further.
	ErrResetRequired = errors.New("decoder reset required")

	// ErrSeekOutOfRange indicates a seek target that cannot be reached.
	ErrSeekOutOfRange = errors.New("seek position out of range")
)

// DecodeError reports malformed data in a single packet.
// Decode errors are transient: the next packet may decode fine.
type DecodeError struct {
	Msg string
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode error: %s: %v", e.Msg, e.Err)
	}
	return "decode error: " + e.Msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError wraps err as a transient decode error.
func NewDecodeError(msg string, err error) error {
	return &DecodeError{Msg: msg, Err: err}
}

// LimitError reports that a resource limit was exceeded.
type LimitError struct {
	Msg string
}

func (e *LimitError) Error() string {
	return "limit exceeded: " + e.Msg
}

// Unsupported returns an ErrUnsupported error describing what is not supported.
func Unsupported(what string) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, what)
}

// IsDecodeError reports whether err is a transient decode error.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
