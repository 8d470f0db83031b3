package types

import (
	"time"
)

// CodecType identifies the codec of an elementary stream.
type CodecType int

const (
	CodecUnknown CodecType = iota
	CodecPCM
	CodecMP3
	CodecVorbis
)

func (c CodecType) String() string {
	switch c {
	case CodecPCM:
		return "pcm"
	case CodecMP3:
		return "mp3"
	case CodecVorbis:
		return "vorbis"
	default:
		return "unknown"
	}
}

// PCMEncoding describes how PCM samples are stored.
type PCMEncoding int

const (
	PCMInt PCMEncoding = iota
	PCMFloat
	PCMALaw
	PCMMuLaw
)

// SignalSpec describes the shape of a decoded sample buffer.
type SignalSpec struct {
	Rate     int // Sample rate in Hz
	Channels int // Number of interleaved channels
}

// CodecParams holds what a codec needs to decode a track.
// Time stamps of every track are counted in frames, i.e. the time base is 1/SampleRate.
type CodecParams struct {
	Codec         CodecType
	SampleRate    int
	Channels      int
	BitsPerSample int
	Encoding      PCMEncoding
	BlockAlign    int      // Bytes per PCM frame
	NFrames       uint64   // Total frames, 0 when unknown
	ExtraData     [][]byte // Codec setup packets (vorbis headers)
}

// TimeOf converts a timestamp in the track's time base to a duration.
func (p CodecParams) TimeOf(ts uint64) time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	sec := ts / uint64(p.SampleRate)
	rem := ts % uint64(p.SampleRate)
	return time.Duration(sec)*time.Second + time.Duration(rem)*time.Second/time.Duration(p.SampleRate)
}

// TSOf converts a position in milliseconds to the track's time base.
func (p CodecParams) TSOf(ms uint64) uint64 {
	return ms * uint64(p.SampleRate) / 1000
}

// Track is an elementary stream of a container.
type Track struct {
	ID     int
	Params CodecParams
}

// Packet is a codec-level unit of data.
type Packet struct {
	TrackID int
	TS      uint64 // Timestamp of the first frame, in the track's time base
	Dur     uint64 // Duration in frames, 0 when unknown
	Data    []byte
}

// AudioBuffer is a decoded packet as interleaved 16-bit samples.
type AudioBuffer struct {
	Spec    SignalSpec
	Frames  int
	Samples []int16
}

// SeekMode selects how precisely a format reader must seek.
type SeekMode int

const (
	SeekCoarse SeekMode = iota
	SeekAccurate
)

// SeekedTo reports where a format reader landed after a seek.
// Decoding from ActualTS, the frames before RequiredTS have to be dropped.
type SeekedTo struct {
	TrackID    int
	ActualTS   uint64
	RequiredTS uint64
}

// FormatReader demultiplexes a container into packets.
type FormatReader interface {
	// NextPacket returns the next packet, io.EOF at the end of the stream.
	NextPacket() (*Packet, error)

	// Seek repositions the reader so that the next packet contains ts.
	Seek(mode SeekMode, ts uint64) (SeekedTo, error)

	// DefaultTrack returns the track to play, nil when there is none.
	DefaultTrack() *Track

	// Metadata returns metadata found inside the container.
	Metadata() *MetadataLog
}

// Codec decodes the packets of one track.
type Codec interface {
	// Decode decodes a packet. Malformed data is reported as *DecodeError.
	Decode(p *Packet) (*AudioBuffer, error)

	// Reset discards inter-packet state; called after a seek.
	Reset()
}

// DecoderOptions are passed to codec constructors.
type DecoderOptions struct {
	// Verify asks the codec to check the decoded output where it can.
	Verify bool
}

// ProbeResult is the outcome of detecting the container format of a source.
type ProbeResult struct {
	FormatName string
	Format     FormatReader
	// Metadata found outside of the container proper (e.g. leading ID3v2 tags).
	Metadata *MetadataLog
}
