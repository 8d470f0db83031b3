// Package audioframe holds the blocks of decoded audio handed from a
// producer goroutine to an audio device callback.
package audioframe

import (
	"encoding/binary"
	"time"
)

// BytesPerSample is the size of an encoded sample. Frames always carry
// signed 16-bit samples.
const BytesPerSample = 2

type FrameFormat struct {
	SampleRate uint32 // Sample rate in Hz
	Channels   uint8  // Number of interleaved channels
}

// AudioFrame is a block of interleaved 16-bit samples.
type AudioFrame struct {
	Format  FrameFormat
	Samples []int16
}

// Frames returns the number of sample frames, one sample per channel.
func (af *AudioFrame) Frames() int {
	if af.Format.Channels == 0 {
		return 0
	}
	return len(af.Samples) / int(af.Format.Channels)
}

// Duration returns the play time of the frame.
func (af *AudioFrame) Duration() time.Duration {
	if af.Format.SampleRate == 0 {
		return 0
	}
	return time.Duration(af.Frames()) * time.Second / time.Duration(af.Format.SampleRate)
}

// PutBytes encodes Samples[from:] as little-endian into dst, as many as fit.
// It returns the number of samples written.
func (af *AudioFrame) PutBytes(dst []byte, from int) int {
	if from >= len(af.Samples) {
		return 0
	}
	n := min(len(af.Samples)-from, len(dst)/BytesPerSample)
	for i := range n {
		binary.LittleEndian.PutUint16(dst[i*BytesPerSample:], uint16(af.Samples[from+i]))
	}
	return n
}

// EncodeSamples appends samples to dst as little-endian bytes.
func EncodeSamples(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// FromBytes decodes little-endian 16-bit samples into a frame. A trailing
// odd byte is ignored.
func FromBytes(format FrameFormat, data []byte) AudioFrame {
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return AudioFrame{Format: format, Samples: samples}
}
