// Package pcm decodes uncompressed and G.711 companded sample data.
package pcm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zaf/g711"

	"github.com/drgolem/podstream/pkg/types"
)

// Codec converts raw PCM packets to interleaved 16-bit samples.
type Codec struct {
	params     types.CodecParams
	frameBytes int
}

// NewCodec validates params and creates a PCM codec.
func NewCodec(params types.CodecParams, _ types.DecoderOptions) (*Codec, error) {
	if params.Channels <= 0 || params.SampleRate <= 0 {
		return nil, fmt.Errorf("pcm: invalid signal spec %d Hz, %d channels", params.SampleRate, params.Channels)
	}

	var sampleBytes int
	switch params.Encoding {
	case types.PCMInt:
		switch params.BitsPerSample {
		case 8, 16, 24, 32:
			sampleBytes = params.BitsPerSample / 8
		default:
			return nil, types.Unsupported(fmt.Sprintf("pcm: %d-bit integer samples", params.BitsPerSample))
		}
	case types.PCMFloat:
		switch params.BitsPerSample {
		case 32, 64:
			sampleBytes = params.BitsPerSample / 8
		default:
			return nil, types.Unsupported(fmt.Sprintf("pcm: %d-bit float samples", params.BitsPerSample))
		}
	case types.PCMALaw, types.PCMMuLaw:
		if params.BitsPerSample != 8 {
			return nil, types.Unsupported(fmt.Sprintf("pcm: %d-bit G.711 samples", params.BitsPerSample))
		}
		sampleBytes = 1
	default:
		return nil, types.Unsupported(fmt.Sprintf("pcm: encoding %d", params.Encoding))
	}

	frameBytes := sampleBytes * params.Channels
	if params.BlockAlign != 0 && params.BlockAlign != frameBytes {
		return nil, fmt.Errorf("pcm: block align %d does not match %d channels of %d bits",
			params.BlockAlign, params.Channels, params.BitsPerSample)
	}

	return &Codec{params: params, frameBytes: frameBytes}, nil
}

// Decode converts one packet. Packets must hold whole frames.
func (c *Codec) Decode(p *types.Packet) (*types.AudioBuffer, error) {
	data := p.Data
	if len(data)%c.frameBytes != 0 {
		return nil, types.NewDecodeError(
			fmt.Sprintf("pcm: packet of %d bytes is not a multiple of the %d-byte frame", len(data), c.frameBytes), nil)
	}

	frames := len(data) / c.frameBytes
	out := make([]int16, frames*c.params.Channels)

	switch c.params.Encoding {
	case types.PCMInt:
		decodeInt(out, data, c.params.BitsPerSample)
	case types.PCMFloat:
		decodeFloat(out, data, c.params.BitsPerSample)
	case types.PCMALaw:
		decodeLE16(out, g711.DecodeAlaw(data))
	case types.PCMMuLaw:
		decodeLE16(out, g711.DecodeUlaw(data))
	}

	return &types.AudioBuffer{
		Spec:    types.SignalSpec{Rate: c.params.SampleRate, Channels: c.params.Channels},
		Frames:  frames,
		Samples: out,
	}, nil
}

// Reset is a no-op: PCM packets are independent.
func (c *Codec) Reset() {}

func decodeInt(out []int16, data []byte, bits int) {
	switch bits {
	case 8:
		// 8-bit WAV samples are unsigned.
		for i, b := range data {
			out[i] = int16(int(b)-128) << 8
		}
	case 16:
		decodeLE16(out, data)
	case 24:
		for i := range out {
			b := data[i*3:]
			out[i] = int16(uint16(b[1]) | uint16(b[2])<<8)
		}
	case 32:
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint32(data[i*4:]) >> 16)
		}
	}
}

func decodeLE16(out []int16, data []byte) {
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
}

func decodeFloat(out []int16, data []byte, bits int) {
	for i := range out {
		var v float64
		if bits == 32 {
			v = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		} else {
			v = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
		out[i] = FloatToInt16(v)
	}
}

// FloatToInt16 converts a sample in [-1, 1] to 16 bits, clipping outside values.
func FloatToInt16(v float64) int16 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= 1:
		return math.MaxInt16
	case v <= -1:
		return math.MinInt16
	}
	return int16(math.Round(v * math.MaxInt16))
}
