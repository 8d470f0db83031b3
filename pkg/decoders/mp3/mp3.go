package mp3

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/drgolem/podstream/pkg/types"
)

// Codec decodes MP3 packets with go-mp3.
//
// One go-mp3 decoder is fed frame by frame for as long as decoding
// succeeds, so the bit reservoir and synthesis state carry over between
// packets exactly as in a whole-stream decode.
type Codec struct {
	params types.CodecParams
	feed   bytes.Buffer
	dec    *gomp3.Decoder
	pcm    []byte
}

// NewCodec creates an MP3 codec.
func NewCodec(params types.CodecParams, _ types.DecoderOptions) (*Codec, error) {
	if params.Codec != types.CodecMP3 {
		return nil, fmt.Errorf("mp3: codec %v", params.Codec)
	}
	return &Codec{params: params}, nil
}

// Decode decodes one frame.
func (c *Codec) Decode(p *types.Packet) (*types.AudioBuffer, error) {
	h, err := parseHeader(p.Data)
	if err != nil {
		c.Reset()
		return nil, types.NewDecodeError("mp3: frame header", err)
	}
	if h.sampleRate != c.params.SampleRate || h.channels() != c.params.Channels {
		c.Reset()
		return nil, fmt.Errorf("mp3: frame is %d Hz %d channels, track is %d Hz %d channels: %w",
			h.sampleRate, h.channels(), c.params.SampleRate, c.params.Channels, types.ErrResetRequired)
	}

	pcm, err := c.decodeFrame(p.Data, h)
	if err != nil && c.dec != nil {
		// Start over without the state of earlier frames.
		c.Reset()
		pcm, err = c.decodeFrame(p.Data, h)
	}
	if err != nil {
		c.Reset()
		return nil, types.NewDecodeError("mp3: frame", err)
	}

	frames := h.samplesPerFrame()
	out := make([]int16, frames*h.channels())
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		if h.mono {
			out[i] = left
			continue
		}
		out[2*i] = left
		out[2*i+1] = int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
	}

	return &types.AudioBuffer{
		Spec:    types.SignalSpec{Rate: h.sampleRate, Channels: h.channels()},
		Frames:  frames,
		Samples: out,
	}, nil
}

// decodeFrame hands frame to the go-mp3 decoder and returns its 16-bit
// stereo output. The decoder reads exactly one frame per call; it never
// reads ahead of the feed.
func (c *Codec) decodeFrame(frame []byte, h frameHeader) (pcm []byte, err error) {
	// go-mp3 indexes its tables without bounds checks on corrupt input.
	defer func() {
		if r := recover(); r != nil {
			pcm, err = nil, fmt.Errorf("corrupt frame: %v", r)
		}
	}()

	c.feed.Write(frame)
	if c.dec == nil {
		// The feed is not an io.Seeker, so go-mp3 does not scan for the
		// stream length.
		dec, err := gomp3.NewDecoder(&c.feed)
		if err != nil {
			return nil, err
		}
		c.dec = dec
	}

	// go-mp3 always produces 2 channels of 16 bits.
	size := h.samplesPerFrame() * 4
	if cap(c.pcm) < size {
		c.pcm = make([]byte, size)
	}
	pcm = c.pcm[:size]
	if _, err := io.ReadFull(c.dec, pcm); err != nil {
		return nil, fmt.Errorf("decoded short frame: %w", err)
	}
	return pcm, nil
}

// Reset drops the decoder state; called after a seek.
func (c *Codec) Reset() {
	c.dec = nil
	c.feed.Reset()
}
