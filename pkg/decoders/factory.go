// Package decoders detects the container format of a media source and
// creates the codec for its default track.
package decoders

import (
	"errors"
	"fmt"
	"io"

	"github.com/drgolem/podstream/pkg/decoders/mp3"
	"github.com/drgolem/podstream/pkg/decoders/pcm"
	"github.com/drgolem/podstream/pkg/decoders/vorbis"
	"github.com/drgolem/podstream/pkg/decoders/wav"
	"github.com/drgolem/podstream/pkg/types"
)

// probeSize is the number of leading bytes the formats are matched against.
const probeSize = 16

type format struct {
	name  string
	match func(head []byte) bool
	open  func(src io.ReadSeeker) (types.FormatReader, *types.MetadataLog, error)
}

// formats are tried in order; MP3 goes last because its frame sync is the
// weakest signature.
var formats = []format{
	{
		name:  "wav",
		match: wav.Match,
		open: func(src io.ReadSeeker) (types.FormatReader, *types.MetadataLog, error) {
			r, err := wav.Open(src)
			if err != nil {
				return nil, nil, err
			}
			return r, nil, nil
		},
	},
	{
		name:  "ogg",
		match: vorbis.Match,
		open: func(src io.ReadSeeker) (types.FormatReader, *types.MetadataLog, error) {
			r, err := vorbis.Open(src)
			if err != nil {
				return nil, nil, err
			}
			return r, nil, nil
		},
	},
	{
		name:  "mp3",
		match: mp3.Match,
		open: func(src io.ReadSeeker) (types.FormatReader, *types.MetadataLog, error) {
			r, tags, err := mp3.Open(src)
			if err != nil {
				return nil, nil, err
			}
			return r, tags, nil
		},
	},
}

// Formats returns the names of the supported container formats.
func Formats() []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.name
	}
	return names
}

// Probe detects the container format of src from its leading bytes and opens
// a format reader positioned at the first packet.
func Probe(src types.MediaSource) (*types.ProbeResult, error) {
	head := make([]byte, probeSize)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("probe: %w", err)
	}
	head = head[:n]
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("probe: rewind: %w", err)
	}

	for _, f := range formats {
		if !f.match(head) {
			continue
		}
		reader, metadata, err := f.open(src)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", f.name, err)
		}
		if metadata == nil {
			metadata = &types.MetadataLog{}
		}
		return &types.ProbeResult{FormatName: f.name, Format: reader, Metadata: metadata}, nil
	}
	return nil, types.Unsupported(fmt.Sprintf("unknown format (leading bytes % x)", head))
}

// NewCodec creates the codec for a track.
func NewCodec(params types.CodecParams, opts types.DecoderOptions) (types.Codec, error) {
	switch params.Codec {
	case types.CodecPCM:
		c, err := pcm.NewCodec(params, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	case types.CodecMP3:
		c, err := mp3.NewCodec(params, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	case types.CodecVorbis:
		c, err := vorbis.NewCodec(params, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, types.Unsupported(fmt.Sprintf("codec %v", params.Codec))
	}
}
