// Package wav reads RIFF/WAVE containers packet by packet.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/youpy/go-wav"

	"github.com/drgolem/podstream/pkg/decoders/internal/streamio"
	"github.com/drgolem/podstream/pkg/types"
)

const (
	// PacketFrames is the number of frames per packet.
	PacketFrames = 1152

	formatExtensible = 0xFFFE

	// Streaming encoders write these when the data size is not known yet.
	unknownSize    = 0xFFFFFFFF
	maxHeaderChunk = 1 << 20
)

// infoKeys maps RIFF INFO chunk ids to tag keys.
var infoKeys = map[string]string{
	"INAM": "title",
	"IART": "artist",
	"IPRD": "album",
	"ICMT": "comment",
	"ICRD": "date",
	"IGNR": "genre",
	"ITRK": "track",
	"ISFT": "encoder",
	"ICOP": "copyright",
}

// Match reports whether head starts a RIFF/WAVE file.
func Match(head []byte) bool {
	return len(head) >= 12 && string(head[0:4]) == "RIFF" && string(head[8:12]) == "WAVE"
}

// Reader is a types.FormatReader for WAV files.
type Reader struct {
	src       io.ReadSeeker
	track     types.Track
	dataStart int64
	dataSize  int64 // -1 when unknown
	pos       int64 // Offset into the data chunk
	metadata  *types.MetadataLog
}

// Open parses the header of a WAV file up to the start of the sample data.
func Open(src io.ReadSeeker) (*Reader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(src, riff[:]); err != nil {
		return nil, fmt.Errorf("wav: read riff header: %w", err)
	}
	if !Match(riff[:]) {
		return nil, types.Unsupported("wav: missing RIFF/WAVE header")
	}

	r := &Reader{src: src, metadata: &types.MetadataLog{}, dataSize: -1}
	var format *wav.WavFormat
	var tags []types.Tag

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(src, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, types.NewDecodeError("wav: no data chunk", err)
			}
			return nil, fmt.Errorf("wav: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		if id == "data" {
			if format == nil {
				return nil, types.NewDecodeError("wav: data chunk before fmt chunk", nil)
			}
			if size != unknownSize {
				r.dataSize = size
			}
			pos, err := streamio.Position(src)
			if err != nil {
				return nil, fmt.Errorf("wav: %w", err)
			}
			r.dataStart = pos
			break
		}

		if size > maxHeaderChunk {
			if err := streamio.Skip(src, size+size&1); err != nil {
				return nil, fmt.Errorf("wav: skip %q chunk: %w", id, err)
			}
			continue
		}

		body := make([]byte, size+size&1)
		if _, err := io.ReadFull(src, body); err != nil {
			return nil, fmt.Errorf("wav: read %q chunk: %w", id, err)
		}
		body = body[:size]

		switch id {
		case "fmt ":
			f, err := parseFormat(body)
			if err != nil {
				return nil, err
			}
			format = f
		case "LIST":
			tags = append(tags, parseInfo(body)...)
		}
	}

	params, err := codecParams(format)
	if err != nil {
		return nil, err
	}
	if r.dataSize >= 0 {
		params.NFrames = uint64(r.dataSize) / uint64(params.BlockAlign)
	}
	r.track = types.Track{ID: 0, Params: params}

	if len(tags) > 0 {
		r.metadata.Push(&types.MetadataRevision{Tags: tags})
	}
	return r, nil
}

func parseFormat(body []byte) (*wav.WavFormat, error) {
	if len(body) < 16 {
		return nil, types.NewDecodeError(fmt.Sprintf("wav: fmt chunk of %d bytes", len(body)), nil)
	}
	f := &wav.WavFormat{}
	if err := binary.Read(bytes.NewReader(body[:16]), binary.LittleEndian, f); err != nil {
		return nil, types.NewDecodeError("wav: fmt chunk", err)
	}

	// WAVE_FORMAT_EXTENSIBLE stores the real format tag at the start of the sub-format GUID.
	if f.AudioFormat == formatExtensible {
		if len(body) < 26 {
			return nil, types.NewDecodeError("wav: short extensible fmt chunk", nil)
		}
		f.AudioFormat = binary.LittleEndian.Uint16(body[24:26])
	}
	return f, nil
}

func codecParams(f *wav.WavFormat) (types.CodecParams, error) {
	p := types.CodecParams{
		Codec:         types.CodecPCM,
		SampleRate:    int(f.SampleRate),
		Channels:      int(f.NumChannels),
		BitsPerSample: int(f.BitsPerSample),
		BlockAlign:    int(f.BlockAlign),
	}

	switch f.AudioFormat {
	case wav.AudioFormatPCM:
		p.Encoding = types.PCMInt
	case wav.AudioFormatIEEEFloat:
		p.Encoding = types.PCMFloat
	case wav.AudioFormatALaw:
		p.Encoding = types.PCMALaw
	case wav.AudioFormatMULaw:
		p.Encoding = types.PCMMuLaw
	default:
		return p, types.Unsupported(fmt.Sprintf("wav: audio format %#x", f.AudioFormat))
	}

	if p.Channels == 0 || p.SampleRate == 0 || p.BlockAlign == 0 {
		return p, types.NewDecodeError(fmt.Sprintf("wav: invalid format %+v", *f), nil)
	}
	return p, nil
}

// parseInfo extracts tags from a LIST/INFO chunk body.
func parseInfo(body []byte) []types.Tag {
	if len(body) < 4 || string(body[0:4]) != "INFO" {
		return nil
	}

	var tags []types.Tag
	b := body[4:]
	for len(b) >= 8 {
		id := string(b[0:4])
		size := int(binary.LittleEndian.Uint32(b[4:8]))
		b = b[8:]
		if size > len(b) {
			break
		}
		value := strings.TrimRight(string(b[:size]), "\x00 ")
		if key, ok := infoKeys[id]; ok && value != "" {
			tags = append(tags, types.Tag{Key: key, Value: value})
		}
		b = b[min(size+size&1, len(b)):]
	}
	return tags
}

// NextPacket returns up to PacketFrames frames. A trailing partial frame is dropped.
func (r *Reader) NextPacket() (*types.Packet, error) {
	align := int64(r.track.Params.BlockAlign)
	want := int64(PacketFrames) * align
	if r.dataSize >= 0 {
		want = min(want, r.dataSize-r.pos)
	}
	want -= want % align
	if want <= 0 {
		return nil, io.EOF
	}

	buf := make([]byte, want)
	n, err := io.ReadFull(r.src, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("wav: read samples: %w", err)
	}
	n -= n % int(align)
	if n == 0 {
		return nil, io.EOF
	}

	ts := uint64(r.pos / align)
	r.pos += int64(n)
	return &types.Packet{
		TrackID: r.track.ID,
		TS:      ts,
		Dur:     uint64(int64(n) / align),
		Data:    buf[:n],
	}, nil
}

// Seek moves to the frame at ts. PCM frames are addressed directly, so the
// reader always lands exactly on ts.
func (r *Reader) Seek(_ types.SeekMode, ts uint64) (types.SeekedTo, error) {
	nframes := r.track.Params.NFrames
	if r.dataSize >= 0 && ts > nframes {
		return types.SeekedTo{}, fmt.Errorf("wav: frame %d of %d: %w", ts, nframes, types.ErrSeekOutOfRange)
	}

	off := int64(ts) * int64(r.track.Params.BlockAlign)
	if err := streamio.SeekTo(r.src, r.dataStart+off); err != nil {
		// Resynchronize with wherever the source landed.
		if pos, perr := streamio.Position(r.src); perr == nil {
			r.pos = pos - r.dataStart
		}
		return types.SeekedTo{}, fmt.Errorf("wav: seek to frame %d: %w", ts, err)
	}
	r.pos = off
	return types.SeekedTo{TrackID: r.track.ID, ActualTS: ts, RequiredTS: ts}, nil
}

func (r *Reader) DefaultTrack() *types.Track {
	return &r.track
}

func (r *Reader) Metadata() *types.MetadataLog {
	return r.metadata
}
