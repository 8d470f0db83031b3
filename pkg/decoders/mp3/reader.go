// Package mp3 reads MPEG audio layer III streams packet by packet and decodes
// them with github.com/hajimehoshi/go-mp3.
package mp3

import (
	"fmt"
	"io"

	"github.com/drgolem/podstream/pkg/decoders/internal/streamio"
	"github.com/drgolem/podstream/pkg/types"
)

const (
	readBufferSize = 16 * 1024

	// maxResync bounds the garbage skipped while looking for a frame.
	maxResync = 64 * 1024

	// prerollFrames are decoded before a seek target to refill the bit reservoir.
	prerollFrames = 2
)

// Match reports whether head starts an ID3v2 tag or an MPEG layer III frame.
func Match(head []byte) bool {
	if len(head) >= 3 && string(head[0:3]) == "ID3" {
		return true
	}
	_, err := parseHeader(head)
	return err == nil
}

// Reader is a types.FormatReader for MP3 streams.
type Reader struct {
	r          *streamio.Reader
	first      frameHeader
	track      types.Track
	audioStart int64
	ts         uint64
	index      *streamio.SeekIndex
	metadata   *types.MetadataLog
	skipped    int64
}

// Open reads leading ID3v2 tags and locates the first audio frame. The tags
// are returned separately because they sit outside the MPEG stream.
func Open(src io.ReadSeeker) (*Reader, *types.MetadataLog, error) {
	fr := streamio.NewReader(src, readBufferSize)

	tags, err := readID3(fr)
	if err != nil {
		return nil, nil, err
	}

	r := &Reader{r: fr, metadata: &types.MetadataLog{}}
	h, err := r.sync()
	if err != nil {
		if err == io.EOF {
			return nil, nil, types.Unsupported("mp3: no audio frame found")
		}
		return nil, nil, err
	}
	if h.version == versionMPEG25 {
		return nil, nil, types.Unsupported("mp3: MPEG 2.5")
	}
	r.first = h

	params := types.CodecParams{
		Codec:         types.CodecMP3,
		SampleRate:    h.sampleRate,
		Channels:      h.channels(),
		BitsPerSample: 16,
	}

	// A Xing/Info frame carries no audio, only the stream length.
	if frame, err := fr.Peek(h.frameSize()); err == nil {
		if frames, ok := xingFrames(h, frame); ok {
			params.NFrames = uint64(frames) * uint64(h.samplesPerFrame())
			if err := fr.Discard(len(frame)); err != nil {
				return nil, nil, streamio.EndOfStream(err)
			}
		}
	}

	r.audioStart = fr.Pos()
	r.track = types.Track{ID: 0, Params: params}
	r.index = streamio.NewSeekIndex(uint64(h.sampleRate))
	r.index.Insert(0, r.audioStart)
	return r, tags, nil
}

// sync positions the reader on the next frame whose header is followed by
// another compatible header, or by the end of the stream.
func (r *Reader) sync() (frameHeader, error) {
	for skipped := 0; skipped <= maxResync; skipped++ {
		b, err := r.r.Peek(4)
		if err != nil {
			return frameHeader{}, streamio.EndOfStream(err)
		}
		if b[0] == 0xFF && b[1]&0xE0 == 0xE0 {
			if h, err := parseHeader(b); err == nil && r.confirm(h) {
				if skipped > 0 {
					r.skipped += int64(skipped)
				}
				return h, nil
			}
		}
		if err := r.r.Discard(1); err != nil {
			return frameHeader{}, streamio.EndOfStream(err)
		}
	}
	return frameHeader{}, &types.LimitError{Msg: fmt.Sprintf("mp3: no frame sync within %d bytes", maxResync)}
}

func (r *Reader) confirm(h frameHeader) bool {
	size := h.frameSize()
	b, err := r.r.Peek(size + 4)
	if err != nil {
		// The last frame of the stream has no successor.
		return len(b) >= size
	}
	next, err := parseHeader(b[size:])
	return err == nil && next.compatible(h)
}

// NextPacket returns the next MPEG frame as a packet.
func (r *Reader) NextPacket() (*types.Packet, error) {
	b, err := r.r.Peek(4)
	if err != nil {
		return nil, streamio.EndOfStream(err)
	}
	h, err := parseHeader(b)
	if err != nil || !h.compatible(r.first) {
		if h, err = r.sync(); err != nil {
			return nil, err
		}
	}

	pos := r.r.Pos()
	data := make([]byte, h.frameSize())
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, streamio.EndOfStream(err)
	}

	spf := uint64(h.samplesPerFrame())
	p := &types.Packet{TrackID: r.track.ID, TS: r.ts, Dur: spf, Data: data}
	r.index.Insert(r.ts, pos)
	r.ts += spf
	return p, nil
}

// Seek lands a few frames before the frame containing ts so the codec can
// rebuild its bit reservoir. Frames already seen are found through the seek
// index; frames beyond it are read ahead.
func (r *Reader) Seek(mode types.SeekMode, ts uint64) (types.SeekedTo, error) {
	nframes := r.track.Params.NFrames
	if nframes > 0 && ts >= nframes {
		return types.SeekedTo{}, fmt.Errorf("mp3: frame %d of %d: %w", ts, nframes, types.ErrSeekOutOfRange)
	}

	spf := uint64(r.first.samplesPerFrame())
	want := ts - ts%spf
	landing := want - min(want, prerollFrames*spf)

	e, _ := r.index.Search(landing)
	if r.ts > landing || r.ts < e.TS {
		if err := r.r.SeekTo(e.Pos); err != nil {
			return types.SeekedTo{}, fmt.Errorf("mp3: seek: %w", err)
		}
		r.ts = e.TS
	}

	for r.ts < landing {
		if _, err := r.NextPacket(); err != nil {
			if err == io.EOF {
				return types.SeekedTo{}, fmt.Errorf("mp3: frame %d: %w", ts, types.ErrSeekOutOfRange)
			}
			return types.SeekedTo{}, err
		}
	}

	required := ts
	if mode == types.SeekCoarse {
		required = r.ts
	}
	return types.SeekedTo{TrackID: r.track.ID, ActualTS: r.ts, RequiredTS: required}, nil
}

func (r *Reader) DefaultTrack() *types.Track {
	return &r.track
}

func (r *Reader) Metadata() *types.MetadataLog {
	return r.metadata
}

// SkippedBytes returns the number of bytes skipped to regain frame sync.
func (r *Reader) SkippedBytes() int64 {
	return r.skipped
}
