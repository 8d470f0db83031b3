// Package vorbis demuxes Ogg Vorbis streams packet by packet and decodes the
// packets with github.com/jfreymuth/vorbis.
package vorbis

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jfreymuth/vorbis"

	"github.com/drgolem/podstream/pkg/decoders/internal/streamio"
	"github.com/drgolem/podstream/pkg/decoders/pcm"
	"github.com/drgolem/podstream/pkg/types"
)

// readBufferSize holds the largest possible page so it can be peeked whole.
const readBufferSize = 72 * 1024

const (
	headerIdentification = 1
	headerComment        = 3
	headerSetup          = 5
)

// commentKeys maps Vorbis comment field names to tag keys.
var commentKeys = map[string]string{
	"TITLE":       "title",
	"ARTIST":      "artist",
	"ALBUM":       "album",
	"ALBUMARTIST": "album_artist",
	"COMPOSER":    "composer",
	"DATE":        "date",
	"GENRE":       "genre",
	"COMMENT":     "comment",
	"DESCRIPTION": "comment",
	"TRACKNUMBER": "track",
	"ENCODER":     "encoder",
	"COPYRIGHT":   "copyright",
}

// Match reports whether head starts an Ogg page.
func Match(head []byte) bool {
	return len(head) >= 4 && string(head[0:4]) == string(capturePattern)
}

type queued struct {
	data []byte
	ts   uint64
}

// Reader is a types.FormatReader for the first Vorbis stream of an Ogg file.
type Reader struct {
	pr       *pageReader
	serial   uint32
	track    types.Track
	metadata *types.MetadataLog
	index    *streamio.SeekIndex

	pending []queued
	partial []byte // packet continued on the next page
	ts      uint64 // granule position where the next page starts
	eos     bool
}

// Open selects the first Vorbis stream and reads its three header packets.
func Open(src io.ReadSeeker) (*Reader, error) {
	r := &Reader{
		pr:       &pageReader{r: streamio.NewReader(src, readBufferSize)},
		metadata: &types.MetadataLog{},
	}

	for {
		p, err := r.pr.next()
		if err == io.EOF || (err == nil && !p.bos()) {
			return nil, types.Unsupported("ogg: no vorbis stream")
		}
		if err != nil {
			return nil, err
		}
		if parts, _ := p.packets(); len(parts) > 0 && isHeader(parts[0], headerIdentification) {
			r.serial = p.serial
			r.addPage(p)
			break
		}
	}

	for len(r.pending) < 3 {
		p, err := r.nextPage()
		if err != nil {
			if err == io.EOF {
				return nil, types.NewDecodeError("vorbis: truncated headers", io.ErrUnexpectedEOF)
			}
			return nil, err
		}
		r.addPage(p)
	}

	headers := make([][]byte, 3)
	for i, typ := range []byte{headerIdentification, headerComment, headerSetup} {
		if !isHeader(r.pending[i].data, typ) {
			return nil, types.NewDecodeError(fmt.Sprintf("vorbis: header %d", i), fmt.Errorf("want header type %d", typ))
		}
		headers[i] = r.pending[i].data
	}
	r.pending = r.pending[3:]

	var d vorbis.Decoder
	if err := d.ReadHeader(headers[0]); err != nil {
		return nil, types.NewDecodeError("vorbis: identification header", err)
	}
	if err := d.ReadHeader(headers[1]); err != nil {
		return nil, types.NewDecodeError("vorbis: comment header", err)
	}
	if d.Channels() == 0 || d.SampleRate() == 0 {
		return nil, types.NewDecodeError("vorbis: identification header", fmt.Errorf("%d channels at %d Hz", d.Channels(), d.SampleRate()))
	}

	if rev := parseComments(d.Vendor, d.Comments); len(rev.Tags) > 0 || rev.TOC != nil {
		r.metadata.Push(rev)
	}

	r.track = types.Track{
		ID: int(r.serial),
		Params: types.CodecParams{
			Codec:      types.CodecVorbis,
			SampleRate: d.SampleRate(),
			Channels:   d.Channels(),
			ExtraData:  headers,
		},
	}
	r.index = streamio.NewSeekIndex(uint64(d.SampleRate()))
	r.index.Insert(0, r.pr.r.Pos())
	return r, nil
}

func isHeader(packet []byte, typ byte) bool {
	return vorbis.IsHeader(packet) && packet[0] == typ
}

// nextPage returns the next page of the selected stream.
func (r *Reader) nextPage() (*page, error) {
	for !r.eos {
		p, err := r.pr.next()
		if err != nil {
			return nil, err
		}
		if p.serial != r.serial {
			continue
		}
		r.eos = p.eos()
		return p, nil
	}
	return nil, io.EOF
}

// addPage queues the packets completed on p. Each gets the granule position
// of the start of the page.
func (r *Reader) addPage(p *page) {
	parts, lastComplete := p.packets()
	for i, part := range parts {
		open := i == len(parts)-1 && !lastComplete
		if i == 0 {
			if p.continued() {
				if r.partial == nil {
					// The start of this packet was not read.
					continue
				}
				part = append(r.partial, part...)
			}
			r.partial = nil
		}
		if open {
			r.partial = append([]byte(nil), part...)
			continue
		}
		r.pending = append(r.pending, queued{data: part, ts: r.ts})
	}
	if p.granule >= 0 {
		r.ts = uint64(p.granule)
	}
}

// NextPacket returns the next Vorbis packet.
func (r *Reader) NextPacket() (*types.Packet, error) {
	for len(r.pending) == 0 {
		p, err := r.nextPage()
		if err != nil {
			return nil, err
		}
		r.index.Insert(r.ts, p.pos)
		r.addPage(p)
	}
	q := r.pending[0]
	r.pending = r.pending[1:]
	return &types.Packet{TrackID: r.track.ID, TS: q.ts, Data: q.data}, nil
}

// Seek lands on the page containing ts. The first packet decoded after a
// seek primes the codec and produces no samples.
func (r *Reader) Seek(mode types.SeekMode, ts uint64) (types.SeekedTo, error) {
	e, _ := r.index.Search(ts)
	if r.ts > ts || r.ts < e.TS {
		if err := r.pr.r.SeekTo(e.Pos); err != nil {
			return types.SeekedTo{}, fmt.Errorf("vorbis: seek: %w", err)
		}
		r.ts = e.TS
		r.eos = false
	}
	r.pending = nil
	r.partial = nil

	for {
		p, err := r.nextPage()
		if err != nil {
			if err == io.EOF {
				return types.SeekedTo{}, fmt.Errorf("vorbis: frame %d: %w", ts, types.ErrSeekOutOfRange)
			}
			return types.SeekedTo{}, err
		}
		r.index.Insert(r.ts, p.pos)
		if p.granule >= 0 && uint64(p.granule) <= ts {
			r.ts = uint64(p.granule)
			r.partial = nil
			continue
		}

		actual := r.ts
		r.addPage(p)
		required := ts
		if mode == types.SeekCoarse {
			required = actual
		}
		return types.SeekedTo{TrackID: r.track.ID, ActualTS: actual, RequiredTS: required}, nil
	}
}

func (r *Reader) DefaultTrack() *types.Track {
	return &r.track
}

func (r *Reader) Metadata() *types.MetadataLog {
	return r.metadata
}

// CorruptPages returns the number of pages dropped for a bad checksum.
func (r *Reader) CorruptPages() int {
	return r.pr.corrupt
}

type chapterEntry struct {
	title    string
	start    time.Duration
	hasStart bool
}

// parseComments converts Vorbis comments into tags, and CHAPTERxxx and
// CHAPTERxxxNAME fields into a table of contents.
func parseComments(vendor string, comments []string) *types.MetadataRevision {
	rev := &types.MetadataRevision{}
	chapters := map[string]*chapterEntry{}
	chapter := func(num string) *chapterEntry {
		c, ok := chapters[num]
		if !ok {
			c = &chapterEntry{}
			chapters[num] = c
		}
		return c
	}

	for _, c := range comments {
		key, value, ok := strings.Cut(c, "=")
		if !ok || value == "" {
			continue
		}
		key = strings.ToUpper(key)

		if rest, ok := strings.CutPrefix(key, "CHAPTER"); ok {
			if num, ok := strings.CutSuffix(rest, "NAME"); ok && isDigits(num) {
				chapter(num).title = value
			} else if isDigits(rest) {
				if start, err := parseChapterTime(value); err == nil {
					e := chapter(rest)
					e.start, e.hasStart = start, true
				}
			}
			continue
		}

		if k, ok := commentKeys[key]; ok {
			rev.Tags = append(rev.Tags, types.Tag{Key: k, Value: value})
		} else {
			rev.Tags = append(rev.Tags, types.Tag{Key: strings.ToLower(key), Value: value})
		}
	}
	if vendor != "" {
		rev.Tags = append(rev.Tags, types.Tag{Key: "vendor", Value: vendor})
	}

	var toc []types.Chapter
	for num, e := range chapters {
		if !e.hasStart {
			continue
		}
		id := "CHAPTER" + num
		title := e.title
		if title == "" {
			title = id
		}
		toc = append(toc, types.Chapter{ID: id, Title: title, Start: e.start})
	}
	if len(toc) == 0 {
		return rev
	}
	sort.Slice(toc, func(i, j int) bool {
		if toc[i].Start != toc[j].Start {
			return toc[i].Start < toc[j].Start
		}
		return toc[i].ID < toc[j].ID
	})
	for i := 0; i < len(toc)-1; i++ {
		toc[i].End = toc[i+1].Start
	}
	rev.TOC = &types.TableOfContents{Chapters: toc}
	return rev
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// parseChapterTime parses HH:MM:SS.mmm; the hours may be omitted.
func parseChapterTime(s string) (time.Duration, error) {
	fields := strings.Split(s, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("chapter time %q", s)
	}
	sec, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil || sec < 0 || sec >= 60 {
		return 0, fmt.Errorf("chapter time %q", s)
	}
	total := time.Duration(sec*1000+0.5) * time.Millisecond
	unit := time.Minute
	for i := len(fields) - 2; i >= 0; i-- {
		n, err := strconv.Atoi(fields[i])
		if err != nil || n < 0 || (unit == time.Minute && len(fields) == 3 && n >= 60) {
			return 0, fmt.Errorf("chapter time %q", s)
		}
		total += time.Duration(n) * unit
		unit = time.Hour
	}
	return total, nil
}

// Codec decodes Vorbis packets into 16-bit samples.
type Codec struct {
	dec  vorbis.Decoder
	spec types.SignalSpec
}

// NewCodec creates a codec from the three header packets in params.ExtraData.
func NewCodec(params types.CodecParams, _ types.DecoderOptions) (*Codec, error) {
	if params.Codec != types.CodecVorbis {
		return nil, fmt.Errorf("vorbis: codec %v", params.Codec)
	}
	if len(params.ExtraData) != 3 {
		return nil, fmt.Errorf("vorbis: %d header packets: %w", len(params.ExtraData), types.ErrUnsupported)
	}
	c := &Codec{}
	for _, h := range params.ExtraData {
		if err := c.readHeader(h); err != nil {
			return nil, types.NewDecodeError("vorbis: header", err)
		}
	}
	c.spec = types.SignalSpec{Rate: c.dec.SampleRate(), Channels: c.dec.Channels()}
	return c, nil
}

func (c *Codec) readHeader(h []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt header: %v", r)
		}
	}()
	return c.dec.ReadHeader(h)
}

// Decode decodes one packet. Header packets produce an empty buffer.
func (c *Codec) Decode(p *types.Packet) (*types.AudioBuffer, error) {
	if vorbis.IsHeader(p.Data) {
		return &types.AudioBuffer{Spec: c.spec}, nil
	}
	out, err := c.decode(p.Data)
	if err != nil {
		c.dec.Clear()
		return nil, types.NewDecodeError("vorbis: packet", err)
	}

	samples := make([]int16, len(out))
	for i, v := range out {
		samples[i] = pcm.FloatToInt16(float64(v))
	}
	return &types.AudioBuffer{
		Spec:    c.spec,
		Frames:  len(out) / c.spec.Channels,
		Samples: samples,
	}, nil
}

func (c *Codec) decode(data []byte) (out []float32, err error) {
	// The decoder indexes its codebooks without bounds checks on corrupt input.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("corrupt packet: %v", r)
		}
	}()
	return c.dec.Decode(data)
}

// Reset drops the overlap of the previous packet; called after a seek.
func (c *Codec) Reset() {
	c.dec.Clear()
}
