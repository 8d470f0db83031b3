// Package stream turns a media source into a pull-based sequence of
// interleaved 16-bit samples.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/drgolem/podstream/pkg/decoders"
	"github.com/drgolem/podstream/pkg/types"
)

// MaxDecodeErrors is the number of consecutive malformed packets that are
// skipped. One more ends the stream.
const MaxDecodeErrors = 3

// ProbeFunc detects the format of a source.
type ProbeFunc func(src types.MediaSource) (*types.ProbeResult, error)

// CodecFunc creates the codec of a track.
type CodecFunc func(params types.CodecParams, opts types.DecoderOptions) (types.Codec, error)

// Options configures a Decoder.
type Options struct {
	Probe    ProbeFunc
	NewCodec CodecFunc
	Logger   *slog.Logger
}

// DefaultOptions returns options using the registered formats and codecs.
func DefaultOptions() Options {
	return Options{
		Probe:    decoders.Probe,
		NewCodec: decoders.NewCodec,
		Logger:   slog.Default(),
	}
}

// Progress describes the last decoded packet.
type Progress struct {
	TS       uint64
	Position time.Duration
	Spec     types.SignalSpec
}

// Decoder implements types.Source over a probed media source.
//
// NextSample and the accessors must be called from a single goroutine, the
// one pulling samples. RequestSeek, Progress and Close may be called from
// any goroutine.
type Decoder struct {
	src    types.MediaSource
	format types.FormatReader
	codec  types.Codec
	track  types.Track
	events chan<- types.ReceivedData
	seeks  chan uint64
	log    *slog.Logger

	buf    []int16
	offset int
	spec   types.SignalSpec
	trim   uint64 // Frames still to drop after a seek
	done   bool
	err    error

	progress atomic.Pointer[Progress]
}

// New probes src, hands the latest metadata revision to events, selects the
// default track and decodes packets until the first one succeeds.
//
// The metadata send blocks until it is received or ctx is done; events may be
// nil. The decoder owns src and closes it on Close, also when New fails.
func New(ctx context.Context, src types.MediaSource, events chan<- types.ReceivedData, opts Options) (*Decoder, error) {
	if opts.Probe == nil {
		opts.Probe = decoders.Probe
	}
	if opts.NewCodec == nil {
		opts.NewCodec = decoders.NewCodec
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	d, err := newDecoder(ctx, src, events, opts)
	if err != nil {
		src.Close()
		return nil, err
	}
	return d, nil
}

func newDecoder(ctx context.Context, src types.MediaSource, events chan<- types.ReceivedData, opts Options) (*Decoder, error) {
	res, err := opts.Probe(src)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}

	d := &Decoder{
		src:    src,
		format: res.Format,
		events: events,
		seeks:  make(chan uint64, 1),
		log:    opts.Logger,
	}

	if rev := latestMetadata(res); rev != nil && events != nil {
		select {
		case events <- types.Metadata{Revision: rev}:
		case <-ctx.Done():
			d.log.Warn("Metadata not delivered", "error", ctx.Err())
		}
	}

	track := res.Format.DefaultTrack()
	if track == nil {
		return nil, types.ErrNoStreams
	}
	d.track = *track

	d.codec, err = opts.NewCodec(track.Params, types.DecoderOptions{Verify: true})
	if err != nil {
		return nil, fmt.Errorf("codec %v: %w", track.Params.Codec, err)
	}

	for d.offset == len(d.buf) {
		p, buf, err := d.decodeNext()
		if err != nil {
			return nil, fmt.Errorf("decode first packet: %w", err)
		}
		d.load(p, buf)
	}

	d.log.Debug("Stream decoder ready",
		"format", res.FormatName,
		"codec", track.Params.Codec,
		"sample_rate", d.spec.Rate,
		"channels", d.spec.Channels)
	return d, nil
}

// latestMetadata prefers metadata found while probing, such as ID3v2 tags
// ahead of an MPEG stream, over metadata inside the container.
func latestMetadata(res *types.ProbeResult) *types.MetadataRevision {
	if rev := res.Metadata.Latest(); rev != nil {
		return rev
	}
	return res.Format.Metadata().Latest()
}

// decodeNext decodes the next packet of the track. Malformed packets are
// skipped up to MaxDecodeErrors in a row; other errors end decoding at once.
func (d *Decoder) decodeNext() (*types.Packet, *types.AudioBuffer, error) {
	decodeErrors := 0
	for {
		p, err := d.format.NextPacket()
		if err != nil {
			return nil, nil, err
		}
		if p.TrackID != d.track.ID {
			continue
		}

		buf, err := d.codec.Decode(p)
		if err == nil {
			return p, buf, nil
		}
		if !types.IsDecodeError(err) {
			return nil, nil, err
		}
		decodeErrors++
		if decodeErrors > MaxDecodeErrors {
			return nil, nil, err
		}
		d.log.Debug("Skipping malformed packet", "ts", p.TS, "errors", decodeErrors, "error", err)
	}
}

// load makes buf the current buffer and reports the packet timestamp.
// Frames before a seek target are dropped first.
func (d *Decoder) load(p *types.Packet, buf *types.AudioBuffer) {
	d.spec = buf.Spec
	d.buf = buf.Samples
	d.offset = 0

	ts := p.TS
	if d.trim > 0 && buf.Spec.Channels > 0 {
		drop := min(d.trim, uint64(buf.Frames))
		d.trim -= drop
		d.offset = int(drop) * buf.Spec.Channels
		ts += drop
	}
	if d.offset == len(d.buf) {
		return
	}

	pos := d.track.Params.TimeOf(ts)
	d.progress.Store(&Progress{TS: ts, Position: pos, Spec: buf.Spec})

	if d.events != nil {
		select {
		case d.events <- types.Timestamp{TS: ts, Position: pos}:
		default:
		}
	}
}

// NextSample returns the next interleaved sample. At the end of each packet
// a pending seek is applied before the next packet is decoded.
func (d *Decoder) NextSample() (int16, bool) {
	for d.offset == len(d.buf) {
		if d.done {
			return 0, false
		}
		select {
		case ms := <-d.seeks:
			d.seek(ms)
		default:
		}

		p, buf, err := d.decodeNext()
		if err != nil {
			d.finish(err)
			return 0, false
		}
		d.load(p, buf)
	}

	s := d.buf[d.offset]
	d.offset++
	return s, true
}

// seek is best effort: on failure decoding continues wherever the format
// reader stopped.
func (d *Decoder) seek(ms uint64) {
	ts := d.track.Params.TSOf(ms)
	to, err := d.format.Seek(types.SeekAccurate, ts)
	d.codec.Reset()
	d.trim = 0
	if err != nil {
		d.log.Debug("Seek failed", "position_ms", ms, "error", err)
		return
	}
	if to.RequiredTS > to.ActualTS {
		d.trim = to.RequiredTS - to.ActualTS
	}
	d.log.Debug("Seeked", "position_ms", ms, "actual_ts", to.ActualTS, "required_ts", to.RequiredTS)
}

func (d *Decoder) finish(err error) {
	d.done = true
	d.buf, d.offset = nil, 0
	if errors.Is(err, io.EOF) {
		return
	}
	d.err = err
	d.log.Warn("Stream decoding stopped", "error", err)
}

// RequestSeek asks the decoder to continue from ms at the next packet
// boundary. It never blocks; a newer request replaces a pending one.
func (d *Decoder) RequestSeek(ms uint64) {
	for {
		select {
		case d.seeks <- ms:
			return
		default:
		}
		select {
		case <-d.seeks:
		default:
		}
	}
}

// CurrentFrameLen returns the number of samples in the current packet.
func (d *Decoder) CurrentFrameLen() int {
	return len(d.buf)
}

func (d *Decoder) Channels() int {
	return d.spec.Channels
}

func (d *Decoder) SampleRate() int {
	return d.spec.Rate
}

// TotalDuration reports the duration when the container declares it.
func (d *Decoder) TotalDuration() (time.Duration, bool) {
	n := d.track.Params.NFrames
	if n == 0 {
		return 0, false
	}
	return d.track.Params.TimeOf(n), true
}

// Err returns the error that ended decoding, nil at a clean end of stream.
// Call it from the pulling goroutine once NextSample returned false.
func (d *Decoder) Err() error {
	return d.err
}

// Progress returns the position of the last decoded packet.
func (d *Decoder) Progress() Progress {
	if p := d.progress.Load(); p != nil {
		return *p
	}
	return Progress{}
}

// Track returns the track being decoded.
func (d *Decoder) Track() types.Track {
	return d.track
}

// Close releases the media source, unblocking a read waiting for data.
func (d *Decoder) Close() error {
	return d.src.Close()
}
