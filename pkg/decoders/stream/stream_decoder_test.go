package stream

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/drgolem/podstream/pkg/bytesource"
	"github.com/drgolem/podstream/pkg/types"
)

// fakeSource is a MediaSource that only records Close.
type fakeSource struct {
	bytes.Reader
	closed bool
}

func (s *fakeSource) Close() error { s.closed = true; return nil }

func (s *fakeSource) IsSeekable() bool { return true }

func (s *fakeSource) ByteLen() (int64, bool) { return 0, false }

// fakeFormat serves packets whose data names what the fake codec does.
type fakeFormat struct {
	track    *types.Track
	packets  []string
	next     int
	metadata *types.MetadataLog
	seeks    []uint64
}

func (f *fakeFormat) NextPacket() (*types.Packet, error) {
	if f.next == len(f.packets) {
		return nil, io.EOF
	}
	p := &types.Packet{TS: uint64(f.next) * 10, Dur: 10, Data: []byte(f.packets[f.next])}
	f.next++
	return p, nil
}

func (f *fakeFormat) Seek(_ types.SeekMode, ts uint64) (types.SeekedTo, error) {
	f.seeks = append(f.seeks, ts)
	return types.SeekedTo{}, types.ErrSeekOutOfRange
}

func (f *fakeFormat) DefaultTrack() *types.Track { return f.track }

func (f *fakeFormat) Metadata() *types.MetadataLog { return f.metadata }

var errRead = errors.New("read failed")

type fakeCodec struct {
	resets int
}

// Decode returns one mono sample per byte of "ok" packets.
func (c *fakeCodec) Decode(p *types.Packet) (*types.AudioBuffer, error) {
	switch s := string(p.Data); {
	case s == "bad":
		return nil, types.NewDecodeError("corrupt", nil)
	case s == "io":
		return nil, errRead
	case s == "reset":
		return nil, types.ErrResetRequired
	case s == "empty":
		return &types.AudioBuffer{Spec: types.SignalSpec{Rate: 100, Channels: 1}}, nil
	default:
		samples := make([]int16, len(s))
		for i := range s {
			samples[i] = int16(s[i])
		}
		return &types.AudioBuffer{
			Spec:    types.SignalSpec{Rate: 100, Channels: 1},
			Frames:  len(samples),
			Samples: samples,
		}, nil
	}
}

func (c *fakeCodec) Reset() { c.resets++ }

func fakeOptions(format *fakeFormat, codec *fakeCodec) Options {
	return Options{
		Probe: func(types.MediaSource) (*types.ProbeResult, error) {
			return &types.ProbeResult{FormatName: "fake", Format: format}, nil
		},
		NewCodec: func(types.CodecParams, types.DecoderOptions) (types.Codec, error) {
			return codec, nil
		},
	}
}

func newFake(packets ...string) *fakeFormat {
	return &fakeFormat{
		track:   &types.Track{Params: types.CodecParams{Codec: types.CodecPCM, SampleRate: 100, Channels: 1}},
		packets: packets,
	}
}

// drain pulls samples until the decoder is exhausted.
func drain(d *Decoder) []int16 {
	var out []int16
	for {
		s, ok := d.NextSample()
		if !ok {
			return out
		}
		out = append(out, s)
	}
}

func TestInitRetryThreshold(t *testing.T) {
	t.Run("three corrupt packets", func(t *testing.T) {
		f := newFake("bad", "bad", "bad", "AB")
		d, err := New(context.Background(), &fakeSource{}, nil, fakeOptions(f, &fakeCodec{}))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		got := drain(d)
		if len(got) != 2 || got[0] != 'A' || got[1] != 'B' {
			t.Errorf("samples: got %v, want [65 66]", got)
		}
		if d.Err() != nil {
			t.Errorf("Err: got %v, want nil", d.Err())
		}
	})

	t.Run("four corrupt packets", func(t *testing.T) {
		f := newFake("bad", "bad", "bad", "bad", "AB")
		src := &fakeSource{}
		_, err := New(context.Background(), src, nil, fakeOptions(f, &fakeCodec{}))
		if !types.IsDecodeError(err) {
			t.Fatalf("New: got %v, want a decode error", err)
		}
		if !src.closed {
			t.Error("source not closed after failed init")
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		f := newFake("io", "AB")
		_, err := New(context.Background(), &fakeSource{}, nil, fakeOptions(f, &fakeCodec{}))
		if !errors.Is(err, errRead) {
			t.Errorf("New: got %v, want %v", err, errRead)
		}
	})
}

func TestSteadyStateRetryThreshold(t *testing.T) {
	f := newFake("A", "bad", "bad", "bad", "B", "bad", "bad", "bad", "bad", "C")
	d, err := New(context.Background(), &fakeSource{}, nil, fakeOptions(f, &fakeCodec{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := drain(d)
	if len(got) != 2 || got[0] != 'A' || got[1] != 'B' {
		t.Errorf("samples: got %v, want [65 66]", got)
	}
	if !types.IsDecodeError(d.Err()) {
		t.Errorf("Err: got %v, want a decode error", d.Err())
	}
	if _, ok := d.NextSample(); ok {
		t.Error("NextSample after the end returned a sample")
	}
}

func TestSteadyStateIOErrorEndsStream(t *testing.T) {
	f := newFake("A", "io", "B")
	d, err := New(context.Background(), &fakeSource{}, nil, fakeOptions(f, &fakeCodec{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := drain(d); len(got) != 1 {
		t.Errorf("samples: got %v, want one", got)
	}
	if !errors.Is(d.Err(), errRead) {
		t.Errorf("Err: got %v, want %v", d.Err(), errRead)
	}
}

func TestResetRequiredEndsStream(t *testing.T) {
	f := newFake("A", "reset", "B")
	d, err := New(context.Background(), &fakeSource{}, nil, fakeOptions(f, &fakeCodec{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := drain(d); len(got) != 1 {
		t.Errorf("samples: got %v, want one", got)
	}
	if !errors.Is(d.Err(), types.ErrResetRequired) {
		t.Errorf("Err: got %v, want ErrResetRequired", d.Err())
	}
	if f.next != 2 {
		t.Errorf("packets read: got %d, want 2", f.next)
	}
}

func TestEmptyBuffersSkipped(t *testing.T) {
	f := newFake("empty", "A", "empty", "empty", "B")
	d, err := New(context.Background(), &fakeSource{}, nil, fakeOptions(f, &fakeCodec{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := drain(d); len(got) != 2 {
		t.Errorf("samples: got %v, want two", got)
	}
}

func TestNoStreams(t *testing.T) {
	f := newFake("A")
	f.track = nil
	_, err := New(context.Background(), &fakeSource{}, nil, fakeOptions(f, &fakeCodec{}))
	if !errors.Is(err, types.ErrNoStreams) {
		t.Errorf("New: got %v, want ErrNoStreams", err)
	}
}

func TestFailedSeekIsIgnored(t *testing.T) {
	f := newFake("AB", "CD")
	codec := &fakeCodec{}
	d, err := New(context.Background(), &fakeSource{}, nil, fakeOptions(f, codec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d.RequestSeek(100)
	d.RequestSeek(500) // replaces the pending request
	got := drain(d)
	if len(got) != 4 {
		t.Errorf("samples: got %v, want 4", got)
	}
	if len(f.seeks) != 1 || f.seeks[0] != 50 {
		t.Errorf("seeks: got %v, want [50]", f.seeks)
	}
	if codec.resets != 1 {
		t.Errorf("codec resets: got %d, want 1", codec.resets)
	}
	if d.Err() != nil {
		t.Errorf("Err: got %v, want nil", d.Err())
	}
}

func TestTimestampsNeverBlock(t *testing.T) {
	f := newFake("A", "B", "C", "D")
	events := make(chan types.ReceivedData, 1)
	d, err := New(context.Background(), &fakeSource{}, events, fakeOptions(f, &fakeCodec{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := drain(d); len(got) != 4 {
		t.Errorf("samples: got %v, want 4", got)
	}
	ev := <-events
	if ts, ok := ev.(types.Timestamp); !ok || ts.TS != 0 {
		t.Errorf("first event: got %#v, want Timestamp 0", ev)
	}
}

func TestMetadataDeliveryCanceled(t *testing.T) {
	f := newFake("A")
	f.metadata = &types.MetadataLog{}
	f.metadata.Push(&types.MetadataRevision{Tags: []types.Tag{{Key: "title", Value: "x"}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events := make(chan types.ReceivedData) // nobody listens
	if _, err := New(ctx, &fakeSource{}, events, fakeOptions(f, &fakeCodec{})); err != nil {
		t.Errorf("New: %v", err)
	}
}

const (
	pipelineRate   = 8000
	pipelineFrames = 16000
)

func chunk(id string, body []byte) []byte {
	out := []byte(id)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, body...)
	if len(body)%2 == 1 {
		out = append(out, 0)
	}
	return out
}

// pipelineWav builds a 16-bit mono file whose samples count frames, with a
// LIST/INFO title ahead of the data.
func pipelineWav() []byte {
	fmtBody := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtBody[0:], 1)
	binary.LittleEndian.PutUint16(fmtBody[2:], 1)
	binary.LittleEndian.PutUint32(fmtBody[4:], pipelineRate)
	binary.LittleEndian.PutUint32(fmtBody[8:], pipelineRate*2)
	binary.LittleEndian.PutUint16(fmtBody[12:], 2)
	binary.LittleEndian.PutUint16(fmtBody[14:], 16)

	info := append([]byte("INFO"), chunk("INAM", []byte("Pilot\x00"))...)

	data := make([]byte, pipelineFrames*2)
	for i := range pipelineFrames {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(i))
	}

	body := []byte("WAVE")
	body = append(body, chunk("fmt ", fmtBody)...)
	body = append(body, chunk("LIST", info)...)
	body = append(body, chunk("data", data)...)
	file := []byte("RIFF")
	file = binary.LittleEndian.AppendUint32(file, uint32(len(body)))
	return append(file, body...)
}

// pipeline starts a decoder over a byte source fed with data in chunks.
func pipeline(t *testing.T, events chan<- types.ReceivedData) *Decoder {
	t.Helper()
	data := pipelineWav()
	src, m := bytesource.NewPair(1)
	go func() {
		defer m.CloseSend()
		for len(data) > 0 {
			n := min(4096, len(data))
			if err := m.Send(context.Background(), data[:n]); err != nil {
				return
			}
			data = data[n:]
		}
	}()

	d, err := New(context.Background(), src, events, DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestPipelineMetadataBeforeTimestamp(t *testing.T) {
	events := make(chan types.ReceivedData, 1000)
	d := pipeline(t, events)

	if d.SampleRate() != pipelineRate || d.Channels() != 1 {
		t.Errorf("spec: got %d Hz %d channels", d.SampleRate(), d.Channels())
	}
	if dur, ok := d.TotalDuration(); !ok || dur != 2*time.Second {
		t.Errorf("TotalDuration: got %v %v, want 2s", dur, ok)
	}

	got := drain(d)
	if len(got) != pipelineFrames {
		t.Fatalf("samples: got %d, want %d", len(got), pipelineFrames)
	}
	for i, s := range got {
		if s != int16(i) {
			t.Fatalf("sample %d: got %d", i, s)
		}
	}

	first := <-events
	md, ok := first.(types.Metadata)
	if !ok {
		t.Fatalf("first event: got %#v, want Metadata", first)
	}
	if v, _ := md.Revision.Tag("title"); v != "Pilot" {
		t.Errorf("title: got %q, want %q", v, "Pilot")
	}
	second := <-events
	if ts, ok := second.(types.Timestamp); !ok || ts.TS != 0 {
		t.Errorf("second event: got %#v, want Timestamp 0", second)
	}
}

func TestPipelineSeek(t *testing.T) {
	d := pipeline(t, nil)

	// Finish the first packet.
	for range d.CurrentFrameLen() {
		d.NextSample()
	}

	d.RequestSeek(1000)
	s, ok := d.NextSample()
	if !ok || s != pipelineRate {
		t.Fatalf("after seek to 1s: got %d %v, want %d", s, ok, pipelineRate)
	}
	if p := d.Progress(); p.Position != time.Second {
		t.Errorf("position: got %v, want 1s", p.Position)
	}

	for range d.CurrentFrameLen() - 1 {
		d.NextSample()
	}

	// Beyond the end: ignored, decoding continues.
	d.RequestSeek(5000)
	s, ok = d.NextSample()
	if !ok || s != pipelineRate+1152 {
		t.Errorf("after failed seek: got %d %v, want %d", s, ok, pipelineRate+1152)
	}

	// Backwards.
	for range d.CurrentFrameLen() - 1 {
		d.NextSample()
	}
	d.RequestSeek(250)
	if s, _ = d.NextSample(); s != 2000 {
		t.Errorf("after seek to 250ms: got %d, want 2000", s)
	}
}
