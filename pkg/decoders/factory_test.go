package decoders

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/youpy/go-wav"

	"github.com/drgolem/podstream/pkg/bytesource"
	"github.com/drgolem/podstream/pkg/types"
)

func makeWav(t *testing.T, frames int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(frames), 2, 22050, 16)
	samples := make([]wav.Sample, frames)
	for i := range samples {
		samples[i].Values = [2]int{i, -i}
	}
	if err := w.WriteSamples(samples); err != nil {
		t.Fatalf("WriteSamples: %v", err)
	}
	return buf.Bytes()
}

// mp3Frames builds n MPEG-1 layer III frames at 128 kbit/s, 44100 Hz.
func mp3Frames(n int) []byte {
	var out []byte
	for range n {
		f := make([]byte, 417)
		copy(f, []byte{0xFF, 0xFB, 0x90, 0x00})
		out = append(out, f...)
	}
	return out
}

// streamOf returns a byte source fed with data in chunks of size.
func streamOf(data []byte, size int) *bytesource.Source {
	src, m := bytesource.NewPair(1)
	go func() {
		defer m.CloseSend()
		for len(data) > 0 {
			n := min(size, len(data))
			if err := m.Send(context.Background(), data[:n]); err != nil {
				return
			}
			data = data[n:]
		}
	}()
	return src
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		format string
		codec  types.CodecType
	}{
		{"wav", makeWav(t, 2000), "wav", types.CodecPCM},
		{"mp3", mp3Frames(4), "mp3", types.CodecMP3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := streamOf(tt.data, 5)
			defer src.Close()

			res, err := Probe(src)
			if err != nil {
				t.Fatalf("Probe: %v", err)
			}
			if res.FormatName != tt.format {
				t.Errorf("format: got %q, want %q", res.FormatName, tt.format)
			}
			if res.Metadata == nil {
				t.Error("metadata log is nil")
			}
			track := res.Format.DefaultTrack()
			if track == nil {
				t.Fatal("no default track")
			}
			if track.Params.Codec != tt.codec {
				t.Errorf("codec: got %v, want %v", track.Params.Codec, tt.codec)
			}
			if _, err := NewCodec(track.Params, types.DecoderOptions{}); err != nil {
				t.Errorf("NewCodec: %v", err)
			}
			if _, err := res.Format.NextPacket(); err != nil {
				t.Errorf("NextPacket: %v", err)
			}
		})
	}
}

func TestProbeUnknownFormat(t *testing.T) {
	for _, data := range [][]byte{
		[]byte("this is not audio at all"),
		[]byte("ab"),
		nil,
	} {
		src := streamOf(data, 4)
		_, err := Probe(src)
		if !errors.Is(err, types.ErrUnsupported) {
			t.Errorf("Probe(%q): got %v, want ErrUnsupported", data, err)
		}
		src.Close()
	}
}

func TestProbeBrokenHeader(t *testing.T) {
	data := makeWav(t, 10)
	data = data[:20] // RIFF header and part of fmt chunk
	src := streamOf(data, 64)
	defer src.Close()

	if _, err := Probe(src); err == nil {
		t.Error("Probe of a truncated header succeeded")
	}
}

func TestNewCodecUnknown(t *testing.T) {
	_, err := NewCodec(types.CodecParams{Codec: types.CodecUnknown}, types.DecoderOptions{})
	if !errors.Is(err, types.ErrUnsupported) {
		t.Errorf("NewCodec: got %v, want ErrUnsupported", err)
	}
}

func TestFormats(t *testing.T) {
	got := Formats()
	want := []string{"wav", "ogg", "mp3"}
	if len(got) != len(want) {
		t.Fatalf("Formats: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Formats[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}
