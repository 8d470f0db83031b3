package audioframeringbuffer

import (
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/drgolem/podstream/pkg/audioframe"
)

func testFrame(v int16) audioframe.AudioFrame {
	return audioframe.AudioFrame{
		Format:  audioframe.FrameFormat{SampleRate: 44100, Channels: 1},
		Samples: []int16{v, v + 1},
	}
}

func TestNewRoundsToPowerOf2(t *testing.T) {
	tests := []struct {
		input    uint64
		expected uint64
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{100, 128},
		{1000, 1024},
		{1024, 1024},
	}

	for _, tt := range tests {
		rb := New(tt.input)
		if rb.Size() != tt.expected {
			t.Errorf("New(%d): got size %d, want %d", tt.input, rb.Size(), tt.expected)
		}
	}
}

func TestWriteRead(t *testing.T) {
	rb := New(16)

	frames := []audioframe.AudioFrame{
		{Format: audioframe.FrameFormat{SampleRate: 44100, Channels: 2}, Samples: []int16{1, 2, 3, 4}},
		{Format: audioframe.FrameFormat{SampleRate: 48000, Channels: 1}, Samples: []int16{5}},
		{Format: audioframe.FrameFormat{SampleRate: 8000, Channels: 6}, Samples: make([]int16, 12)},
	}
	for i, f := range frames {
		if err := rb.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
	}

	if rb.Len() != 3 {
		t.Errorf("Len: got %d, want 3", rb.Len())
	}
	if rb.Free() != 13 {
		t.Errorf("Free: got %d, want 13", rb.Free())
	}

	var dst audioframe.AudioFrame
	for i, want := range frames {
		if err := rb.ReadFrame(&dst); err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if dst.Format != want.Format {
			t.Errorf("frame %d format: got %+v, want %+v", i, dst.Format, want.Format)
		}
		if len(dst.Samples) != len(want.Samples) {
			t.Errorf("frame %d samples: got %d, want %d", i, len(dst.Samples), len(want.Samples))
		}
	}

	if rb.Len() != 0 {
		t.Errorf("Len after reads: got %d, want 0", rb.Len())
	}
}

func TestWriteFull(t *testing.T) {
	rb := New(4)
	for i := range 4 {
		if err := rb.WriteFrame(testFrame(int16(i))); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
	}

	if err := rb.WriteFrame(testFrame(4)); !errors.Is(err, ErrInsufficientSpace) {
		t.Errorf("WriteFrame on full ring: got %v, want ErrInsufficientSpace", err)
	}
	if rb.Free() != 0 {
		t.Errorf("Free: got %d, want 0", rb.Free())
	}
}

func TestReadEmpty(t *testing.T) {
	rb := New(4)
	var dst audioframe.AudioFrame
	if err := rb.ReadFrame(&dst); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("ReadFrame on empty ring: got %v, want ErrInsufficientData", err)
	}
}

func TestWrapAround(t *testing.T) {
	rb := New(4)
	var dst audioframe.AudioFrame

	// Several laps over the four slots.
	for i := range 4 * 5 {
		if err := rb.WriteFrame(testFrame(int16(i))); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
		if i%2 == 1 {
			for j := i - 1; j <= i; j++ {
				if err := rb.ReadFrame(&dst); err != nil {
					t.Fatalf("ReadFrame %d: %v", j, err)
				}
				if dst.Samples[0] != int16(j) {
					t.Errorf("frame %d: got sample %d, want %d", j, dst.Samples[0], j)
				}
			}
		}
	}
}

func TestReset(t *testing.T) {
	rb := New(8)
	for i := range 5 {
		rb.WriteFrame(testFrame(int16(i)))
	}

	rb.Reset()

	if rb.Len() != 0 {
		t.Errorf("Len after Reset: got %d, want 0", rb.Len())
	}
	if rb.Free() != 8 {
		t.Errorf("Free after Reset: got %d, want 8", rb.Free())
	}
}

func TestSamplesAreCopied(t *testing.T) {
	rb := New(16)

	samples := []int16{0x0A, 0x0B, 0x0C, 0x0D}
	frame := audioframe.AudioFrame{
		Format:  audioframe.FrameFormat{SampleRate: 44100, Channels: 2},
		Samples: samples,
	}
	if err := rb.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	// The producer reuses its buffer.
	for i := range samples {
		samples[i] = -1
	}

	var dst audioframe.AudioFrame
	if err := rb.ReadFrame(&dst); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	want := []int16{0x0A, 0x0B, 0x0C, 0x0D}
	for i, w := range want {
		if dst.Samples[i] != w {
			t.Errorf("sample %d: got %d, want %d", i, dst.Samples[i], w)
		}
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	rb := New(256)

	const numFrames = 10000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := range numFrames {
			for rb.WriteFrame(testFrame(int16(i))) != nil {
				runtime.Gosched()
			}
		}
	}()

	received := 0
	go func() {
		defer wg.Done()
		var dst audioframe.AudioFrame
		for received < numFrames {
			if rb.ReadFrame(&dst) != nil {
				runtime.Gosched()
				continue
			}
			if dst.Samples[0] != int16(received) {
				t.Errorf("Frame %d: got sample %d, want %d", received, dst.Samples[0], received)
			}
			received++
		}
	}()

	wg.Wait()

	if received != numFrames {
		t.Errorf("Received %d frames, want %d", received, numFrames)
	}
}

func BenchmarkWriteReadFrame(b *testing.B) {
	rb := New(1024)
	frame := audioframe.AudioFrame{
		Format:  audioframe.FrameFormat{SampleRate: 44100, Channels: 2},
		Samples: make([]int16, 4096),
	}
	var dst audioframe.AudioFrame

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rb.WriteFrame(frame)
		rb.ReadFrame(&dst)
	}
}
