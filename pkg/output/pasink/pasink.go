// Package pasink plays sources through PortAudio in callback mode.
//
// Each sink runs a producer goroutine that pulls samples from the source,
// adapts them to the stream format and writes AudioFrames into a lock-free
// ring buffer. The PortAudio callback, running on a C audio thread, is the
// single consumer of that ring.
package pasink

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"
	soxr "github.com/zaf/resample"

	"github.com/drgolem/podstream/pkg/audioframe"
	"github.com/drgolem/podstream/pkg/audioframeringbuffer"
	"github.com/drgolem/podstream/pkg/output"
	"github.com/drgolem/podstream/pkg/types"
)

// maxChannels bounds the channel count of an output stream.
const maxChannels = 8

// Config holds PortAudio output configuration
type Config struct {
	DeviceIndex     int    // Audio output device index
	FramesPerBuffer int    // PortAudio frames per callback
	Capacity        uint64 // Ring buffer capacity in AudioFrames
	SamplesPerFrame int    // Sample frames per AudioFrame
	Quality         int    // SoXR quality used for speed changes
	Logger          *slog.Logger
}

// DefaultConfig returns default PortAudio output configuration
func DefaultConfig() Config {
	return Config{
		DeviceIndex:     1,
		FramesPerBuffer: 512,
		Capacity:        64,
		SamplesPerFrame: 1024,
		Quality:         soxr.MediumQ,
		Logger:          slog.Default(),
	}
}

// Device is an initialized PortAudio library handle.
type Device struct {
	cfg Config
	log *slog.Logger
}

// Open initializes PortAudio. Close the device to terminate it.
func Open(cfg Config) (*Device, error) {
	if cfg.FramesPerBuffer <= 0 || cfg.SamplesPerFrame <= 0 || cfg.Capacity == 0 {
		return nil, fmt.Errorf("invalid buffer configuration: frames=%d samples=%d capacity=%d",
			cfg.FramesPerBuffer, cfg.SamplesPerFrame, cfg.Capacity)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	cfg.Logger.Debug("PortAudio initialized",
		"version", portaudio.GetVersion(),
		"device", cfg.DeviceIndex)

	return &Device{cfg: cfg, log: cfg.Logger}, nil
}

// Close terminates PortAudio.
func (d *Device) Close() error {
	return portaudio.Terminate()
}

// NewSink opens an output stream in the signal spec of the first packet of
// src and starts playing it.
func (d *Device) NewSink(src types.Source, onEnd output.EndFunc) (output.Sink, error) {
	channels, rate := src.Channels(), src.SampleRate()
	if channels <= 0 || rate <= 0 {
		return nil, fmt.Errorf("invalid source format: %d channels at %d Hz", channels, rate)
	}
	channels = min(channels, maxChannels)

	s := &Sink{
		src:                  src,
		ringbuf:              audioframeringbuffer.New(d.cfg.Capacity),
		channels:             channels,
		rate:                 rate,
		samplesPerFrame:      d.cfg.SamplesPerFrame,
		conv:                 newConverter(rate, channels, d.cfg.Quality),
		playbackCompleteChan: make(chan struct{}),
		stopChan:             make(chan struct{}),
		log:                  d.log,
	}
	s.speed.Store(math.Float64bits(1))

	s.stream = &portaudio.PaStream{
		OutputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  d.cfg.DeviceIndex,
			ChannelCount: channels,
			SampleFormat: portaudio.SampleFmtInt16,
		},
		SampleRate: float64(rate),
	}
	if err := s.stream.OpenCallback(d.cfg.FramesPerBuffer, s.audioCallback); err != nil {
		return nil, fmt.Errorf("failed to open stream with callback: %w", err)
	}

	s.wg.Add(1)
	go s.producer()

	if err := s.stream.StartStream(); err != nil {
		close(s.stopChan)
		s.wg.Wait()
		s.stream.CloseCallback()
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}

	go func() {
		select {
		case <-s.playbackCompleteChan:
			s.log.Debug("Playback complete", "played_frames", s.playedFrames.Load())
			if onEnd != nil {
				onEnd(s.srcErr)
			}
		case <-s.stopChan:
		}
	}()

	d.log.Debug("Output stream started",
		"sample_rate", rate,
		"channels", channels,
		"frames_per_buffer", d.cfg.FramesPerBuffer)
	return s, nil
}

// Sink plays one source on a PortAudio output stream.
type Sink struct {
	src             types.Source
	ringbuf         *audioframeringbuffer.AudioFrameRingBuffer
	stream          *portaudio.PaStream
	channels        int
	rate            int
	samplesPerFrame int
	conv            *converter
	log             *slog.Logger

	paused atomic.Bool
	speed  atomic.Uint64 // math.Float64bits of the rate factor

	// srcErr is written by the producer before producerDone is set.
	srcErr               error
	producerDone         atomic.Bool
	playbackCompleteChan chan struct{}
	stopChan             chan struct{}
	wg                   sync.WaitGroup
	mu                   sync.Mutex
	stopped              bool

	// Callback state, touched only on the audio thread.
	current     audioframe.AudioFrame
	hasCurrent  bool
	frameOffset int

	playedFrames atomic.Uint64
}

func (s *Sink) Play() {
	s.paused.Store(false)
}

func (s *Sink) Pause() {
	s.paused.Store(true)
}

func (s *Sink) SetSpeed(factor float64) {
	if factor <= 0 || math.IsInf(factor, 0) || math.IsNaN(factor) {
		return
	}
	s.speed.Store(math.Float64bits(factor))
}

// Close stops the producer and the output stream. A producer blocked on a
// source read only returns once the source is closed.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()

	if err := s.stream.StopStream(); err != nil {
		s.log.Warn("Failed to stop stream", "error", err)
	}
	if err := s.stream.CloseCallback(); err != nil {
		s.log.Warn("Failed to close stream", "error", err)
		return err
	}
	return nil
}

// audioCallback fills the output buffer from the ring. It runs on the
// PortAudio audio thread and must not block; it plays silence while paused
// or when the producer falls behind.
func (s *Sink) audioCallback(
	input, output []byte,
	frameCount uint,
	timeInfo *portaudio.StreamCallbackTimeInfo,
	statusFlags portaudio.StreamCallbackFlags,
) portaudio.StreamCallbackResult {

	bytesNeeded := int(frameCount) * s.channels * audioframe.BytesPerSample

	if s.paused.Load() {
		clear(output[:bytesNeeded])
		return portaudio.Continue
	}

	if s.producerDone.Load() && s.ringbuf.Len() == 0 && !s.hasCurrent {
		select {
		case <-s.playbackCompleteChan:
		default:
			close(s.playbackCompleteChan)
		}
		clear(output[:bytesNeeded])
		return portaudio.Complete
	}

	bytesWritten := 0
	for bytesWritten < bytesNeeded {
		if !s.hasCurrent {
			if s.ringbuf.ReadFrame(&s.current) != nil {
				break
			}
			s.hasCurrent = true
			s.frameOffset = 0
		}

		n := s.current.PutBytes(output[bytesWritten:bytesNeeded], s.frameOffset)
		bytesWritten += n * audioframe.BytesPerSample
		s.frameOffset += n

		if s.frameOffset >= len(s.current.Samples) {
			s.hasCurrent = false
		}
	}

	if bytesWritten < bytesNeeded {
		clear(output[bytesWritten:bytesNeeded])
	}

	s.playedFrames.Add(uint64(bytesWritten / (s.channels * audioframe.BytesPerSample)))
	return portaudio.Continue
}

// producer pulls the source into the ring until it is exhausted or the
// sink is closed.
func (s *Sink) producer() {
	defer s.wg.Done()

	buf := make([]int16, 0, s.samplesPerFrame*s.channels)
	format := audioframe.FrameFormat{SampleRate: uint32(s.rate), Channels: uint8(s.channels)}

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		var rate int
		var more bool
		buf, rate, more = pull(s.src, buf[:0], s.samplesPerFrame, s.channels)

		speed := math.Float64frombits(s.speed.Load())
		samples, err := s.conv.convert(buf, rate, speed, !more)
		if err != nil {
			s.log.Warn("Resampling failed, playing unconverted", "error", err)
			samples = buf
		}
		if len(samples) > 0 && !s.write(audioframe.AudioFrame{Format: format, Samples: samples}) {
			return
		}

		if !more {
			s.srcErr = s.src.Err()
			s.producerDone.Store(true)
			return
		}
	}
}

// write blocks until the frame is in the ring. It reports false when the
// sink was closed while waiting.
func (s *Sink) write(frame audioframe.AudioFrame) bool {
	wait := frame.Duration() / 4
	for {
		if s.ringbuf.WriteFrame(frame) == nil {
			return true
		}
		select {
		case <-s.stopChan:
			return false
		case <-time.After(wait):
		}
	}
}

// pull reads up to frames sample frames from src, laid out for channels
// output channels. It returns the sample rate of the first frame and false
// once the source is exhausted.
func pull(src types.Source, dst []int16, frames, channels int) ([]int16, int, bool) {
	rate := 0
	for range frames {
		first, ok := src.NextSample()
		if !ok {
			return dst, rate, false
		}
		if rate == 0 {
			rate = src.SampleRate()
		}
		if dst, ok = readFrame(src, first, src.Channels(), channels, dst); !ok {
			return dst, rate, false
		}
	}
	return dst, rate, true
}

// readFrame pulls the rest of a frame of in channels starting with first and
// appends it with out channels. Extra input channels are dropped and missing
// ones repeat the last input channel.
func readFrame(src types.Source, first int16, in, out int, dst []int16) ([]int16, bool) {
	var frame [maxChannels]int16
	frame[0] = first
	for i := 1; i < in; i++ {
		v, ok := src.NextSample()
		if !ok {
			return dst, false
		}
		if i < maxChannels {
			frame[i] = v
		}
	}
	last := min(max(in, 1), maxChannels) - 1
	for i := range out {
		dst = append(dst, frame[min(i, last)])
	}
	return dst, true
}
