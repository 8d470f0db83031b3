// Package beepsink plays sources through the beep speaker mixer.
package beepsink

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/drgolem/podstream/pkg/output"
	"github.com/drgolem/podstream/pkg/types"
)

// Config holds speaker configuration
type Config struct {
	SampleRate int           // Device sample rate in Hz
	Buffer     time.Duration // Speaker buffer length
	Quality    int           // Resampler quality, 1 to 64
	Logger     *slog.Logger
}

// DefaultConfig returns default speaker configuration
func DefaultConfig() Config {
	return Config{
		SampleRate: 44100,
		Buffer:     time.Second / 10,
		Quality:    4,
		Logger:     slog.Default(),
	}
}

// Device is the initialized speaker. Only one Device may be open at a time.
type Device struct {
	rate    beep.SampleRate
	quality int
	log     *slog.Logger
}

// Open initializes the speaker.
func Open(cfg Config) (*Device, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", cfg.SampleRate)
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rate := beep.SampleRate(cfg.SampleRate)
	if err := speaker.Init(rate, rate.N(cfg.Buffer)); err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}
	cfg.Logger.Debug("Speaker initialized", "sample_rate", cfg.SampleRate, "buffer", cfg.Buffer)

	return &Device{rate: rate, quality: cfg.Quality, log: cfg.Logger}, nil
}

// NewSink starts playing src on the speaker. The source is pulled on the
// speaker goroutine; onEnd runs on its own goroutine.
func (d *Device) NewSink(src types.Source, onEnd output.EndFunc) (output.Sink, error) {
	rate := src.SampleRate()
	if rate <= 0 {
		return nil, fmt.Errorf("invalid source sample rate: %d", rate)
	}

	s := &Sink{base: float64(rate) / float64(d.rate)}
	s.resampler = beep.ResampleRatio(d.quality, s.base, &streamer{src: src})
	s.ctrl = &beep.Ctrl{Streamer: s.resampler, Paused: false}

	speaker.Play(beep.Seq(s.ctrl, beep.Callback(func() {
		if s.closed.Load() {
			return
		}
		err := src.Err()
		d.log.Debug("Speaker source drained", "error", err)
		if onEnd != nil {
			go onEnd(err)
		}
	})))
	return s, nil
}

// Close releases the speaker.
func (d *Device) Close() error {
	speaker.Clear()
	speaker.Close()
	return nil
}

// Sink is one source playing on the speaker.
type Sink struct {
	ctrl      *beep.Ctrl
	resampler *beep.Resampler
	base      float64 // Source to device rate ratio
	closed    atomic.Bool
}

func (s *Sink) Play() {
	speaker.Lock()
	s.ctrl.Paused = false
	speaker.Unlock()
}

func (s *Sink) Pause() {
	speaker.Lock()
	s.ctrl.Paused = true
	speaker.Unlock()
}

func (s *Sink) SetSpeed(factor float64) {
	if factor <= 0 {
		return
	}
	speaker.Lock()
	s.resampler.SetRatio(s.base * factor)
	speaker.Unlock()
}

// Close detaches the sink from the speaker. It waits for the speaker to
// finish the current pull, so a source blocked on a read must be closed first.
func (s *Sink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	speaker.Lock()
	s.ctrl.Streamer = nil
	speaker.Unlock()
	return nil
}

// streamer adapts a types.Source to beep. Mono is duplicated to both
// speakers; channels past the second are dropped.
type streamer struct {
	src types.Source
}

func (s *streamer) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		l, ok := s.src.NextSample()
		if !ok {
			return i, i > 0
		}
		r := l
		if ch := s.src.Channels(); ch > 1 {
			if r, ok = s.src.NextSample(); !ok {
				return i, i > 0
			}
			for range ch - 2 {
				s.src.NextSample()
			}
		}
		samples[i][0] = float64(l) / 32768
		samples[i][1] = float64(r) / 32768
	}
	return len(samples), true
}

func (s *streamer) Err() error {
	return s.src.Err()
}
