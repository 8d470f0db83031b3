// Package audioplayer runs the render loop: the goroutine that owns the
// output device and the active decoder/sink pair and applies playback
// instructions to them in order.
package audioplayer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drgolem/podstream/pkg/decoders/stream"
	"github.com/drgolem/podstream/pkg/output"
	"github.com/drgolem/podstream/pkg/types"
)

// Config holds render loop configuration
type Config struct {
	Decoder stream.Options

	// OnStreamEnd is called on the render loop goroutine when a stream
	// fails to start or has played to its end. err is nil at a clean end.
	// It is not called for streams replaced by NewStream.
	OnStreamEnd func(sessionID string, err error)

	Logger *slog.Logger
}

// DefaultConfig returns default render loop configuration
func DefaultConfig() Config {
	return Config{
		Decoder: stream.DefaultOptions(),
		Logger:  slog.Default(),
	}
}

// Player is the render loop. Its state is owned by the Run goroutine;
// GetPlaybackStatus may be called from any goroutine.
type Player struct {
	device output.Device
	events chan<- types.ReceivedData
	cfg    Config
	log    *slog.Logger
	ended  chan streamEnd
	done   chan struct{}

	mu     sync.Mutex
	active *session
}

// session is the active decoder/sink pair.
type session struct {
	id      string
	name    string
	decoder *stream.Decoder
	sink    output.Sink
	state   types.PlaybackState
	speed   float64
	started time.Time
}

type streamEnd struct {
	id  string
	err error
}

// New creates a render loop playing on device. Decoder events of every
// stream go to events, which may be nil.
func New(device output.Device, events chan<- types.ReceivedData, cfg Config) *Player {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Player{
		device: device,
		events: events,
		cfg:    cfg,
		log:    cfg.Logger,
		ended:  make(chan streamEnd, 1),
		done:   make(chan struct{}),
	}
}

// Run applies instructions in the order they are received until cmds is
// closed or ctx is done, then releases the active stream. The device is
// left open for the caller to close.
func (p *Player) Run(ctx context.Context, cmds <-chan types.PlaybackInstruction) {
	defer close(p.done)
	defer p.stop()

	p.log.Debug("Render loop started")
	for {
		select {
		case cmd, ok := <-cmds:
			if !ok {
				p.log.Debug("Command queue closed, render loop exiting")
				return
			}
			p.apply(ctx, cmd)
		case e := <-p.ended:
			p.finish(e)
		case <-ctx.Done():
			p.log.Debug("Render loop canceled", "error", ctx.Err())
			return
		}
	}
}

func (p *Player) apply(ctx context.Context, cmd types.PlaybackInstruction) {
	if c, ok := cmd.(types.NewStream); ok {
		p.newStream(ctx, c)
		return
	}

	s := p.active
	if s == nil {
		p.log.Debug("No active stream, dropping instruction", "instruction", cmd)
		return
	}

	switch c := cmd.(type) {
	case types.Play:
		s.sink.Play()
		p.update(func() { s.state = types.StatePlaying })
	case types.Pause:
		s.sink.Pause()
		p.update(func() { s.state = types.StatePaused })
	case types.SetSpeed:
		if c.Factor <= 0 {
			p.log.Warn("Ignoring invalid speed", "session", s.id, "factor", c.Factor)
			return
		}
		s.sink.SetSpeed(c.Factor)
		p.update(func() { s.speed = c.Factor })
	case types.SeekTo:
		s.decoder.RequestSeek(c.PositionMs)
	default:
		p.log.Warn("Unknown instruction", "instruction", cmd)
		return
	}
	p.log.Debug("Instruction applied", "session", s.id, "instruction", cmd)
}

// newStream tears down the active pair and builds a new one from c.Source.
// On failure the loop is left without an active stream.
func (p *Player) newStream(ctx context.Context, c types.NewStream) {
	p.stop()

	id := uuid.NewString()
	log := p.log.With("session", id)

	opts := p.cfg.Decoder
	opts.Logger = log
	decoder, err := stream.New(ctx, c.Source, p.events, opts)
	if err != nil {
		log.Error("Failed to open stream", "name", c.Name, "error", err)
		p.report(id, err)
		return
	}

	// The sink pulls from its own goroutine once created; the decoder
	// accessors are not safe to call after that.
	rate, channels := decoder.SampleRate(), decoder.Channels()

	sink, err := p.device.NewSink(decoder, func(err error) { p.notifyEnd(id, err) })
	if err != nil {
		decoder.Close()
		log.Error("Failed to create output sink", "name", c.Name, "error", err)
		p.report(id, err)
		return
	}

	p.update(func() {
		p.active = &session{
			id:      id,
			name:    c.Name,
			decoder: decoder,
			sink:    sink,
			state:   types.StatePlaying,
			speed:   1,
			started: time.Now(),
		}
	})

	log.Info("Stream started",
		"name", c.Name,
		"sample_rate", rate,
		"channels", channels)
}

// notifyEnd is the end callback of a sink. It runs on a sink goroutine.
func (p *Player) notifyEnd(id string, err error) {
	select {
	case p.ended <- streamEnd{id: id, err: err}:
	case <-p.done:
	}
}

func (p *Player) finish(e streamEnd) {
	if p.active == nil || p.active.id != e.id {
		p.log.Debug("Ignoring end of replaced stream", "session", e.id)
		return
	}

	if e.err != nil {
		p.log.Warn("Stream ended with error", "session", e.id, "error", e.err)
	} else {
		p.log.Info("Stream finished", "session", e.id)
	}
	p.stop()
	p.report(e.id, e.err)
}

// stop releases the active pair. The decoder goes first so a sink blocked
// on a source read observes closure.
func (p *Player) stop() {
	s := p.active
	if s == nil {
		return
	}
	p.update(func() { p.active = nil })

	if err := s.decoder.Close(); err != nil {
		p.log.Warn("Failed to close decoder", "session", s.id, "error", err)
	}
	if err := s.sink.Close(); err != nil {
		p.log.Warn("Failed to close sink", "session", s.id, "error", err)
	}
	p.log.Debug("Stream released", "session", s.id)
}

func (p *Player) report(id string, err error) {
	if p.cfg.OnStreamEnd != nil {
		p.cfg.OnStreamEnd(id, err)
	}
}

func (p *Player) update(fn func()) {
	p.mu.Lock()
	fn()
	p.mu.Unlock()
}

// GetPlaybackStatus returns the transport state of the active stream and the
// position of its last decoded packet. Implements types.PlaybackMonitor.
func (p *Player) GetPlaybackStatus() types.PlaybackStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.active
	if s == nil {
		return types.PlaybackStatus{State: types.StateIdle, Speed: 1}
	}

	progress := s.decoder.Progress()
	return types.PlaybackStatus{
		SessionID:   s.id,
		StreamName:  s.name,
		State:       s.state,
		Speed:       s.speed,
		SampleRate:  progress.Spec.Rate,
		Channels:    progress.Spec.Channels,
		Position:    progress.Position,
		ElapsedTime: time.Since(s.started),
	}
}
