// Package session wires a stream selection into the render loop: it sources
// the bytes, hands a byte source to the player and reacts to decoder events.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/drgolem/podstream/pkg/bytesource"
	"github.com/drgolem/podstream/pkg/chunksource"
	"github.com/drgolem/podstream/pkg/types"
)

// Options configures Stream.
type Options struct {
	Name            string // Display name, defaults to the stream location
	Chunks          chunksource.Config
	MailboxCapacity int    // Chunks buffered between the pump and the decoder
	SavePath        string // Where to persist a URL stream, empty to skip

	// OnHandOff is called after the NewStream instruction was sent, before
	// pumping starts. Instructions it sends run after the NewStream; it
	// must not block on cmds itself since the player needs the pump to
	// start the stream.
	OnHandOff func()

	Logger *slog.Logger
}

// DefaultOptions returns default stream options.
func DefaultOptions() Options {
	return Options{
		Chunks:          chunksource.DefaultConfig(),
		MailboxCapacity: 1,
		Logger:          slog.Default(),
	}
}

// Stream opens s, sends a NewStream instruction carrying its byte source to
// cmds and pumps the stream's bytes until they are all delivered or the
// player dropped the stream. For URL streams with a SavePath the download is
// then written to disk.
func Stream(ctx context.Context, cmds chan<- types.PlaybackInstruction, s types.Stream, opts Options) error {
	if opts.MailboxCapacity <= 0 {
		opts.MailboxCapacity = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Chunks.Logger == nil {
		opts.Chunks.Logger = opts.Logger
	}
	name := opts.Name
	if name == "" {
		name = s.String()
	}

	src, err := chunksource.New(ctx, s, opts.Chunks)
	if err != nil {
		return fmt.Errorf("open %s: %w", s, err)
	}
	defer src.Close()

	bs, mailbox := bytesource.NewPair(opts.MailboxCapacity)
	select {
	case cmds <- types.NewStream{Source: bs, Name: name}:
	case <-ctx.Done():
		bs.Close()
		return ctx.Err()
	}
	opts.Logger.Debug("Stream handed to player", "name", name)
	if opts.OnHandOff != nil {
		opts.OnHandOff()
	}

	if err := src.Pump(ctx, mailbox); err != nil {
		return fmt.Errorf("pump %s: %w", name, err)
	}

	if u, ok := src.(*chunksource.URL); ok && opts.SavePath != "" {
		if err := u.Downloader().SaveTo(ctx, opts.SavePath); err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
	}
	return nil
}
