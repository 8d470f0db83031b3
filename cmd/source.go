package cmd

import (
	"context"
	"log/slog"

	"github.com/drgolem/podstream/internal/config"
	"github.com/drgolem/podstream/pkg/bytesource"
	"github.com/drgolem/podstream/pkg/chunksource"
	"github.com/drgolem/podstream/pkg/types"
)

// chunkConfig builds the chunk source configuration from the environment.
func chunkConfig(cfg config.Config) chunksource.Config {
	cc := chunksource.DefaultConfig()
	cc.ChunkSize = cfg.ChunkSize
	cc.Downloader.ChunkSize = cfg.ChunkSize
	cc.Downloader.UserAgent = cfg.UserAgent
	cc.Logger = slog.Default()
	return cc
}

// openByteSource starts pumping the stream at location into a byte source.
// The pump runs until the stream is exhausted, the source is closed or ctx
// is done.
func openByteSource(ctx context.Context, location string, cfg config.Config) (*bytesource.Source, error) {
	s, err := types.ParseStream(location)
	if err != nil {
		return nil, err
	}
	src, err := chunksource.New(ctx, s, chunkConfig(cfg))
	if err != nil {
		return nil, err
	}

	bs, mailbox := bytesource.NewPair(4)
	go func() {
		defer src.Close()
		if err := src.Pump(ctx, mailbox); err != nil {
			slog.Error("Failed to read stream", "location", location, "error", err)
		}
	}()
	return bs, nil
}
