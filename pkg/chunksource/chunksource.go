// Package chunksource produces the chunks of a stream, from a local file or a
// remote URL, into a byte source mailbox.
package chunksource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/drgolem/podstream/pkg/bytesource"
	"github.com/drgolem/podstream/pkg/downloader"
	"github.com/drgolem/podstream/pkg/types"
)

// Source produces the bytes of one stream.
type Source interface {
	// Pump sends every chunk into m and closes m's sending side when done.
	// A closed receiver ends the pump without error.
	Pump(ctx context.Context, m *bytesource.Mailbox) error

	// Close releases the resources held by the source.
	Close() error
}

// Config holds the chunk source configuration.
type Config struct {
	ChunkSize  int // Read size for local files
	Downloader downloader.Config
	Logger     *slog.Logger
}

// DefaultConfig returns the default chunk source configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:  64 * 1024,
		Downloader: downloader.DefaultConfig(),
	}
}

// New opens the source selected by s. For URL streams the download starts
// immediately.
func New(ctx context.Context, s types.Stream, cfg Config) (Source, error) {
	switch s.Kind {
	case types.StreamFile:
		return OpenFile(s.Path, cfg)
	case types.StreamURL:
		if s.URL == nil {
			return nil, fmt.Errorf("url stream without address")
		}
		return OpenURL(ctx, s.URL.String(), cfg)
	default:
		return nil, fmt.Errorf("unknown stream kind %d", s.Kind)
	}
}

// File reads a local file. All its bytes are available immediately.
type File struct {
	f         *os.File
	path      string
	chunkSize int
	logger    *slog.Logger
}

// OpenFile opens path for pumping.
func OpenFile(path string, cfg Config) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	return &File{f: f, path: path, chunkSize: cfg.ChunkSize, logger: loggerOf(cfg)}, nil
}

// Size returns the file size.
func (s *File) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (s *File) Pump(ctx context.Context, m *bytesource.Mailbox) error {
	defer m.CloseSend()

	var sent int64
	for {
		buf := make([]byte, s.chunkSize)
		n, err := io.ReadFull(s.f, buf)
		if n > 0 {
			if serr := m.Send(ctx, buf[:n]); serr != nil {
				return ignoreReceiverClosed(serr)
			}
			sent += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			s.logger.Debug("File pumped", "path", s.path, "bytes", sent)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", s.path, err)
		}
	}
}

func (s *File) Close() error {
	return s.f.Close()
}

// URL relays a download into the mailbox.
type URL struct {
	d      *downloader.Downloader
	logger *slog.Logger
}

// OpenURL starts downloading address.
func OpenURL(ctx context.Context, address string, cfg Config) (*URL, error) {
	dcfg := cfg.Downloader
	if dcfg.Logger == nil {
		dcfg.Logger = cfg.Logger
	}
	d, err := downloader.Start(ctx, address, dcfg)
	if err != nil {
		return nil, err
	}
	return &URL{d: d, logger: loggerOf(cfg)}, nil
}

// Downloader returns the underlying download, e.g. to persist it.
func (s *URL) Downloader() *downloader.Downloader {
	return s.d
}

// Pump relays every downloaded byte in order. A relay slower than the
// network catches up from the downloader's accumulated buffer.
func (s *URL) Pump(ctx context.Context, m *bytesource.Mailbox) error {
	defer m.CloseSend()

	n, err := s.d.Follow(ctx, 0, func(b []byte) error {
		return m.Send(ctx, b)
	})
	if err != nil {
		return ignoreReceiverClosed(err)
	}
	s.logger.Debug("Download relayed", "bytes", n)

	if err := s.d.Err(); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	return nil
}

// Close is a no-op; the download ends with its context.
func (s *URL) Close() error {
	return nil
}

func ignoreReceiverClosed(err error) error {
	if errors.Is(err, bytesource.ErrReceiverClosed) {
		return nil
	}
	return err
}

func loggerOf(cfg Config) *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.Default()
}
