// Package downloader fetches a remote resource once and shares its bytes
// between a live consumer and a persistence path.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

var (
	// ErrShortDownload is returned by SaveTo when the distribution ended
	// before the declared content length was written.
	ErrShortDownload = errors.New("download shorter than declared length")

	// ErrUnexpectedStatus is returned by Start for non-200 responses.
	ErrUnexpectedStatus = errors.New("unexpected http status")
)

// Config holds the downloader configuration.
type Config struct {
	UserAgent        string
	Headers          map[string]string
	ConnectTimeout   time.Duration // Dial and response header timeout, 0 for none
	ChunkSize        int           // Read size for the response body
	SubscriberBuffer int           // Chunks buffered per live subscriber
	Client           *http.Client  // Overrides the client built from the fields above
	Logger           *slog.Logger
}

// DefaultConfig returns the default downloader configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:        "podstream/1.0",
		ConnectTimeout:   15 * time.Second,
		ChunkSize:        32 * 1024,
		SubscriberBuffer: 1000,
	}
}

// Downloader fetches a resource and distributes its chunks.
//
// Every chunk is published to live subscribers and, through a lossless
// subscription, appended to an accumulation buffer. Consumers that start late
// or fall behind read the accumulated bytes first and continue from the
// broadcast.
type Downloader struct {
	url    string
	total  int64
	cfg    Config
	logger *slog.Logger
	hub    *hub

	mu      sync.Mutex
	acc     []byte
	grown   chan struct{} // closed and replaced on every append
	err     error
	accDone chan struct{} // closed when every chunk was accumulated
}

// Start issues the request and spawns the fetch and accumulation tasks.
// The tasks run until the body is exhausted, the network fails or ctx is done.
func Start(ctx context.Context, url string, cfg Config) (*Downloader, error) {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if cfg.UserAgent != "" {
		req.Header.Set("User-Agent", cfg.UserAgent)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := newClient(cfg).Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	// ContentLength is -1 when the server did not declare it.
	total := resp.ContentLength
	if total < 0 {
		logger.Warn("Content length not declared, size unknown", "url", url)
	}

	d := &Downloader{
		url:     url,
		total:   total,
		cfg:     cfg,
		logger:  logger,
		hub:     newHub(),
		grown:   make(chan struct{}),
		accDone: make(chan struct{}),
	}
	if total > 0 {
		d.acc = make([]byte, 0, total)
	}

	accSub := d.hub.subscribe(cfg.SubscriberBuffer, true)
	go d.runAccumulator(accSub)
	go d.runFetch(resp.Body)

	logger.Info("Download started", "url", url, "total", total)
	return d, nil
}

func newClient(cfg Config) *http.Client {
	if cfg.Client != nil {
		return cfg.Client
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true
	transport.ResponseHeaderTimeout = cfg.ConnectTimeout
	return &http.Client{
		Transport: transport,
		Timeout:   0, // No total timeout for streaming
	}
}

func (d *Downloader) runFetch(body io.ReadCloser) {
	defer d.hub.close()
	defer body.Close()

	var offset int64
	buf := make([]byte, d.cfg.ChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			d.hub.publish(Chunk{Offset: offset, Data: chunk})
			offset += int64(n)
		}

		if err == io.EOF {
			d.logger.Info("Download finished", "url", d.url, "bytes", offset)
			return
		}
		if err != nil {
			d.mu.Lock()
			d.err = err
			d.mu.Unlock()
			d.logger.Error("Download failed", "url", d.url, "bytes", offset, "error", err)
			return
		}
	}
}

func (d *Downloader) runAccumulator(sub *Subscription) {
	defer close(d.accDone)
	for c := range sub.Chunks() {
		d.mu.Lock()
		d.acc = append(d.acc, c.Data...)
		close(d.grown)
		d.grown = make(chan struct{})
		d.mu.Unlock()
	}
}

// TotalSize returns the declared content length, ok is false when unknown.
func (d *Downloader) TotalSize() (int64, bool) {
	return d.total, d.total >= 0
}

// Accumulated returns the number of bytes accumulated so far.
func (d *Downloader) Accumulated() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.acc))
}

// Done is closed once the fetch task ended and every chunk was accumulated.
func (d *Downloader) Done() <-chan struct{} {
	return d.accDone
}

// Err returns the network error that ended the fetch, nil on success.
// Only meaningful after Done is closed.
func (d *Downloader) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Subscribe returns a live, lossy subscription starting at the next published chunk.
func (d *Downloader) Subscribe() *Subscription {
	return d.hub.subscribe(d.cfg.SubscriberBuffer, false)
}

// snapshot returns the accumulated bytes from off on. The buffer is
// append-only, so the returned slice stays valid after the lock is released.
func (d *Downloader) snapshot(off int64) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := int64(len(d.acc))
	if off >= n {
		return nil
	}
	return d.acc[off:n:n]
}

// waitAccumulated blocks until at least n bytes were accumulated.
// It returns false if accumulation ended first.
func (d *Downloader) waitAccumulated(ctx context.Context, n int64) (bool, error) {
	for {
		d.mu.Lock()
		have := int64(len(d.acc))
		grown := d.grown
		d.mu.Unlock()
		if have >= n {
			return true, nil
		}

		select {
		case <-grown:
		case <-d.accDone:
			return d.Accumulated() >= n, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// Follow delivers the resource in order, starting at byte offset from,
// until the download ends. Chunks the subscription missed are taken from
// the accumulated buffer. It returns the offset reached.
func (d *Downloader) Follow(ctx context.Context, from int64, emit func([]byte) error) (int64, error) {
	sub := d.Subscribe()
	defer sub.Close()
	return d.follow(ctx, sub, from, emit)
}

func (d *Downloader) follow(ctx context.Context, sub *Subscription, pos int64, emit func([]byte) error) (int64, error) {
	for {
		select {
		case c, ok := <-sub.Chunks():
			if !ok {
				return d.drain(ctx, pos, emit)
			}
			if c.End() <= pos {
				continue
			}
			if c.Offset > pos {
				ok, err := d.waitAccumulated(ctx, c.Offset)
				if err != nil {
					return pos, err
				}
				if !ok {
					return d.drain(ctx, pos, emit)
				}
				gap := d.snapshot(pos)[:c.Offset-pos]
				if err := emit(gap); err != nil {
					return pos, err
				}
				pos = c.Offset
			}
			if err := emit(c.Data[pos-c.Offset:]); err != nil {
				return pos, err
			}
			pos = c.End()

		case <-ctx.Done():
			return pos, ctx.Err()
		}
	}
}

// drain emits whatever was accumulated past pos once accumulation ended.
func (d *Downloader) drain(ctx context.Context, pos int64, emit func([]byte) error) (int64, error) {
	select {
	case <-d.accDone:
	case <-ctx.Done():
		return pos, ctx.Err()
	}
	if tail := d.snapshot(pos); len(tail) > 0 {
		if err := emit(tail); err != nil {
			return pos, err
		}
		pos += int64(len(tail))
	}
	return pos, nil
}

// SaveTo writes the resource to path: the accumulated bytes first, then
// every chunk broadcast afterwards until the download ends.
//
// It returns ErrShortDownload if fewer bytes than the declared length were
// written, and the network error if the fetch failed.
func (d *Downloader) SaveTo(ctx context.Context, path string) error {
	// Subscribe before the snapshot so no chunk falls between the two.
	sub := d.Subscribe()
	defer sub.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	write := func(b []byte) error {
		_, err := f.Write(b)
		return err
	}

	snap := d.snapshot(0)
	if err := write(snap); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}

	written, err := d.follow(ctx, sub, int64(len(snap)), write)
	if err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	fetchErr := d.Err()
	if d.total >= 0 && written < d.total {
		if fetchErr != nil {
			return fmt.Errorf("%w: wrote %d of %d bytes: %w", ErrShortDownload, written, d.total, fetchErr)
		}
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortDownload, written, d.total)
	}
	if fetchErr != nil {
		return fmt.Errorf("download %s: %w", d.url, fetchErr)
	}

	d.logger.Info("Download saved", "path", path, "bytes", written, "dropped_chunks", sub.Dropped())
	return nil
}
