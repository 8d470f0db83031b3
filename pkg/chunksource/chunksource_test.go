package chunksource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/drgolem/podstream/pkg/bytesource"
	"github.com/drgolem/podstream/pkg/types"
)

func content(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func readAll(t *testing.T, src *bytesource.Source, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if m, err := src.Read(make([]byte, 1)); m != 0 || err != io.EOF {
		t.Fatalf("Read at end: got %d, %v, want 0, io.EOF", m, err)
	}
	return buf
}

func TestFilePump(t *testing.T) {
	want := content(10_000)
	path := filepath.Join(t.TempDir(), "episode.wav")
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.ChunkSize = 3000
	s, err := New(context.Background(), types.FileStream(path), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	src, m := bytesource.NewPair(1)
	errc := make(chan error, 1)
	go func() { errc <- s.Pump(context.Background(), m) }()

	got := readAll(t, src, len(want))
	if !bytes.Equal(got, want) {
		t.Error("file bytes differ")
	}
	if err := <-errc; err != nil {
		t.Errorf("Pump: %v", err)
	}
}

func TestFilePumpStopsWhenReceiverCloses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(path, content(100_000), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.ChunkSize = 1000
	s, err := OpenFile(path, cfg)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer s.Close()

	src, m := bytesource.NewPair(1)
	errc := make(chan error, 1)
	go func() { errc <- s.Pump(context.Background(), m) }()

	if _, err := src.Read(make([]byte, 10)); err != nil {
		t.Fatalf("Read: %v", err)
	}
	src.Close()

	if err := <-errc; err != nil {
		t.Errorf("Pump after receiver closed: got %v, want nil", err)
	}
}

func TestOpenFileMissing(t *testing.T) {
	if _, err := OpenFile(filepath.Join(t.TempDir(), "missing.mp3"), DefaultConfig()); err == nil {
		t.Error("OpenFile: expected error for a missing file")
	}
}

func TestURLPump(t *testing.T) {
	want := content(50_000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(want)))
		w.Write(want)
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	cfg := DefaultConfig()
	cfg.Downloader.ChunkSize = 4096
	s, err := New(context.Background(), types.URLStream(u), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	src, m := bytesource.NewPair(1)
	errc := make(chan error, 1)
	go func() { errc <- s.Pump(context.Background(), m) }()

	got := readAll(t, src, len(want))
	if !bytes.Equal(got, want) {
		t.Error("downloaded bytes differ")
	}
	if err := <-errc; err != nil {
		t.Errorf("Pump: %v", err)
	}

	// The relayed download can still be persisted.
	path := filepath.Join(t.TempDir(), "saved.bin")
	if err := s.(*URL).Downloader().SaveTo(context.Background(), path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	saved, _ := os.ReadFile(path)
	if !bytes.Equal(saved, want) {
		t.Error("saved bytes differ")
	}
}
