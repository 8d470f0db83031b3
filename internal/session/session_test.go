package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drgolem/podstream/pkg/types"
)

func testContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 13)
	}
	return b
}

// readAll reads a byte source to its end. A short final read is part of
// the stream.
func readAll(r io.Reader) ([]byte, error) {
	var out []byte
	buf := make([]byte, 3000)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

// consume receives one instruction and reads its source on a goroutine.
func consume(t *testing.T, cmds <-chan types.PlaybackInstruction) <-chan []byte {
	t.Helper()
	got := make(chan []byte, 1)
	go func() {
		cmd := <-cmds
		ns, ok := cmd.(types.NewStream)
		if !ok {
			t.Errorf("instruction: got %v, want NewStream", cmd)
			got <- nil
			return
		}
		data, err := readAll(ns.Source)
		if err != nil {
			t.Errorf("read: %v", err)
		}
		ns.Source.Close()
		got <- data
	}()
	return got
}

func TestStreamFile(t *testing.T) {
	content := testContent(100_000)
	path := filepath.Join(t.TempDir(), "episode.mp3")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cmds := make(chan types.PlaybackInstruction, 1)
	got := consume(t, cmds)

	opts := DefaultOptions()
	opts.Chunks.ChunkSize = 4096
	if err := Stream(context.Background(), cmds, types.FileStream(path), opts); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	select {
	case data := <-got:
		if !bytes.Equal(data, content) {
			t.Errorf("relayed %d bytes, want %d identical bytes", len(data), len(content))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}
}

func TestStreamURLSave(t *testing.T) {
	content := testContent(150_000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(content)))
		w.Write(content)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL + "/episode.mp3")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cmds := make(chan types.PlaybackInstruction, 1)
	got := consume(t, cmds)

	opts := DefaultOptions()
	opts.SavePath = filepath.Join(t.TempDir(), "saved.mp3")
	if err := Stream(context.Background(), cmds, types.URLStream(u), opts); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	select {
	case data := <-got:
		if !bytes.Equal(data, content) {
			t.Errorf("relayed %d bytes, want %d identical bytes", len(data), len(content))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}

	saved, err := os.ReadFile(opts.SavePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(saved, content) {
		t.Errorf("saved %d bytes, want %d identical bytes", len(saved), len(content))
	}
}

func TestStreamReceiverClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episode.mp3")
	if err := os.WriteFile(path, testContent(1<<20), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cmds := make(chan types.PlaybackInstruction, 1)
	go func() {
		// The player replaced the stream before reading it.
		cmd := <-cmds
		cmd.(types.NewStream).Source.Close()
	}()

	opts := DefaultOptions()
	opts.Chunks.ChunkSize = 1024
	if err := Stream(context.Background(), cmds, types.FileStream(path), opts); err != nil {
		t.Errorf("Stream: got %v, want nil", err)
	}
}

func TestStreamOpenError(t *testing.T) {
	cmds := make(chan types.PlaybackInstruction, 1)
	missing := filepath.Join(t.TempDir(), "missing.mp3")

	if err := Stream(context.Background(), cmds, types.FileStream(missing), DefaultOptions()); err == nil {
		t.Errorf("Stream: got nil error for a missing file")
	}
	select {
	case cmd := <-cmds:
		t.Errorf("unexpected instruction %v", cmd)
	default:
	}
}

func TestStreamCanceledBeforeHandOff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episode.mp3")
	if err := os.WriteFile(path, testContent(1000), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Nobody receives: the send can only end through the context.
	cmds := make(chan types.PlaybackInstruction)
	err := Stream(ctx, cmds, types.FileStream(path), DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Stream: got %v, want context.Canceled", err)
	}
}

func TestStreamHandOffAfterNewStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episode.mp3")
	if err := os.WriteFile(path, testContent(10_000), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cmds := make(chan types.PlaybackInstruction, 1)
	got := consume(t, cmds)

	var handedOff int
	opts := DefaultOptions()
	opts.OnHandOff = func() { handedOff++ }
	if err := Stream(context.Background(), cmds, types.FileStream(path), opts); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if handedOff != 1 {
		t.Errorf("OnHandOff calls: got %d, want 1", handedOff)
	}

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}
}
