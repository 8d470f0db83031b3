// Package streamio holds helpers shared by the format readers for sources
// whose bytes may still be arriving.
package streamio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Skip discards n bytes by reading them. Seeking forward on a growing source
// is clamped to the bytes received so far, reading blocks until they arrive.
func Skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	got, err := io.CopyN(io.Discard, r, n)
	if err != nil {
		return fmt.Errorf("skip %d bytes (got %d): %w", n, got, err)
	}
	return nil
}

// SeekTo positions rs at pos. When the source lands short of pos, the rest
// is read and discarded.
func SeekTo(rs io.ReadSeeker, pos int64) error {
	landed, err := rs.Seek(pos, io.SeekStart)
	if err != nil {
		return err
	}
	return Skip(rs, pos-landed)
}

// Position returns the current offset of rs.
func Position(rs io.Seeker) (int64, error) {
	return rs.Seek(0, io.SeekCurrent)
}

// IndexEntry maps a timestamp to the byte offset of the packet starting there.
type IndexEntry struct {
	TS  uint64
	Pos int64
}

// SeekIndex records packet positions in timestamp order as packets are read.
type SeekIndex struct {
	entries []IndexEntry
	every   uint64
}

// NewSeekIndex creates an index keeping at most one entry per interval of
// timestamp units.
func NewSeekIndex(every uint64) *SeekIndex {
	return &SeekIndex{every: every}
}

// Insert records a packet. Entries that are not past the last one or closer
// than the interval to it are ignored.
func (x *SeekIndex) Insert(ts uint64, pos int64) {
	if n := len(x.entries); n > 0 {
		last := x.entries[n-1]
		if ts <= last.TS || ts-last.TS < x.every {
			return
		}
	}
	x.entries = append(x.entries, IndexEntry{TS: ts, Pos: pos})
}

// Search returns the last entry at or before ts.
func (x *SeekIndex) Search(ts uint64) (IndexEntry, bool) {
	i := sort.Search(len(x.entries), func(i int) bool { return x.entries[i].TS > ts })
	if i == 0 {
		return IndexEntry{}, false
	}
	return x.entries[i-1], true
}

// Last returns the newest entry.
func (x *SeekIndex) Last() (IndexEntry, bool) {
	if len(x.entries) == 0 {
		return IndexEntry{}, false
	}
	return x.entries[len(x.entries)-1], true
}

// Len returns the number of entries.
func (x *SeekIndex) Len() int {
	return len(x.entries)
}

// Reader is a buffered reader that tracks its byte offset in the source.
type Reader struct {
	src io.ReadSeeker
	br  *bufio.Reader
	pos int64
}

// NewReader creates a Reader with a buffer of the given size, positioned at
// the current offset of src.
func NewReader(src io.ReadSeeker, size int) *Reader {
	pos, _ := Position(src)
	return &Reader{src: src, br: bufio.NewReaderSize(src, size), pos: pos}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.br.Read(p)
	r.pos += int64(n)
	return n, err
}

// Peek returns the next n bytes without advancing.
func (r *Reader) Peek(n int) ([]byte, error) {
	return r.br.Peek(n)
}

// Discard skips n bytes.
func (r *Reader) Discard(n int) error {
	m, err := r.br.Discard(n)
	r.pos += int64(m)
	return err
}

// Pos returns the offset of the next unread byte.
func (r *Reader) Pos() int64 {
	return r.pos
}

// SeekTo moves to pos, dropping buffered bytes. On failure the reader is
// left wherever the source landed.
func (r *Reader) SeekTo(pos int64) error {
	err := SeekTo(r.src, pos)
	if err != nil {
		if landed, perr := Position(r.src); perr == nil {
			pos = landed
		}
	}
	r.br.Reset(r.src)
	r.pos = pos
	return err
}

// EndOfStream maps the errors of a truncated final read to io.EOF.
func EndOfStream(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return io.EOF
	}
	return err
}
