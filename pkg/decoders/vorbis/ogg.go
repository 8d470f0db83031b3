package vorbis

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/drgolem/podstream/pkg/decoders/internal/streamio"
	"github.com/drgolem/podstream/pkg/types"
)

const (
	pageHeaderSize = 27
	maxPageSize    = pageHeaderSize + 255 + 255*255

	flagContinued = 0x01
	flagBOS       = 0x02
	flagEOS       = 0x04
)

var capturePattern = []byte("OggS")

var errBadChecksum = errors.New("ogg: page checksum mismatch")

// page is one Ogg page. Granule is -1 when no packet ends on the page.
type page struct {
	pos      int64
	flags    byte
	granule  int64
	serial   uint32
	seq      uint32
	segments []byte
	body     []byte
}

func (p *page) continued() bool { return p.flags&flagContinued != 0 }
func (p *page) bos() bool       { return p.flags&flagBOS != 0 }
func (p *page) eos() bool       { return p.flags&flagEOS != 0 }

// packets splits the page body along its lacing values. The last element is
// incomplete when the final lacing value is 255.
func (p *page) packets() (parts [][]byte, lastComplete bool) {
	body := p.body
	start, size := 0, 0
	for i, l := range p.segments {
		size += int(l)
		if l < 255 {
			parts = append(parts, body[start:start+size])
			start += size
			size = 0
			lastComplete = true
			continue
		}
		if i == len(p.segments)-1 {
			parts = append(parts, body[start:start+size])
			lastComplete = false
		}
	}
	return parts, lastComplete
}

// pageReader reads Ogg pages, skipping garbage and pages failing the checksum.
type pageReader struct {
	r       *streamio.Reader
	skipped int64
	corrupt int
}

func (pr *pageReader) next() (*page, error) {
	for {
		if err := pr.sync(); err != nil {
			return nil, err
		}
		p, err := pr.read()
		if errors.Is(err, errBadChecksum) {
			pr.corrupt++
			continue
		}
		return p, err
	}
}

// sync discards bytes up to the next capture pattern.
func (pr *pageReader) sync() error {
	for skipped := 0; skipped <= maxPageSize; skipped++ {
		b, err := pr.r.Peek(len(capturePattern))
		if err != nil {
			return streamio.EndOfStream(err)
		}
		if string(b) == string(capturePattern) {
			pr.skipped += int64(skipped)
			return nil
		}
		if err := pr.r.Discard(1); err != nil {
			return streamio.EndOfStream(err)
		}
	}
	return &types.LimitError{Msg: fmt.Sprintf("ogg: no page within %d bytes", maxPageSize)}
}

// read parses the page at the reader position. On a checksum mismatch only
// the capture pattern is consumed so the next sync starts inside the page.
func (pr *pageReader) read() (*page, error) {
	pos := pr.r.Pos()
	hdr, err := pr.r.Peek(pageHeaderSize)
	if err != nil {
		return nil, streamio.EndOfStream(err)
	}
	if hdr[4] != 0 {
		if err := pr.r.Discard(len(capturePattern)); err != nil {
			return nil, streamio.EndOfStream(err)
		}
		return nil, fmt.Errorf("ogg: page version %d: %w", hdr[4], errBadChecksum)
	}
	nsegs := int(hdr[26])
	full, err := pr.r.Peek(pageHeaderSize + nsegs)
	if err != nil {
		return nil, streamio.EndOfStream(err)
	}
	bodySize := 0
	for _, l := range full[pageHeaderSize:] {
		bodySize += int(l)
	}

	raw, err := pr.r.Peek(pageHeaderSize + nsegs + bodySize)
	if err != nil {
		return nil, streamio.EndOfStream(err)
	}
	want := binary.LittleEndian.Uint32(raw[22:26])
	if pageChecksum(raw) != want {
		if err := pr.r.Discard(len(capturePattern)); err != nil {
			return nil, streamio.EndOfStream(err)
		}
		return nil, errBadChecksum
	}

	// Peeked bytes are only valid until the next read.
	buf := make([]byte, len(raw))
	if _, err := io.ReadFull(pr.r, buf); err != nil {
		return nil, streamio.EndOfStream(err)
	}
	return &page{
		pos:      pos,
		flags:    buf[5],
		granule:  int64(binary.LittleEndian.Uint64(buf[6:14])),
		serial:   binary.LittleEndian.Uint32(buf[14:18]),
		seq:      binary.LittleEndian.Uint32(buf[18:22]),
		segments: buf[pageHeaderSize : pageHeaderSize+nsegs],
		body:     buf[pageHeaderSize+nsegs:],
	}, nil
}

var crcTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04C11DB7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

// pageChecksum computes the Ogg CRC of a page with its checksum field zeroed.
func pageChecksum(raw []byte) uint32 {
	var crc uint32
	for i, b := range raw {
		if i >= 22 && i < 26 {
			b = 0
		}
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}
