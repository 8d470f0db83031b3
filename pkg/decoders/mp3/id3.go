package mp3

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/drgolem/podstream/pkg/decoders/internal/streamio"
	"github.com/drgolem/podstream/pkg/types"
)

const id3HeaderSize = 10

// id3Size returns the full size of an ID3v2 tag starting with hdr, footer included.
func id3Size(hdr []byte) (int64, bool) {
	if len(hdr) < id3HeaderSize || string(hdr[0:3]) != "ID3" {
		return 0, false
	}
	size := int64(hdr[6]&0x7F)<<21 | int64(hdr[7]&0x7F)<<14 | int64(hdr[8]&0x7F)<<7 | int64(hdr[9]&0x7F)
	size += id3HeaderSize
	if hdr[5]&0x10 != 0 {
		size += id3HeaderSize
	}
	return size, true
}

// id3Padding is appended to every tag before parsing. tag counts frame
// offsets from the start of the header but bounds them by the size without
// it, and drops an unknown last frame such as CHAP unless padding follows.
const id3Padding = id3HeaderSize

// padID3 returns a copy of the tag in raw with id3Padding zero bytes after
// its frames and the header size adjusted. A footer is dropped.
func padID3(raw []byte) []byte {
	size := int(raw[6]&0x7F)<<21 | int(raw[7]&0x7F)<<14 | int(raw[8]&0x7F)<<7 | int(raw[9]&0x7F)
	size = min(size, len(raw)-id3HeaderSize)

	out := make([]byte, id3HeaderSize+size+id3Padding)
	copy(out, raw[:id3HeaderSize+size])
	out[5] &^= 0x10
	padded := size + id3Padding
	out[6] = byte(padded >> 21 & 0x7F)
	out[7] = byte(padded >> 14 & 0x7F)
	out[8] = byte(padded >> 7 & 0x7F)
	out[9] = byte(padded & 0x7F)
	return out
}

// parseID3 converts a complete ID3v2 tag into a metadata revision.
func parseID3(raw []byte) (*types.MetadataRevision, error) {
	if len(raw) < id3HeaderSize {
		return nil, fmt.Errorf("id3: short tag")
	}
	m, err := tag.ReadID3v2Tags(bytes.NewReader(padID3(raw)))
	if err != nil {
		return nil, fmt.Errorf("id3: %w", err)
	}

	rev := &types.MetadataRevision{}
	add := func(key, value string) {
		if value != "" {
			rev.Tags = append(rev.Tags, types.Tag{Key: key, Value: value})
		}
	}
	add("title", m.Title())
	add("artist", m.Artist())
	add("album", m.Album())
	add("album_artist", m.AlbumArtist())
	add("composer", m.Composer())
	add("genre", m.Genre())
	add("comment", m.Comment())
	if y := m.Year(); y > 0 {
		add("date", strconv.Itoa(y))
	}
	if n, _ := m.Track(); n > 0 {
		add("track", strconv.Itoa(n))
	}

	v4 := m.Format() == tag.ID3v2_4
	var chapters []types.Chapter
	for key, v := range m.Raw() {
		if !strings.HasPrefix(key, "CHAP") {
			continue
		}
		b, ok := v.([]byte)
		if !ok {
			continue
		}
		if ch, err := parseChapter(b, v4); err == nil {
			chapters = append(chapters, ch)
		}
	}
	if len(chapters) > 0 {
		sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].Start < chapters[j].Start })
		rev.TOC = &types.TableOfContents{Chapters: chapters}
	}
	return rev, nil
}

// parseChapter decodes the body of a CHAP frame: element id, start and end
// times in milliseconds, byte offsets and embedded frames such as TIT2.
func parseChapter(b []byte, v4 bool) (types.Chapter, error) {
	end := bytes.IndexByte(b, 0)
	if end < 0 || len(b) < end+1+16 {
		return types.Chapter{}, fmt.Errorf("short CHAP frame")
	}

	ch := types.Chapter{ID: string(b[:end])}
	b = b[end+1:]
	ch.Start = time.Duration(binary.BigEndian.Uint32(b[0:4])) * time.Millisecond
	ch.End = time.Duration(binary.BigEndian.Uint32(b[4:8])) * time.Millisecond
	b = b[16:]

	for len(b) >= 10 {
		id := string(b[0:4])
		var size int
		if v4 {
			size = int(b[4]&0x7F)<<21 | int(b[5]&0x7F)<<14 | int(b[6]&0x7F)<<7 | int(b[7]&0x7F)
		} else {
			size = int(binary.BigEndian.Uint32(b[4:8]))
		}
		b = b[10:]
		if size > len(b) || size == 0 {
			break
		}
		if id == "TIT2" {
			ch.Title = decodeText(b[0], b[1:size])
		}
		b = b[size:]
	}

	if ch.Title == "" {
		ch.Title = ch.ID
	}
	return ch, nil
}

var (
	latin1  = charmap.ISO8859_1
	utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	utf16BE = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
)

// decodeText decodes an ID3v2 text field with the given encoding byte.
func decodeText(enc byte, b []byte) string {
	var e encoding.Encoding
	switch enc {
	case 0: // ISO-8859-1
		e = latin1
	case 1: // UTF-16, BOM optional
		e = utf16LE
	case 2: // UTF-16BE
		e = utf16BE
	default: // UTF-8
		return strings.TrimRight(string(b), "\x00")
	}
	out, err := e.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(out), "\x00")
}

// readID3 consumes consecutive ID3v2 tags at the reader position. Seeking
// forward on a growing source is clamped, so tags are read, not skipped.
func readID3(r *streamio.Reader) (*types.MetadataLog, error) {
	log := &types.MetadataLog{}
	for {
		hdr, err := r.Peek(id3HeaderSize)
		if err != nil {
			return log, nil
		}
		size, ok := id3Size(hdr)
		if !ok {
			return log, nil
		}

		raw := make([]byte, size)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("id3: read %d-byte tag: %w", size, err)
		}
		if rev, err := parseID3(raw); err == nil {
			log.Push(rev)
		}
	}
}
