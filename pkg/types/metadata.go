package types

import (
	"strings"
	"time"
)

// Tag is a single key/value metadata entry. Keys are stored as found in the stream.
type Tag struct {
	Key   string
	Value string
}

// Chapter is an entry of a table of contents.
type Chapter struct {
	ID    string
	Title string
	Start time.Duration
	End   time.Duration // zero when unknown
}

// StartMs returns the chapter start in milliseconds, the unit SeekTo expects.
func (c Chapter) StartMs() uint64 {
	return uint64(c.Start.Milliseconds())
}

// TableOfContents lists the chapters of a stream in start order.
type TableOfContents struct {
	Chapters []Chapter
}

// MetadataRevision is one complete set of metadata.
type MetadataRevision struct {
	Tags []Tag
	TOC  *TableOfContents
}

// Tag returns the value of the first tag matching key, case-insensitively.
func (r *MetadataRevision) Tag(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, t := range r.Tags {
		if strings.EqualFold(t.Key, key) {
			return t.Value, true
		}
	}
	return "", false
}

// TableOfContents returns the chapter table, nil when the stream has none.
func (r *MetadataRevision) TableOfContents() *TableOfContents {
	if r == nil || r.TOC == nil || len(r.TOC.Chapters) == 0 {
		return nil
	}
	return r.TOC
}

// MetadataLog is the ordered list of revisions found in a stream.
type MetadataLog struct {
	revisions []*MetadataRevision
}

// Push appends a revision.
func (l *MetadataLog) Push(r *MetadataRevision) {
	if r == nil {
		return
	}
	l.revisions = append(l.revisions, r)
}

// Latest returns the newest revision, nil when the log is empty.
func (l *MetadataLog) Latest() *MetadataRevision {
	if l == nil || len(l.revisions) == 0 {
		return nil
	}
	return l.revisions[len(l.revisions)-1]
}

// Len returns the number of revisions.
func (l *MetadataLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.revisions)
}
