package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/drgolem/podstream/pkg/types"
)

// ChapterSeeker consumes decoder events. When a table of contents arrives it
// asks the player to seek to the start of one chapter; timestamps are kept
// as the last known position.
type ChapterSeeker struct {
	cmds    chan<- types.PlaybackInstruction
	chapter int
	log     *slog.Logger

	mu       sync.Mutex
	chapters []types.Chapter
	last     types.Timestamp
	title    string
}

// NewChapterSeeker seeks to the chapter at index chapter, counted from zero.
// A negative index only tracks events.
func NewChapterSeeker(cmds chan<- types.PlaybackInstruction, chapter int, log *slog.Logger) *ChapterSeeker {
	if log == nil {
		log = slog.Default()
	}
	return &ChapterSeeker{cmds: cmds, chapter: chapter, log: log}
}

// Run handles events until events is closed or ctx is done.
func (c *ChapterSeeker) Run(ctx context.Context, events <-chan types.ReceivedData) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Handle(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

// Handle processes one event. The seek instruction is sent blocking, like
// any other instruction, unless ctx is done.
func (c *ChapterSeeker) Handle(ctx context.Context, ev types.ReceivedData) {
	switch ev := ev.(type) {
	case types.Timestamp:
		c.mu.Lock()
		c.last = ev
		c.mu.Unlock()
	case types.Metadata:
		c.onMetadata(ctx, ev.Revision)
	}
}

func (c *ChapterSeeker) onMetadata(ctx context.Context, rev *types.MetadataRevision) {
	var chapters []types.Chapter
	if toc := rev.TableOfContents(); toc != nil {
		chapters = toc.Chapters
	}
	title, _ := rev.Tag("title")

	c.mu.Lock()
	c.chapters = chapters
	c.title = title
	c.mu.Unlock()

	c.log.Info("Metadata received", "title", title, "chapters", len(chapters))
	if c.chapter < 0 || len(chapters) == 0 {
		return
	}

	ch, err := lo.Nth(chapters, c.chapter)
	if err != nil {
		c.log.Warn("Chapter not found", "chapter", c.chapter, "chapters", len(chapters))
		return
	}

	select {
	case c.cmds <- types.SeekTo{PositionMs: ch.StartMs()}:
		c.log.Info("Seeking to chapter", "chapter", c.chapter, "title", ch.Title, "start", ch.Start)
	case <-ctx.Done():
	}
}

// Position returns the position of the last decoded packet reported.
func (c *ChapterSeeker) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last.Position
}

// Chapters returns the chapters of the latest metadata.
func (c *ChapterSeeker) Chapters() []types.Chapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chapters
}

// Title returns the title tag of the latest metadata.
func (c *ChapterSeeker) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}
