package session

import (
	"context"
	"testing"
	"time"

	"github.com/drgolem/podstream/pkg/types"
)

func chapterMetadata() types.Metadata {
	return types.Metadata{Revision: &types.MetadataRevision{
		Tags: []types.Tag{{Key: "TITLE", Value: "Episode 42"}},
		TOC: &types.TableOfContents{Chapters: []types.Chapter{
			{ID: "ch0", Title: "Intro", Start: 0, End: 90 * time.Second},
			{ID: "ch1", Title: "News", Start: 90 * time.Second, End: 1500500 * time.Millisecond},
			{ID: "ch2", Title: "Interview", Start: 1500500 * time.Millisecond},
		}},
	}}
}

func TestChapterSeekerSeeks(t *testing.T) {
	tests := []struct {
		chapter int
		wantMs  uint64
	}{
		{0, 0},
		{1, 90_000},
		{2, 1_500_500},
	}

	for _, tt := range tests {
		cmds := make(chan types.PlaybackInstruction, 1)
		c := NewChapterSeeker(cmds, tt.chapter, nil)
		c.Handle(context.Background(), chapterMetadata())

		select {
		case cmd := <-cmds:
			seek, ok := cmd.(types.SeekTo)
			if !ok {
				t.Fatalf("chapter %d: got %v, want SeekTo", tt.chapter, cmd)
			}
			if seek.PositionMs != tt.wantMs {
				t.Errorf("chapter %d: got %d ms, want %d ms", tt.chapter, seek.PositionMs, tt.wantMs)
			}
		default:
			t.Errorf("chapter %d: no instruction sent", tt.chapter)
		}

		if got := c.Title(); got != "Episode 42" {
			t.Errorf("Title: got %q, want %q", got, "Episode 42")
		}
		if got := len(c.Chapters()); got != 3 {
			t.Errorf("Chapters: got %d, want 3", got)
		}
	}
}

func TestChapterSeekerNoSeek(t *testing.T) {
	tests := []struct {
		name    string
		chapter int
		ev      types.Metadata
	}{
		{"out of range", 3, chapterMetadata()},
		{"disabled", -1, chapterMetadata()},
		{"no chapters", 0, types.Metadata{Revision: &types.MetadataRevision{Tags: []types.Tag{{Key: "title", Value: "x"}}}}},
		{"no revision", 0, types.Metadata{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds := make(chan types.PlaybackInstruction, 1)
			c := NewChapterSeeker(cmds, tt.chapter, nil)
			c.Handle(context.Background(), tt.ev)

			select {
			case cmd := <-cmds:
				t.Errorf("unexpected instruction %v", cmd)
			default:
			}
		})
	}
}

func TestChapterSeekerRun(t *testing.T) {
	cmds := make(chan types.PlaybackInstruction, 1)
	events := make(chan types.ReceivedData, 4)
	c := NewChapterSeeker(cmds, 1, nil)

	events <- chapterMetadata()
	events <- types.Timestamp{TS: 1000, Position: time.Second}
	events <- types.Timestamp{TS: 2000, Position: 2 * time.Second}
	close(events)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after events closed")
	}

	if got := c.Position(); got != 2*time.Second {
		t.Errorf("Position: got %v, want 2s", got)
	}
	if cmd := <-cmds; cmd != (types.SeekTo{PositionMs: 90_000}) {
		t.Errorf("instruction: got %v, want SeekTo(90000ms)", cmd)
	}
}

func TestChapterSeekerCanceled(t *testing.T) {
	// An unbuffered queue nobody reads from.
	cmds := make(chan types.PlaybackInstruction)
	c := NewChapterSeeker(cmds, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		c.Handle(ctx, chapterMetadata())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Handle blocked after cancellation")
	}
}
