package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/drgolem/podstream/pkg/decoders"
	"github.com/drgolem/podstream/pkg/decoders/stream"
	"github.com/drgolem/podstream/pkg/types"
)

var probeCmd = &cobra.Command{
	Use:   "probe <path|url>",
	Short: "Print stream format, tags and chapters",
	Long: `Probe a local file or HTTP(S) URL and print what the decoder found:
container format, codec, signal spec, duration, tags and chapters.

Examples:
  podstream probe episode.mp3
  podstream probe https://example.com/feed/episode.ogg`,
	Args: cobra.ExactArgs(1),
	Run:  runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) {
	setupLogging()
	location := args[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bs, err := openByteSource(ctx, location, loadConfig())
	if err != nil {
		slog.Error("Failed to open stream", "location", location, "error", err)
		os.Exit(1)
	}

	var probed *types.ProbeResult
	opts := stream.DefaultOptions()
	opts.Probe = func(src types.MediaSource) (*types.ProbeResult, error) {
		res, err := decoders.Probe(src)
		probed = res
		return res, err
	}

	events := make(chan types.ReceivedData, 1)
	decoder, err := stream.New(ctx, bs, events, opts)
	if err != nil {
		slog.Error("Failed to decode stream", "location", location, "error", err)
		os.Exit(1)
	}
	defer decoder.Close()

	var rev *types.MetadataRevision
	select {
	case ev := <-events:
		if m, ok := ev.(types.Metadata); ok {
			rev = m.Revision
		}
	default:
	}

	renderStreamInfo(location, probed.FormatName, decoder, rev)
	renderTags(rev)
	renderChapters(rev)
}

func renderStreamInfo(location, format string, d *stream.Decoder, rev *types.MetadataRevision) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Property", "Value"})

	duration := "unknown"
	if total, ok := d.TotalDuration(); ok {
		duration = formatClock(total)
	}
	t.AppendRows([]table.Row{
		{"Location", location},
		{"Format", format},
		{"Codec", d.Track().Params.Codec},
		{"Sample rate", fmt.Sprintf("%d Hz", d.SampleRate())},
		{"Channels", d.Channels()},
		{"Duration", duration},
	})
	if title, ok := rev.Tag("title"); ok {
		t.AppendRow(table.Row{"Title", title})
	}
	t.Render()
}

func renderTags(rev *types.MetadataRevision) {
	if rev == nil || len(rev.Tags) == 0 {
		fmt.Println("No tags")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Tag", "Value"})
	t.AppendRows(lo.Map(rev.Tags, func(tag types.Tag, _ int) table.Row {
		return table.Row{tag.Key, tag.Value}
	}))
	t.Render()
}

func renderChapters(rev *types.MetadataRevision) {
	toc := rev.TableOfContents()
	if toc == nil {
		fmt.Println("No chapters")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Start", "End", "Title"})
	t.AppendRows(lo.Map(toc.Chapters, func(ch types.Chapter, i int) table.Row {
		end := "-"
		if ch.End > 0 {
			end = formatClock(ch.End)
		}
		return table.Row{i, formatClock(ch.Start), end, ch.Title}
	}))
	t.Render()
}
