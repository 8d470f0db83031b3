package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drgolem/podstream/pkg/downloader"
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <url> <path>",
	Short: "Download an episode to a file",
	Long: `Download a remote episode to a local file. The saved file is a byte-for-byte
copy of the resource and can be played later as a local stream.

A download that ends before the declared Content-Length is reported as an
error and the command exits with a non-zero status.

Examples:
  podstream download https://example.com/episode.mp3 episode.mp3`,
	Args: cobra.ExactArgs(2),
	Run:  runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) {
	setupLogging()
	cfg := loadConfig()
	address, path := args[0], args[1]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dcfg := downloader.DefaultConfig()
	dcfg.UserAgent = cfg.UserAgent
	dcfg.ChunkSize = cfg.ChunkSize
	dcfg.Logger = slog.Default()

	start := time.Now()
	d, err := downloader.Start(ctx, address, dcfg)
	if err != nil {
		slog.Error("Failed to start download", "url", address, "error", err)
		os.Exit(1)
	}
	if total, ok := d.TotalSize(); ok {
		slog.Info("Downloading", "url", address, "bytes", total)
	} else {
		slog.Info("Downloading, length unknown", "url", address)
	}

	progressDone := make(chan struct{})
	go monitorDownload(d, progressDone)

	err = d.SaveTo(ctx, path)
	close(progressDone)
	if err != nil {
		if errors.Is(err, downloader.ErrShortDownload) {
			slog.Error("Download incomplete", "path", path, "error", err)
		} else {
			slog.Error("Download failed", "path", path, "error", err)
		}
		stop()
		os.Exit(1)
	}

	slog.Info("Download complete",
		"path", path,
		"bytes", d.Accumulated(),
		"elapsed", time.Since(start).Round(time.Millisecond))
}

// monitorDownload logs the downloaded byte count every 2 seconds
func monitorDownload(d *downloader.Downloader, done chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			total, known := d.TotalSize()
			if known && total > 0 {
				slog.Info("Download progress", "bytes", d.Accumulated(), "total", total,
					"percent", d.Accumulated()*100/total)
			} else {
				slog.Info("Download progress", "bytes", d.Accumulated())
			}
		case <-d.Done():
			return
		case <-done:
			return
		}
	}
}
