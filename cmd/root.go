package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/drgolem/podstream/internal/config"
)

const (
	version = "1.0.0"
)

var (
	verbose bool
	envFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "podstream",
	Version: version,
	Short:   "Streaming podcast player",
	Long: `podstream - plays podcast episodes from local files or URLs while they
download.

Bytes arrive in chunks from the network or disk and are decoded as soon as
enough of them are available, so playback starts before the download ends.
A single render loop owns the output device and applies play, pause, speed
and seek instructions in order.

Features:
  - Progressive playback of MP3, Ogg Vorbis and WAV streams
  - Chapter tables from ID3v2 CHAP frames and Vorbis comments
  - Accurate seeking within the downloaded part of a stream
  - Persisting a download while it plays
  - beep speaker or PortAudio callback output

Commands:
  - play: Play a file or URL with status reporting
  - download: Save a URL to disk
  - probe: Show format, tags and chapters of a stream
  - transform: Convert a stream to a resampled WAV file

Defaults for the device flags are read from PODSTREAM_* environment
variables and a .env file.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Environment file with PODSTREAM_* defaults")
}

// setupLogging installs the text handler on stderr.
func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}

// loadConfig reads the flag defaults, exiting on a malformed environment.
func loadConfig() config.Config {
	cfg, err := config.Load(envFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}
