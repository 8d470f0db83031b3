package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drgolem/podstream/internal/config"
	"github.com/drgolem/podstream/internal/session"
	"github.com/drgolem/podstream/pkg/audioplayer"
	"github.com/drgolem/podstream/pkg/output"
	"github.com/drgolem/podstream/pkg/output/beepsink"
	"github.com/drgolem/podstream/pkg/output/pasink"
	"github.com/drgolem/podstream/pkg/types"
)

var (
	playBackend    string
	playDevice     int
	playSampleRate int
	playFrames     int
	playCapacity   uint64
	playChapter    int
	playSpeed      float64
	playStartMs    uint64
	playSave       string
)

// playCmd represents the play command
var playCmd = &cobra.Command{
	Use:   "play <path|url>",
	Short: "Play a podcast episode from a file or URL",
	Long: `Play an episode while it downloads. Local files are read in chunks through
the same pipeline as remote streams.

Examples:
  # Play a remote episode through the beep speaker
  podstream play https://example.com/episode.mp3

  # Start at the third chapter, a bit faster
  podstream play --chapter 2 --speed 1.25 episode.mp3

  # Keep a copy of the download
  podstream play --save episode.mp3 https://example.com/episode.mp3

  # PortAudio callback output on device 0
  podstream play --backend portaudio -d 0 episode.ogg

Supported Formats:
  MP3:  MPEG-1/2 layer III, ID3v2 tags and chapters
  Ogg:  Vorbis, comment tags and CHAPTERxxx chapters
  WAV:  8/16/24/32-bit PCM, IEEE float, A-law, mu-law

Status Reporting:
  Playback status is logged every 2 seconds with the stream position,
  transport state and speed.`,
	Args: cobra.ExactArgs(1),
	Run:  runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	def := config.Default()
	playCmd.Flags().StringVar(&playBackend, "backend", def.Backend, "Output backend: beep or portaudio")
	playCmd.Flags().IntVarP(&playDevice, "device", "d", def.Device, "PortAudio output device index")
	playCmd.Flags().IntVar(&playSampleRate, "sample-rate", def.SampleRate, "Speaker sample rate for the beep backend")
	playCmd.Flags().IntVarP(&playFrames, "frames", "f", def.Frames, "PortAudio frames per buffer")
	playCmd.Flags().Uint64VarP(&playCapacity, "capacity", "c", def.Capacity, "Ringbuffer capacity (number of frames) for the portaudio backend")
	playCmd.Flags().IntVar(&playChapter, "chapter", -1, "Seek to this chapter (from 0) once the chapter table is known")
	playCmd.Flags().Float64Var(&playSpeed, "speed", 1, "Playback speed factor")
	playCmd.Flags().Uint64Var(&playStartMs, "start-ms", 0, "Start position in milliseconds")
	playCmd.Flags().StringVar(&playSave, "save", "", "Save a URL stream to this path")
}

// applyEnv fills the device flags the user did not set from the environment.
func applyEnv(cmd *cobra.Command, cfg config.Config) {
	flags := cmd.Flags()
	if !flags.Changed("backend") {
		playBackend = cfg.Backend
	}
	if !flags.Changed("device") {
		playDevice = cfg.Device
	}
	if !flags.Changed("sample-rate") {
		playSampleRate = cfg.SampleRate
	}
	if !flags.Changed("frames") {
		playFrames = cfg.Frames
	}
	if !flags.Changed("capacity") {
		playCapacity = cfg.Capacity
	}
}

func runPlay(cmd *cobra.Command, args []string) {
	setupLogging()
	cfg := loadConfig()
	applyEnv(cmd, cfg)

	location := args[0]
	stream, err := types.ParseStream(location)
	if err != nil {
		slog.Error("Invalid stream location", "error", err)
		os.Exit(1)
	}
	if playSpeed <= 0 {
		slog.Error("Invalid speed", "speed", playSpeed)
		os.Exit(1)
	}

	savePath := playSave
	if savePath == "" && cfg.SaveDir != "" && stream.Kind == types.StreamURL {
		savePath = filepath.Join(cfg.SaveDir, filepath.Base(stream.URL.Path))
	}

	slog.Info("Opening output device", "backend", playBackend)
	device, err := openDevice()
	if err != nil {
		slog.Error("Failed to open output device", "backend", playBackend, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan types.ReceivedData, 1000)
	cmds := make(chan types.PlaybackInstruction, 1)
	ended := make(chan error, 1)

	pcfg := audioplayer.DefaultConfig()
	pcfg.OnStreamEnd = func(sessionID string, err error) {
		select {
		case ended <- err:
		default:
		}
	}
	player := audioplayer.New(device, events, pcfg)

	runDone := make(chan struct{})
	go func() {
		player.Run(ctx, cmds)
		close(runDone)
	}()

	seeker := session.NewChapterSeeker(cmds, playChapter, slog.Default())
	go seeker.Run(ctx, events)

	opts := session.DefaultOptions()
	opts.Chunks = chunkConfig(cfg)
	opts.SavePath = savePath
	opts.OnHandOff = func() {
		go sendInitial(ctx, cmds)
	}
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		if err := session.Stream(ctx, cmds, stream, opts); err != nil {
			slog.Error("Stream failed", "stream", location, "error", err)
			select {
			case ended <- err:
			default:
			}
			return
		}
		if savePath != "" {
			slog.Info("Episode saved", "path", savePath)
		}
	}()

	statusDone := make(chan struct{})
	go monitorPlayback(player, statusDone)

	exitCode := 0
	select {
	case err := <-ended:
		if err != nil {
			slog.Error("Playback failed", "error", err)
			exitCode = 1
		} else {
			slog.Info("Playback completed successfully")
		}
		waitSession(ctx, sessionDone, savePath)
	case <-ctx.Done():
		slog.Info("Signal received, stopping playback")
	}

	close(statusDone)
	stop()
	<-runDone

	if err := device.Close(); err != nil {
		slog.Warn("Failed to close output device", "error", err)
	}
	slog.Info("Exiting")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// waitSession blocks until the session goroutine returns when the episode is
// being saved, so the file is complete before the context is cancelled. A
// signal ends the wait.
func waitSession(ctx context.Context, done <-chan struct{}, savePath string) {
	if savePath == "" {
		return
	}
	select {
	case <-done:
		return
	default:
	}
	slog.Info("Waiting for the episode download to finish", "path", savePath)
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// sendInitial applies the speed and start position flags to a stream that
// was just handed to the player.
func sendInitial(ctx context.Context, cmds chan<- types.PlaybackInstruction) {
	var initial []types.PlaybackInstruction
	if playSpeed != 1 {
		initial = append(initial, types.SetSpeed{Factor: playSpeed})
	}
	if playStartMs > 0 {
		initial = append(initial, types.SeekTo{PositionMs: playStartMs})
	}
	for _, in := range initial {
		select {
		case cmds <- in:
		case <-ctx.Done():
			return
		}
	}
}

func openDevice() (output.Device, error) {
	switch playBackend {
	case "beep":
		cfg := beepsink.DefaultConfig()
		cfg.SampleRate = playSampleRate
		return beepsink.Open(cfg)
	case "portaudio":
		cfg := pasink.DefaultConfig()
		cfg.DeviceIndex = playDevice
		cfg.FramesPerBuffer = playFrames
		cfg.Capacity = playCapacity
		return pasink.Open(cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q, want one of %v", playBackend, output.Backends)
	}
}

// monitorPlayback logs the status of any PlaybackMonitor every 2 seconds
func monitorPlayback(monitor types.PlaybackMonitor, done chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status := monitor.GetPlaybackStatus()
			if status.State == types.StateIdle {
				continue
			}

			slog.Info("Playback status",
				"stream", status.StreamName,
				"state", status.State,
				"position", formatClock(status.Position),
				"speed", fmt.Sprintf("%.2fx", status.Speed),
				"format", fmt.Sprintf("%dHz:%dch", status.SampleRate, status.Channels),
				"elapsed", formatClock(status.ElapsedTime))
		case <-done:
			return
		}
	}
}

// formatClock formats d as hh:mm:ss.msec
func formatClock(d time.Duration) string {
	totalMilliseconds := d.Milliseconds()
	hours := totalMilliseconds / 3600000
	minutes := (totalMilliseconds % 3600000) / 60000
	seconds := (totalMilliseconds % 60000) / 1000
	milliseconds := totalMilliseconds % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, milliseconds)
}
