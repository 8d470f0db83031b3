package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	wav "github.com/youpy/go-wav"
	soxr "github.com/zaf/resample"

	"github.com/drgolem/podstream/pkg/audioframe"
	"github.com/drgolem/podstream/pkg/decoders/stream"
	"github.com/drgolem/podstream/pkg/types"
)

var transformCmd = &cobra.Command{
	Use:   "transform <path|url>",
	Short: "Decode an episode and write it as a resampled WAV file",
	Long: `Decode an episode through the streaming decoder, resample it and write a
16-bit WAV file, with optional mono conversion. Remote episodes are decoded
while they download.

Examples:
  # Transform MP3 to 48kHz WAV
  podstream transform episode.mp3 --new-samplerate 48000 --out episode.wav

  # Transform a remote Ogg Vorbis episode to 16kHz mono WAV
  podstream transform https://example.com/episode.ogg --new-samplerate 16000 --mono

  # Transform with default settings (48kHz)
  podstream transform episode.wav

Supported Input Formats:
  - MP3 (.mp3)
  - Ogg Vorbis (.ogg, .oga)
  - WAV (.wav)

Output Format:
  - WAV (16-bit PCM)

Sample Rate Options:
  Common rates: 8000, 16000, 22050, 44100, 48000, 96000, 192000 Hz`,
	Args: cobra.ExactArgs(1),
	Run:  runTransform,
}

func init() {
	rootCmd.AddCommand(transformCmd)

	transformCmd.Flags().Int("new-samplerate", 48000, "Target sample rate in Hz")
	transformCmd.Flags().String("out", "out_transformed.wav", "Output WAV file path")
	transformCmd.Flags().Bool("mono", false, "Convert output to mono signal (average channels)")
}

// transformOptions describes the output of a transform.
type transformOptions struct {
	SampleRate int
	Mono       bool
	OutPath    string
}

func runTransform(cmd *cobra.Command, args []string) {
	setupLogging()
	var opts transformOptions
	var err error
	if opts.SampleRate, err = cmd.Flags().GetInt("new-samplerate"); err != nil {
		slog.Error("Failed to get new-samplerate flag", "error", err)
		os.Exit(1)
	}
	if opts.OutPath, err = cmd.Flags().GetString("out"); err != nil {
		slog.Error("Failed to get out flag", "error", err)
		os.Exit(1)
	}
	if opts.Mono, err = cmd.Flags().GetBool("mono"); err != nil {
		slog.Error("Failed to get mono flag", "error", err)
		os.Exit(1)
	}

	if opts.SampleRate <= 0 || opts.SampleRate > 384000 {
		slog.Error("Invalid sample rate", "rate", opts.SampleRate, "valid_range", "1-384000")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bs, err := openByteSource(ctx, args[0], loadConfig())
	if err != nil {
		slog.Error("Failed to open stream", "location", args[0], "error", err)
		os.Exit(1)
	}

	decoder, err := stream.New(ctx, bs, nil, stream.DefaultOptions())
	if err != nil {
		slog.Error("Failed to create decoder", "error", err)
		os.Exit(1)
	}
	defer decoder.Close()

	if err := transform(decoder, opts); err != nil {
		slog.Error("Transformation failed", "location", args[0], "error", err)
		os.Exit(1)
	}
}

// transform decodes src to the end and writes it to opts.OutPath as a
// 16-bit WAV file at opts.SampleRate. The signal spec of the first packet
// applies to the whole stream.
func transform(src types.Source, opts transformOptions) error {
	inRate, channels := src.SampleRate(), src.Channels()
	if inRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid input spec: %d Hz, %d channels", inRate, channels)
	}

	slog.Info("Audio transformation starting",
		"input_sample_rate", inRate,
		"input_channels", channels,
		"output_sample_rate", opts.SampleRate,
		"output_mono", opts.Mono,
		"output_file", opts.OutPath)

	audioData, inFrames, err := decodeAllAudio(src, channels)
	if err != nil {
		return err
	}
	slog.Debug("Decoding complete", "input_frames", inFrames, "input_bytes", len(audioData))

	resampled, err := resampleAudio(audioData, inRate, opts.SampleRate, channels)
	if err != nil {
		return err
	}
	outFrames := len(resampled) / (channels * audioframe.BytesPerSample)
	slog.Debug("Resampling complete", "output_frames", outFrames, "output_bytes", len(resampled))

	outChannels := channels
	if opts.Mono && channels > 1 {
		resampled = convertToMono16Bit(resampled, channels)
		outChannels = 1
	}

	const bitsPerSample = audioframe.BytesPerSample * 8
	if err := writeWAVFile(opts.OutPath, resampled, uint32(outFrames), uint16(outChannels), uint32(opts.SampleRate), bitsPerSample); err != nil {
		return err
	}

	slog.Info("Transformation complete",
		"input_frames", inFrames,
		"output_frames", outFrames,
		"sample_rate_ratio", fmt.Sprintf("%.3f", float64(opts.SampleRate)/float64(inRate)))
	return nil
}

// decodeAllAudio pulls every sample from src into 16-bit little-endian
// bytes and returns them with the number of frames. A trailing incomplete
// frame is dropped.
func decodeAllAudio(src types.Source, channels int) ([]byte, int, error) {
	const bufferFrames = 4096
	buffer := make([]int16, 0, bufferFrames*channels)
	audioData := make([]byte, 0, cap(buffer)*audioframe.BytesPerSample*10)

	for {
		s, ok := src.NextSample()
		if ok {
			buffer = append(buffer, s)
		}
		if len(buffer) == cap(buffer) || (!ok && len(buffer) > 0) {
			audioData = audioframe.EncodeSamples(audioData, buffer)
			buffer = buffer[:0]
		}
		if !ok {
			break
		}
	}
	if err := src.Err(); err != nil {
		return nil, 0, fmt.Errorf("decode error: %w", err)
	}

	frameBytes := channels * audioframe.BytesPerSample
	totalSamples := len(audioData) / frameBytes
	return audioData[:totalSamples*frameBytes], totalSamples, nil
}

// resampleAudio resamples audio data using SoXR (high-quality resampler)
func resampleAudio(audioData []byte, fromRate, toRate, channels int) ([]byte, error) {
	if fromRate == toRate {
		return audioData, nil
	}

	var bufResampled bytes.Buffer
	bufWriter := bufio.NewWriter(&bufResampled)

	resampler, err := soxr.New(
		bufWriter,
		float64(fromRate),
		float64(toRate),
		channels,
		soxr.I16,   // 16-bit input
		soxr.HighQ, // High quality
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	_, err = resampler.Write(audioData)
	if err != nil {
		resampler.Close()
		return nil, fmt.Errorf("failed to resample: %w", err)
	}

	if err := resampler.Close(); err != nil {
		return nil, fmt.Errorf("failed to close resampler: %w", err)
	}

	if err := bufWriter.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush buffer: %w", err)
	}

	return bufResampled.Bytes(), nil
}

// convertToMono16Bit converts stereo (or multi-channel) 16-bit audio to mono by averaging channels
func convertToMono16Bit(stereoData []byte, channels int) []byte {
	if channels == 1 {
		return stereoData
	}

	monoSize := len(stereoData) / channels
	monoData := make([]byte, monoSize)

	idx := 0
	outIdx := 0

	for idx < len(stereoData) {
		sum := int32(0)
		for ch := 0; ch < channels; ch++ {
			if idx+1 >= len(stereoData) {
				break
			}

			// Read 16-bit sample (little-endian)
			b0 := int16(stereoData[idx])
			b1 := int16(stereoData[idx+1])
			sample := int16((b1 << 8) | b0)

			sum += int32(sample)
			idx += 2
		}

		// Average channels
		avgSample := int16(sum / int32(channels))

		// Write mono sample (16-bit little-endian)
		if outIdx+1 < len(monoData) {
			monoData[outIdx] = byte(avgSample & 0xFF)
			monoData[outIdx+1] = byte((avgSample >> 8) & 0xFF)
			outIdx += 2
		}
	}

	return monoData
}

// writeWAVFile writes audio data to a WAV file
func writeWAVFile(fileName string, audioData []byte, numSamples uint32, numChannels uint16, sampleRate uint32, bitsPerSample uint16) error {
	fOut, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer fOut.Close()

	wavWriter := wav.NewWriter(fOut, numSamples, numChannels, sampleRate, bitsPerSample)

	if _, err := wavWriter.Write(audioData); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}

	return nil
}
