// Package config loads command defaults from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/samber/lo"

	"github.com/drgolem/podstream/pkg/output"
)

// Environment keys.
const (
	KeyBackend    = "PODSTREAM_BACKEND"
	KeyDevice     = "PODSTREAM_DEVICE"
	KeySampleRate = "PODSTREAM_SAMPLE_RATE"
	KeyFrames     = "PODSTREAM_FRAMES"
	KeyCapacity   = "PODSTREAM_CAPACITY"
	KeyChunkSize  = "PODSTREAM_CHUNK_SIZE"
	KeySaveDir    = "PODSTREAM_SAVE_DIR"
	KeyUserAgent  = "PODSTREAM_USER_AGENT"
)

// Config holds the defaults of the command line flags.
type Config struct {
	Backend    string // Output backend, "beep" or "portaudio"
	Device     int    // PortAudio output device index
	SampleRate int    // Speaker sample rate for the beep backend
	Frames     int    // PortAudio frames per buffer
	Capacity   uint64 // Frame ring capacity for the portaudio backend
	ChunkSize  int    // Read size for local files and downloads
	SaveDir    string // Directory for persisted downloads, empty to skip
	UserAgent  string
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Backend:    "beep",
		Device:     1,
		SampleRate: 44100,
		Frames:     512,
		Capacity:   64,
		ChunkSize:  64 * 1024,
		UserAgent:  "podstream/1.0",
	}
}

// Load returns the defaults overridden by the .env files in paths (".env"
// when none are given) and then by the process environment. Missing files
// are skipped.
func Load(paths ...string) (Config, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	file := map[string]string{}
	for _, p := range paths {
		values, err := godotenv.Read(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", p, err)
		}
		for k, v := range values {
			if _, ok := file[k]; !ok {
				file[k] = v
			}
		}
	}

	return FromLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	})
}

// FromLookup builds a Config from the defaults and the values lookup finds.
func FromLookup(lookup func(key string) (string, bool)) (Config, error) {
	cfg := Default()

	if v, ok := lookup(KeyBackend); ok {
		cfg.Backend = v
	}
	if !lo.Contains(output.Backends, cfg.Backend) {
		return Config{}, fmt.Errorf("%s: unknown backend %q, want one of %v", KeyBackend, cfg.Backend, output.Backends)
	}

	ints := []struct {
		key string
		dst *int
		min int
	}{
		{KeyDevice, &cfg.Device, 0},
		{KeySampleRate, &cfg.SampleRate, 1},
		{KeyFrames, &cfg.Frames, 1},
		{KeyChunkSize, &cfg.ChunkSize, 1},
	}
	for _, f := range ints {
		v, ok := lookup(f.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		if n < f.min {
			return Config{}, fmt.Errorf("%s: %d is below %d", f.key, n, f.min)
		}
		*f.dst = n
	}

	if v, ok := lookup(KeyCapacity); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", KeyCapacity, err)
		}
		if n == 0 {
			return Config{}, fmt.Errorf("%s: must be positive", KeyCapacity)
		}
		cfg.Capacity = n
	}

	if v, ok := lookup(KeySaveDir); ok {
		cfg.SaveDir = v
	}
	if v, ok := lookup(KeyUserAgent); ok && v != "" {
		cfg.UserAgent = v
	}
	return cfg, nil
}
