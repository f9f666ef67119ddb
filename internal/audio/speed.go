// Package audio shells out to ffmpeg for post-processing of synthesized
// clips. These calls block and must run off the pipeline's control path.
package audio

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	minSpeed = 0.5
	maxSpeed = 2.0
)

// Processor applies ffmpeg filters to local WAV files
type Processor struct {
	ffmpegPath string
	sampleRate int
	channels   int
}

// NewProcessor creates a processor using the given ffmpeg binary
// ("ffmpeg" resolves via PATH when empty)
func NewProcessor(ffmpegPath string) *Processor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Processor{
		ffmpegPath: ffmpegPath,
		sampleRate: 24000,
		channels:   1,
	}
}

// ClampSpeed clips a speed multiplier into the atempo-supported range
func ClampSpeed(speed float64) float64 {
	return math.Min(maxSpeed, math.Max(minSpeed, speed))
}

// ApplySpeed re-encodes the file in place with the given tempo
// multiplier. A multiplier of 1.0 is a no-op.
func (p *Processor) ApplySpeed(ctx context.Context, path string, speed float64) error {
	speed = ClampSpeed(speed)
	if math.Abs(speed-1.0) < 1e-6 {
		return nil
	}

	tmpPath := filepath.Join(filepath.Dir(path), ".speed-"+filepath.Base(path))
	args := []string{
		"-y",
		"-i", path,
		"-af", fmt.Sprintf("atempo=%g", speed),
		"-ar", fmt.Sprint(p.sampleRate),
		"-ac", fmt.Sprint(p.channels),
		"-c:a", "pcm_s16le",
		tmpPath,
	}

	log.Printf("[audio] ffmpeg speed=%g file=%s", speed, path)
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ffmpeg atempo failed: %w: %s", err, tail(stderr.String(), 300))
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace audio file: %w", err)
	}
	return nil
}

// tail returns the last n bytes of s, where the useful ffmpeg error is
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
