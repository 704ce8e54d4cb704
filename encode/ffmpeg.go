package encode

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// FFmpeg invokes the system ffmpeg binary to mux a still image with a WAV
// track into an mp4 clip. The still is looped for the full audio length so
// players (including mobile) can seek.
type FFmpeg struct {
	// Bin overrides the ffmpeg binary path; empty means "ffmpeg" on PATH.
	Bin string
}

func (f FFmpeg) Encode(ctx context.Context, imagePath, audioPath, outputPath string) error {
	if _, err := os.Stat(imagePath); err != nil {
		return fmt.Errorf("encode input image: %w", err)
	}
	if _, err := os.Stat(audioPath); err != nil {
		return fmt.Errorf("encode input audio: %w", err)
	}
	bin := f.Bin
	if bin == "" {
		bin = "ffmpeg"
	}
	args := []string{
		"-y",
		"-loop", "1", "-i", imagePath,
		"-i", audioPath,
		"-c:v", "libx264", "-tune", "stillimage", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k",
		"-shortest",
		outputPath,
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		// Never leave a truncated output behind for a failed mux.
		_ = os.Remove(outputPath)
		return fmt.Errorf("ffmpeg mux: %w: %s", err, tail(out, 512))
	}
	return nil
}

// tail keeps error messages bounded; ffmpeg puts the useful part last.
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
